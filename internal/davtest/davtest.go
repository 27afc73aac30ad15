// Package davtest provides helpers for writing in-memory WebDAV servers to
// test clients against.
package davtest

import (
	"encoding/xml"
	"errors"
	"mime"
	"net/http"

	"github.com/icloudmcp/go-webdav/internal"
)

// ServeError writes err as an HTTP error. An *internal.HTTPError sets the
// status code, and its DAV error, if any, is written as the XML body.
func ServeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var httpErr *internal.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if davErr := httpErr.DAVError(); davErr != nil {
			w.Header().Set("Content-Type", "text/xml; charset=\"utf-8\"")
			w.WriteHeader(code)
			w.Write([]byte(xml.Header))
			xml.NewEncoder(w).Encode(davErr)
			return
		}
	}
	http.Error(w, err.Error(), code)
}

func DecodeXMLRequest(r *http.Request, v interface{}) error {
	t, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if t != "application/xml" && t != "text/xml" {
		return internal.HTTPErrorf(http.StatusBadRequest, "davtest: expected application/xml request")
	}

	if err := xml.NewDecoder(r.Body).Decode(v); err != nil {
		return &internal.HTTPError{Code: http.StatusBadRequest, Err: err}
	}
	return nil
}

func ServeMultistatus(w http.ResponseWriter, ms *internal.Multistatus) error {
	w.Header().Add("Content-Type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write([]byte(xml.Header))
	return xml.NewEncoder(w).Encode(ms)
}

package carddav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/icloudmcp/go-webdav/internal"
	"github.com/icloudmcp/go-webdav/internal/davtest"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "app-specific-password"

	// redirectTarget is where /.well-known/carddav points to.
	redirectTarget = "/carddav/"
)

var testCreds = Credentials{Email: testEmail, Password: testPassword}

const racingCard = "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Someone Else\r\nEND:VCARD\r\n"

type reportMode int

const (
	reportSupported reportMode = iota
	// reportNotImplemented answers REPORT with 501.
	reportNotImplemented
	// reportUnsupportedFilter answers with 403 and a supported-filter
	// precondition.
	reportUnsupportedFilter
	// reportForbidden answers with a bare 403.
	reportForbidden
)

type storedContact struct {
	data []byte
	etag string
}

// testServer is an in-memory CardDAV server holding one address book.
type testServer struct {
	*httptest.Server

	// prefix is prepended to the principal, home set and address book paths.
	prefix string
	// rootAnswers makes "/" report the current user principal. Otherwise
	// clients must go through /.well-known/carddav.
	rootAnswers bool
	reportMode  reportMode
	// omitETag drops the ETag header from PUT responses.
	omitETag bool
	// volunteerAddressData adds address-data to PROPFIND responses.
	volunteerAddressData bool
	// delay is slept before each request is handled.
	delay time.Duration
	// racingCreate stores racingCard at the target of a PUT to a new
	// resource before handling it, as if another client got there first.
	racingCreate bool

	mu         sync.Mutex
	contacts   map[string]*storedContact
	nextETag   int
	requests   map[string]int
	putHeaders []http.Header
}

type testServerOption func(*testServer)

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()
	ts := &testServer{
		rootAnswers: true,
		contacts:    make(map[string]*storedContact),
		requests:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(ts)
	}
	ts.Server = httptest.NewServer(ts)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) principalPath() string { return ts.prefix + "/principals/jane/" }
func (ts *testServer) homeSetPath() string   { return ts.prefix + "/home/jane/" }
func (ts *testServer) bookPath() string      { return ts.prefix + "/home/jane/contacts/" }

func (ts *testServer) bookURL() string {
	return ts.URL + ts.bookPath()
}

// seed stores a vCard under name in the address book and returns its URL.
func (ts *testServer) seed(name, data string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	p := ts.bookPath() + name
	ts.contacts[p] = &storedContact{
		data: []byte(strings.ReplaceAll(data, "\n", "\r\n")),
		etag: ts.newETag(),
	}
	return ts.URL + p
}

func (ts *testServer) stored(uri string) *storedContact {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.contacts[strings.TrimPrefix(uri, ts.URL)]
}

func (ts *testServer) requestCount(method string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[method]
}

func (ts *testServer) newETag() string {
	ts.nextETag++
	return fmt.Sprintf(`"etag-%d"`, ts.nextETag)
}

func (ts *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ts.delay > 0 {
		time.Sleep(ts.delay)
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != testEmail || pass != testPassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="contacts"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.requests[r.Method]++

	var err error
	switch r.Method {
	case "PROPFIND":
		err = ts.propfind(w, r)
	case "REPORT":
		err = ts.report(w, r)
	case http.MethodGet:
		err = ts.get(w, r)
	case http.MethodPut:
		err = ts.put(w, r)
	case http.MethodDelete:
		err = ts.delete(w, r)
	default:
		err = internal.HTTPErrorf(http.StatusMethodNotAllowed, "unsupported method")
	}
	if err != nil {
		davtest.ServeError(w, err)
	}
}

func (ts *testServer) propfind(w http.ResponseWriter, r *http.Request) error {
	var pf internal.Propfind
	if err := davtest.DecodeXMLRequest(r, &pf); err != nil {
		return err
	}
	depth, err := internal.ParseDepth(r.Header.Get("Depth"))
	if err != nil {
		return internal.HTTPErrorf(http.StatusBadRequest, "%v", err)
	}

	p := r.URL.Path
	var resps []internal.Response
	switch {
	case p == "/.well-known/carddav":
		http.Redirect(w, r, redirectTarget, http.StatusMovedPermanently)
		return nil
	case p == "/" || p == redirectTarget:
		resp := internal.NewOKResponse(p)
		if p == "/" && !ts.rootAnswers {
			resp.EncodeProp(http.StatusNotFound, &internal.CurrentUserPrincipal{})
		} else {
			resp.EncodeProp(http.StatusOK, &internal.CurrentUserPrincipal{Href: internal.NewHref(ts.principalPath())})
		}
		resps = append(resps, *resp)
	case p == ts.principalPath():
		resp := internal.NewOKResponse(p)
		resp.EncodeProp(http.StatusOK, &addressbookHomeSet{Href: internal.NewHref(ts.homeSetPath())})
		resps = append(resps, *resp)
	case p == ts.homeSetPath():
		resp := internal.NewOKResponse(p)
		resp.EncodeProp(http.StatusOK, internal.NewResourceType(internal.CollectionName))
		resps = append(resps, *resp)
		if depth != internal.DepthZero {
			resps = append(resps, *ts.bookResponse())
		}
	case p == ts.bookPath():
		resps = append(resps, *ts.bookResponse())
		if depth != internal.DepthZero {
			for _, cp := range ts.sortedPaths() {
				resps = append(resps, *ts.contactResponse(cp, false))
			}
			// A member the user may not read is reported but never listed.
			resps = append(resps, *internal.NewErrorResponse(ts.bookPath()+"locked.vcf", http.StatusForbidden))
		}
	case ts.contacts[p] != nil:
		resps = append(resps, *ts.contactResponse(p, false))
	default:
		return internal.HTTPErrorf(http.StatusNotFound, "no resource at %v", p)
	}

	return davtest.ServeMultistatus(w, internal.NewMultistatus(resps...))
}

func (ts *testServer) bookResponse() *internal.Response {
	resp := internal.NewOKResponse(ts.bookPath())
	resp.EncodeProp(http.StatusOK, internal.NewResourceType(internal.CollectionName, addressBookName))
	resp.EncodeProp(http.StatusOK, &internal.DisplayName{Name: "Contacts"})
	resp.EncodeProp(http.StatusOK, &addressbookDescription{Description: "Default address book"})
	resp.EncodeProp(http.StatusOK, &maxResourceSize{Size: 256 * 1024})
	return resp
}

func (ts *testServer) contactResponse(p string, withData bool) *internal.Response {
	sc := ts.contacts[p]
	resp := internal.NewOKResponse(p)
	resp.EncodeProp(http.StatusOK, &internal.GetETag{ETag: sc.etag})
	resp.EncodeProp(http.StatusOK, &internal.GetContentType{Type: vcardContentType})
	resp.EncodeProp(http.StatusOK, internal.NewResourceType())
	if withData || ts.volunteerAddressData {
		resp.EncodeProp(http.StatusOK, &addressDataResp{Data: sc.data})
	} else if c, err := DecodeContact(bytes.NewReader(sc.data), nil); err == nil {
		resp.EncodeProp(http.StatusOK, &internal.DisplayName{Name: c.FullName})
	}
	return resp
}

func (ts *testServer) sortedPaths() []string {
	paths := make([]string, 0, len(ts.contacts))
	for p := range ts.contacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (ts *testServer) report(w http.ResponseWriter, r *http.Request) error {
	switch ts.reportMode {
	case reportNotImplemented:
		return internal.HTTPErrorf(http.StatusNotImplemented, "REPORT not implemented")
	case reportUnsupportedFilter:
		return &internal.HTTPError{Code: http.StatusForbidden, Err: &internal.Error{
			Raw: []internal.RawXMLValue{*internal.NewRawXMLElement(xml.Name{Space: namespace, Local: "supported-filter"}, nil, nil)},
		}}
	case reportForbidden:
		return internal.HTTPErrorf(http.StatusForbidden, "forbidden")
	}

	if r.URL.Path != ts.bookPath() {
		return internal.HTTPErrorf(http.StatusNotFound, "not an address book")
	}
	var query addressbookQuery
	if err := davtest.DecodeXMLRequest(r, &query); err != nil {
		return err
	}

	var resps []internal.Response
	for _, p := range ts.sortedPaths() {
		c, err := DecodeContact(bytes.NewReader(ts.contacts[p].data), &DecodeOptions{PreserveUnknown: true})
		if err != nil {
			return err
		}
		ok, err := matchFilter(query.Filter, c)
		if err != nil {
			return internal.HTTPErrorf(http.StatusBadRequest, "%v", err)
		} else if ok {
			resps = append(resps, *ts.contactResponse(p, true))
		}
	}
	return davtest.ServeMultistatus(w, internal.NewMultistatus(resps...))
}

func (ts *testServer) get(w http.ResponseWriter, r *http.Request) error {
	sc := ts.contacts[r.URL.Path]
	if sc == nil {
		return internal.HTTPErrorf(http.StatusNotFound, "no contact at %v", r.URL.Path)
	}
	w.Header().Set("Content-Type", vcardContentType)
	w.Header().Set("ETag", sc.etag)
	w.Write(sc.data)
	return nil
}

func (ts *testServer) put(w http.ResponseWriter, r *http.Request) error {
	ts.putHeaders = append(ts.putHeaders, r.Header.Clone())

	p := r.URL.Path
	if !strings.HasPrefix(p, ts.bookPath()) || p == ts.bookPath() {
		return internal.HTTPErrorf(http.StatusForbidden, "not inside the address book")
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), vcard.MIMEType) {
		return internal.HTTPErrorf(http.StatusUnsupportedMediaType, "expected a vCard")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	for i, l := range strings.Split(string(data), "\r\n") {
		if len(l) > maxLineOctets {
			return internal.HTTPErrorf(http.StatusBadRequest, "line %v longer than %v octets", i+1, maxLineOctets)
		}
	}
	if _, err := DecodeContact(bytes.NewReader(data), nil); err != nil {
		return internal.HTTPErrorf(http.StatusBadRequest, "%v", err)
	}

	existing := ts.contacts[p]
	if ts.racingCreate && existing == nil {
		existing = &storedContact{data: []byte(racingCard), etag: ts.newETag()}
		ts.contacts[p] = existing
	}
	if r.Header.Get("If-None-Match") == "*" && existing != nil {
		return internal.HTTPErrorf(http.StatusPreconditionFailed, "resource exists")
	}
	if im := r.Header.Get("If-Match"); im != "" && (existing == nil || existing.etag != im) {
		return internal.HTTPErrorf(http.StatusPreconditionFailed, "ETag mismatch")
	}

	sc := &storedContact{data: data, etag: ts.newETag()}
	ts.contacts[p] = sc
	if !ts.omitETag {
		w.Header().Set("ETag", sc.etag)
	}
	if existing == nil {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func (ts *testServer) delete(w http.ResponseWriter, r *http.Request) error {
	p := r.URL.Path
	existing := ts.contacts[p]
	if existing == nil {
		return internal.HTTPErrorf(http.StatusNotFound, "no contact at %v", p)
	}
	if im := r.Header.Get("If-Match"); im != "" && existing.etag != im {
		return internal.HTTPErrorf(http.StatusPreconditionFailed, "ETag mismatch")
	}
	delete(ts.contacts, p)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

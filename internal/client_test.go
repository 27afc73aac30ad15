package internal_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/icloudmcp/go-webdav/internal"
	"github.com/icloudmcp/go-webdav/internal/davtest"
)

func newTestClient(t *testing.T, h http.Handler, opts *internal.Options) (*internal.Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	hc := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	c, err := internal.NewClient(hc, ts.URL, opts)
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}
	return c, ts
}

func TestNewClient(t *testing.T) {
	for _, endpoint := range []string{"", "/relative", "example.com/dav"} {
		if _, err := internal.NewClient(nil, endpoint, nil); err == nil {
			t.Errorf("NewClient(%q) succeeded, want an error", endpoint)
		}
	}
}

func TestClient_ResolveHref(t *testing.T) {
	c, err := internal.NewClient(nil, "https://contacts.icloud.com/dav", nil)
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}

	for _, tc := range []struct {
		href string
		want string
	}{
		{"", "https://contacts.icloud.com/dav"},
		{"/", "https://contacts.icloud.com/"},
		{"principals", "https://contacts.icloud.com/dav/principals"},
		{"/.well-known/carddav", "https://contacts.icloud.com/.well-known/carddav"},
		{"principals/", "https://contacts.icloud.com/dav/principals/"},
		{"card/a.vcf", "https://contacts.icloud.com/dav/card/a.vcf"},
		{"https://p42-contacts.icloud.com/123/carddavhome/", "https://p42-contacts.icloud.com/123/carddavhome/"},
	} {
		if got := c.ResolveHref(tc.href).String(); got != tc.want {
			t.Errorf("ResolveHref(%q) = %v, want %v", tc.href, got, tc.want)
		}
	}
}

func TestClient_Send_redirect(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		body   string
		depth  string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/old/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/moved/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/new/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, body, depth = r.Method, string(b), r.Header.Get("Depth")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Location", "a.vcf")
		w.WriteHeader(http.StatusCreated)
	})
	c, ts := newTestClient(t, mux, nil)

	h := make(http.Header)
	internal.DepthOne.Apply(h)
	res, err := c.Send(context.Background(), "PROPFIND", "/old/", h, []byte("<propfind/>"))
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != "PROPFIND" || body != "<propfind/>" || depth != "1" {
		t.Errorf("redirected request = %v %q Depth: %q, want PROPFIND with the original body and headers", method, body, depth)
	}
	if res.StatusCode != http.StatusCreated {
		t.Errorf("Result.StatusCode = %v, want %v", res.StatusCode, http.StatusCreated)
	}
	if res.ETag != `"abc"` {
		t.Errorf("Result.ETag = %v, want %q", res.ETag, `"abc"`)
	}
	if want := ts.URL + "/new/"; res.URL.String() != want {
		t.Errorf("Result.URL = %v, want %v", res.URL, want)
	}
	if want := ts.URL + "/new/a.vcf"; res.Location == nil || res.Location.String() != want {
		t.Errorf("Result.Location = %v, want %v", res.Location, want)
	}
}

func TestClient_Send_redirectLimit(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}), nil)

	_, err := c.Send(context.Background(), http.MethodGet, "/loop", nil, nil)
	if code := internal.HTTPErrorCode(err); code != http.StatusFound {
		t.Fatalf("Send() = %v, want a %v HTTPError", err, http.StatusFound)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != internal.MaxRedirects+1 {
		t.Errorf("server saw %v requests, want %v", count, internal.MaxRedirects+1)
	}
}

func TestClient_Send_errorBody(t *testing.T) {
	long := strings.Repeat("x", 5000)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, long, http.StatusInternalServerError)
	}), nil)

	_, err := c.Send(context.Background(), http.MethodGet, "/", nil, nil)
	httpErr, ok := err.(*internal.HTTPError)
	if !ok {
		t.Fatalf("Send() = %v, want an *HTTPError", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("HTTPError.Code = %v, want %v", httpErr.Code, http.StatusInternalServerError)
	}
	if len(httpErr.Body) != internal.MaxErrorBody {
		t.Errorf("len(HTTPError.Body) = %v, want %v", len(httpErr.Body), internal.MaxErrorBody)
	}
	if !strings.HasSuffix(httpErr.Error(), "[…]") {
		t.Errorf("HTTPError.Error() = %q, want a truncation marker", httpErr.Error())
	}
}

func TestClient_Send_davError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		davtest.ServeError(w, &internal.HTTPError{Code: http.StatusForbidden, Err: &internal.Error{
			Raw: []internal.RawXMLValue{*internal.NewRawXMLElement(xml.Name{Space: "urn:ietf:params:xml:ns:carddav", Local: "supported-filter"}, nil, nil)},
		}})
	}), nil)

	_, err := c.Send(context.Background(), "REPORT", "/", nil, nil)
	httpErr, ok := err.(*internal.HTTPError)
	if !ok {
		t.Fatalf("Send() = %v, want an *HTTPError", err)
	}
	davErr := httpErr.DAVError()
	if davErr == nil {
		t.Fatalf("HTTPError.DAVError() = nil")
	}
	conds := davErr.Conditions()
	if len(conds) != 1 || conds[0].Local != "supported-filter" {
		t.Errorf("Error.Conditions() = %v, want [supported-filter]", conds)
	}
}

func TestClient_Propfind(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)

	c, ts := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pf internal.Propfind
		if err := davtest.DecodeXMLRequest(r, &pf); err != nil {
			davtest.ServeError(w, err)
			return
		}
		if pf.Prop == nil || len(pf.Prop.Raw) != 1 {
			davtest.ServeError(w, internal.HTTPErrorf(http.StatusBadRequest, "expected one property"))
			return
		}
		resp := internal.NewOKResponse(r.URL.Path)
		resp.EncodeProp(http.StatusOK, &internal.DisplayName{Name: "Contacts"})
		davtest.ServeMultistatus(w, internal.NewMultistatus(*resp))
	}), &internal.Options{Logger: logger})

	resp, err := c.PropfindFlat(context.Background(), "/contacts/", internal.NewPropNamePropfind(internal.DisplayNameName))
	if err != nil {
		t.Fatalf("PropfindFlat() = %v", err)
	}
	var name internal.DisplayName
	if err := resp.DecodeProp(&name); err != nil {
		t.Fatalf("DecodeProp() = %v", err)
	}
	if name.Name != "Contacts" {
		t.Errorf("DisplayName = %q, want %q", name.Name, "Contacts")
	}

	for _, want := range []string{`"method":"PROPFIND"`, `"url":"` + ts.URL + `/contacts/"`, `"status":207`} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log %q does not contain %v", logs.String(), want)
		}
	}
}

func TestClient_DoMultiStatus_notMultiStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), nil)

	if _, err := c.Propfind(context.Background(), "/", internal.DepthZero, internal.NewPropNamePropfind(internal.DisplayNameName)); err == nil {
		t.Fatalf("Propfind() succeeded on a 200 reply")
	}
}

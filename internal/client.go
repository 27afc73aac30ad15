package internal

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// maxRedirects bounds the number of hops followed for a single exchange.
	maxRedirects = 5
	// maxBodySize caps the size of a response body read into memory.
	maxBodySize = 10 << 20
	// maxErrorBody caps the response body kept in an HTTPError.
	maxErrorBody = 1024
)

// HTTPClient performs HTTP requests. It's implemented by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client. The zero value is valid.
type Options struct {
	// Logger receives one debug event per exchange.
	Logger zerolog.Logger
	// Timeout bounds each exchange, redirects included. Zero disables it.
	Timeout time.Duration
}

type Client struct {
	http     HTTPClient
	endpoint *url.URL
	logger   zerolog.Logger
	timeout  time.Duration
}

func NewClient(c HTTPClient, endpoint string, opts *Options) (*Client, error) {
	if c == nil {
		c = http.DefaultClient
	}
	if opts == nil {
		opts = &Options{Logger: zerolog.Nop()}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webdav: endpoint %q is not an absolute URL", endpoint)
	}
	if u.Path == "" {
		// This is important to avoid issues with path.Join
		u.Path = "/"
	}
	return &Client{http: c, endpoint: u, logger: opts.Logger, timeout: opts.Timeout}, nil
}

// ResolveHref resolves an absolute URL, an absolute path or a path relative
// to the endpoint into an absolute URL.
func (c *Client) ResolveHref(p string) *url.URL {
	if p == "" {
		u := *c.endpoint
		return &u
	}
	if u, err := url.Parse(p); err == nil && u.IsAbs() {
		return u
	}
	if !strings.HasPrefix(p, "/") {
		trailingSlash := strings.HasSuffix(p, "/")
		p = path.Join(c.endpoint.Path, p)
		if trailingSlash && !strings.HasSuffix(p, "/") {
			p += "/"
		}
	}
	return &url.URL{
		Scheme: c.endpoint.Scheme,
		User:   c.endpoint.User,
		Host:   c.endpoint.Host,
		Path:   p,
	}
}

// Result is the outcome of a successful exchange.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// ETag is the entity tag header, verbatim.
	ETag string
	// Location is the Location header resolved against the request URL, or
	// nil when absent.
	Location *url.URL
	// URL is the URL the final response was served from.
	URL *url.URL
}

// Send performs one exchange. Redirects are followed with the same method,
// headers and body. Any final status of 300 or above is returned as an
// *HTTPError.
func (c *Client) Send(ctx context.Context, method, target string, header http.Header, body []byte) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.ResolveHref(target)
	for hop := 0; ; hop++ {
		start := time.Now()
		resp, err := c.do(ctx, method, u, header, body)
		if err != nil {
			c.logger.Debug().Err(err).Str("method", method).Str("url", u.String()).Msg("webdav request failed")
			return nil, err
		}

		c.logger.Debug().
			Str("method", method).
			Str("url", u.String()).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("webdav request")

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, &HTTPError{Code: resp.StatusCode, Err: fmt.Errorf("redirect without Location")}
			}
			if hop >= maxRedirects {
				return nil, &HTTPError{Code: resp.StatusCode, Err: fmt.Errorf("stopped after %v redirects", maxRedirects)}
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("webdav: invalid redirect location %q: %w", loc, err)
			}
			u = next
			continue
		}

		return c.readResult(resp, u)
	}
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, header http.Header, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}
	return c.http.Do(req)
}

func (c *Client) readResult(resp *http.Response, u *url.URL) (*Result, error) {
	defer resp.Body.Close()

	lr := io.LimitedReader{R: resp.Body, N: maxBodySize + 1}
	body, err := io.ReadAll(&lr)
	if err != nil {
		return nil, err
	}
	if lr.N == 0 {
		return nil, fmt.Errorf("webdav: response body exceeds %v bytes", maxBodySize)
	}

	if resp.StatusCode >= 300 {
		return nil, newHTTPError(resp, body)
	}

	res := &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		ETag:       resp.Header.Get("ETag"),
		URL:        u,
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		if l, err := u.Parse(loc); err == nil {
			res.Location = l
		}
	}
	return res, nil
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	httpErr := &HTTPError{Code: resp.StatusCode}

	snippet := body
	truncated := false
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
		truncated = true
	}
	httpErr.Body = string(snippet)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	t, _, _ := mime.ParseMediaType(contentType)
	if t == "application/xml" || t == "text/xml" {
		var davErr Error
		if err := xml.Unmarshal(body, &davErr); err == nil {
			httpErr.Err = &davErr
			return httpErr
		}
	}
	if strings.HasPrefix(t, "text/") || t == "application/xml" {
		if s := strings.TrimSpace(string(snippet)); s != "" {
			if truncated {
				s += " […]"
			}
			httpErr.Err = fmt.Errorf("%v", s)
		}
	}
	return httpErr
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// SendXML marshals v and sends it with an XML content type.
func (c *Client) SendXML(ctx context.Context, method, target string, header http.Header, v interface{}) (*Result, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	h := make(http.Header)
	for k, vs := range header {
		h[k] = vs
	}
	h.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	return c.Send(ctx, method, target, h, buf.Bytes())
}

func (c *Client) DoMultiStatus(ctx context.Context, method, target string, depth Depth, v interface{}) (*Multistatus, error) {
	h := make(http.Header)
	depth.Apply(h)

	res, err := c.SendXML(ctx, method, target, h, v)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("HTTP multi-status request failed: %v %v", res.StatusCode, http.StatusText(res.StatusCode))
	}

	var ms Multistatus
	if err := xml.Unmarshal(res.Body, &ms); err != nil {
		return nil, fmt.Errorf("webdav: malformed multi-status response: %w", err)
	}
	ms.URL = res.URL
	return &ms, nil
}

func (c *Client) Propfind(ctx context.Context, target string, depth Depth, propfind *Propfind) (*Multistatus, error) {
	return c.DoMultiStatus(ctx, "PROPFIND", target, depth, propfind)
}

// PropfindFlat performs a PROPFIND request with a zero depth.
func (c *Client) PropfindFlat(ctx context.Context, target string, propfind *Propfind) (*Response, error) {
	ms, err := c.Propfind(ctx, target, DepthZero, propfind)
	if err != nil {
		return nil, err
	}

	return ms.Get(c.ResolveHref(target))
}

// Report performs a REPORT request with the query v as its body.
func (c *Client) Report(ctx context.Context, target string, depth Depth, v interface{}) (*Multistatus, error) {
	return c.DoMultiStatus(ctx, "REPORT", target, depth, v)
}

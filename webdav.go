// Package webdav provides a WebDAV client.
//
// WebDAV is defined in RFC 4918. Only the client side needed to locate and
// manipulate address book resources is implemented.
package webdav

import (
	"net/http"

	"github.com/icloudmcp/go-webdav/internal"
)

// HTTPClient performs HTTP requests. It's implemented by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOptions configures the logging and timeout of a client. A nil
// *ClientOptions disables both.
type ClientOptions = internal.Options

// HTTPError is returned by clients when the server replies with an
// unexpected status.
type HTTPError = internal.HTTPError

// IsNotFound reports whether err denotes a missing resource.
func IsNotFound(err error) bool {
	return internal.IsNotFound(err)
}

type basicAuthHTTPClient struct {
	c                  HTTPClient
	username, password string
}

func (c *basicAuthHTTPClient) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(c.username, c.password)
	return c.c.Do(req)
}

// HTTPClientWithBasicAuth returns an HTTP client that adds basic
// authentication to all outgoing requests. If c is nil, http.DefaultClient is
// used.
func HTTPClientWithBasicAuth(c HTTPClient, username, password string) HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &basicAuthHTTPClient{c, username, password}
}

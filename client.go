package webdav

import (
	"context"
	"fmt"

	"github.com/icloudmcp/go-webdav/internal"
)

// Client provides access to a remote WebDAV server.
type Client struct {
	ic *internal.Client
}

func NewClient(c HTTPClient, endpoint string, opts *ClientOptions) (*Client, error) {
	ic, err := internal.NewClient(c, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &Client{ic}, nil
}

// FindCurrentUserPrincipal asks the endpoint for the principal URL of the
// authenticated user, as described in RFC 5397.
func (c *Client) FindCurrentUserPrincipal(ctx context.Context) (string, error) {
	return c.FindCurrentUserPrincipalAt(ctx, "")
}

// FindCurrentUserPrincipalAt is like FindCurrentUserPrincipal, but queries
// target instead of the endpoint. The returned principal is an absolute URL.
func (c *Client) FindCurrentUserPrincipalAt(ctx context.Context, target string) (string, error) {
	ms, err := c.ic.Propfind(ctx, target, internal.DepthZero, currentUserPrincipalPropfind)
	if err != nil {
		return "", err
	}
	resp, err := ms.Get(c.ic.ResolveHref(target))
	if err != nil {
		return "", err
	}

	var prop internal.CurrentUserPrincipal
	if err := resp.DecodeProp(&prop); err != nil {
		return "", err
	}
	if prop.Unauthenticated != nil {
		return "", fmt.Errorf("webdav: unauthenticated")
	}
	if prop.Href.Path == "" {
		return "", fmt.Errorf("webdav: empty current-user-principal href")
	}

	return ms.URL.ResolveReference(prop.Href.URL()).String(), nil
}

package carddav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/icloudmcp/go-webdav"
	"github.com/icloudmcp/go-webdav/internal"
)

// Session is an authenticated connection to a CardDAV server. A directory
// operation opens one session and closes it before returning.
type Session struct {
	*webdav.Client

	ic     *internal.Client
	logger zerolog.Logger
	closer interface{ CloseIdleConnections() }
}

// NewSession creates a session talking to endpoint through c. Requests are
// sent as is: c must add authentication.
func NewSession(c webdav.HTTPClient, endpoint string, opts *webdav.ClientOptions) (*Session, error) {
	if opts == nil {
		opts = &webdav.ClientOptions{Logger: zerolog.Nop()}
	}
	wc, err := webdav.NewClient(c, endpoint, opts)
	if err != nil {
		return nil, err
	}
	ic, err := internal.NewClient(c, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &Session{Client: wc, ic: ic, logger: opts.Logger}, nil
}

// Close releases the connections held by the session.
func (s *Session) Close() {
	if s.closer != nil {
		s.closer.CloseIdleConnections()
	}
}

func (s *Session) FindAddressBookHomeSet(ctx context.Context, principal string) (string, error) {
	propfind := internal.NewPropNamePropfind(addressBookHomeSetName)
	ms, err := s.ic.Propfind(ctx, principal, internal.DepthZero, propfind)
	if err != nil {
		return "", err
	}
	resp, err := ms.Get(s.ic.ResolveHref(principal))
	if err != nil {
		return "", err
	}

	var prop addressbookHomeSet
	if err := resp.DecodeProp(&prop); err != nil {
		return "", err
	}
	if prop.Href.Path == "" {
		return "", fmt.Errorf("carddav: empty addressbook-home-set href")
	}

	return ms.URL.ResolveReference(prop.Href.URL()).String(), nil
}

func (s *Session) FindAddressBooks(ctx context.Context, addressBookHomeSet string) ([]AddressBook, error) {
	propfind := internal.NewPropNamePropfind(
		internal.ResourceTypeName,
		internal.DisplayNameName,
		addressBookDescriptionName,
		maxResourceSizeName,
	)
	ms, err := s.ic.Propfind(ctx, addressBookHomeSet, internal.DepthOne, propfind)
	if err != nil {
		return nil, err
	}

	l := make([]AddressBook, 0, len(ms.Responses))
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		if resp.Err() != nil {
			continue
		}
		u, err := resp.URL(ms.URL)
		if err != nil {
			return nil, err
		}

		var resType internal.ResourceType
		if err := resp.DecodeProp(&resType); err != nil {
			if internal.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !resType.Is(addressBookName) {
			continue
		}

		var desc addressbookDescription
		if err := resp.DecodeProp(&desc); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var dispName internal.DisplayName
		if err := resp.DecodeProp(&dispName); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}

		var maxResSize maxResourceSize
		if err := resp.DecodeProp(&maxResSize); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}
		if maxResSize.Size < 0 {
			return nil, fmt.Errorf("carddav: max-resource-size must be a positive integer")
		}

		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		l = append(l, AddressBook{
			URL:             u.String(),
			Name:            dispName.Name,
			Description:     desc.Description,
			MaxResourceSize: maxResSize.Size,
		})
	}

	return l, nil
}

// newTransportClient returns an HTTP client backed by a transport of its own,
// so that closing the session drops every connection it opened. Redirects are
// returned to the caller, which re-issues WebDAV methods unchanged.
func newTransportClient(timeout time.Duration) (*http.Client, *http.Transport) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Transport: t,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, t
}

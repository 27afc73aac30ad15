package carddav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/icloudmcp/go-webdav"
	"github.com/icloudmcp/go-webdav/internal"
)

const (
	DefaultEndpoint          = "https://contacts.icloud.com"
	DefaultTimeout           = 30 * time.Second
	DefaultSearchConcurrency = 4
)

const vcardContentType = vcard.MIMEType + "; charset=utf-8"

// Client performs directory operations on the address book of the user
// whose credentials are passed to each call. It holds configuration only and
// is safe for concurrent use.
type Client struct {
	endpoint          string
	httpClient        webdav.HTTPClient
	timeout           time.Duration
	logger            zerolog.Logger
	searchConcurrency int
}

type Option func(*Client)

// WithHTTPClient makes the client send requests through c instead of a
// transport opened for each operation. Redirects followed by c itself are
// not re-issued with the original method.
func WithHTTPClient(c webdav.HTTPClient) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout bounds each HTTP exchange. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithSearchConcurrency sets how many contacts a search fetches in parallel
// when the server can't run the query itself.
func WithSearchConcurrency(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.searchConcurrency = n
		}
	}
}

func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("carddav: invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("carddav: endpoint %q is not an HTTP URL", endpoint)
	}

	c := &Client{
		endpoint:          endpoint,
		timeout:           DefaultTimeout,
		logger:            zerolog.Nop(),
		searchConcurrency: DefaultSearchConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) openSession(creds Credentials) (*Session, error) {
	hc := c.httpClient
	var transport *http.Transport
	if hc == nil {
		hc, transport = newTransportClient(c.timeout)
	}
	hc = webdav.HTTPClientWithBasicAuth(hc, creds.Email, creds.Password)

	s, err := NewSession(hc, c.endpoint, &webdav.ClientOptions{Logger: c.logger, Timeout: c.timeout})
	if err != nil {
		return nil, err
	}
	if transport != nil {
		s.closer = transport
	}
	return s, nil
}

// begin opens a session and locates the address book. On success the
// caller must close the session.
func (c *Client) begin(ctx context.Context, creds Credentials) (*Session, *AddressBook, error) {
	s, err := c.openSession(creds)
	if err != nil {
		return nil, nil, err
	}
	ab, err := s.FindAddressBook(ctx)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, ab, nil
}

// List returns a summary of every contact: URI, ETag and full name.
func (c *Client) List(ctx context.Context, creds Credentials) ([]Contact, error) {
	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.listContacts(ctx, ab)
}

// Get fetches a contact. Properties without a Contact field are kept in
// Contact.Extra, so that an Update of the result preserves them.
func (c *Client) Get(ctx context.Context, creds Credentials, uri string) (*Contact, error) {
	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	u, err := ab.resolve(uri)
	if err != nil {
		return nil, err
	}
	return s.getContact(ctx, u, &DecodeOptions{PreserveUnknown: true})
}

// Search returns the contacts whose full name, phone numbers, email
// addresses or organization contain query, ignoring case. An empty query
// returns the same contacts as List.
//
// The query is run by the server with an addressbook-query REPORT. Servers
// rejecting the REPORT get every contact fetched and filtered locally.
func (c *Client) Search(ctx context.Context, creds Credentials, query string) ([]Contact, error) {
	if query == "" {
		return c.List(ctx, creds)
	}

	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	contacts, err := s.queryContacts(ctx, ab, query)
	if err == nil {
		return Filter(query, contacts), nil
	}
	if !isUnsupportedReport(err) {
		return nil, mapError(ctx, err, nil, nil)
	}
	c.logger.Info().Err(err).Str("address_book", ab.URL).Msg("server rejected addressbook-query, searching client-side")

	summaries, err := s.listContacts(ctx, ab)
	if err != nil {
		return nil, err
	}
	contacts, err = s.getContacts(ctx, summaries, c.searchConcurrency)
	if err != nil {
		return nil, err
	}
	return Filter(query, contacts), nil
}

// Create stores a new contact under a fresh resource name and returns it
// with URI and ETag set. The contact's UID defaults to the identifier the
// resource is named after.
func (c *Client) Create(ctx context.Context, creds Credentials, contact *Contact) (*Contact, error) {
	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	base, err := ab.collectionURL()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	target := base.ResolveReference(&url.URL{Path: id + ".vcf"})

	out := *contact
	out.URI, out.ETag = "", ""
	if out.UID == "" {
		out.UID = id
	}

	h := make(http.Header)
	h.Set("If-None-Match", "*")
	res, err := s.putContact(ctx, target, &out, h)
	if err != nil {
		return nil, mapError(ctx, err, nil, ErrConflict)
	}

	out.URI = target.String()
	if res.Location != nil {
		out.URI = res.Location.String()
	}
	if out.ETag, err = s.resultETag(ctx, res, out.URI); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces a contact read earlier with Get. The write is conditional
// on contact.ETag: ErrConflict is returned when the contact was changed or
// deleted since. The returned contact carries the new ETag.
func (c *Client) Update(ctx context.Context, creds Credentials, contact *Contact) (*Contact, error) {
	if contact.ETag == "" {
		return nil, ErrETagRequired
	}

	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	u, err := ab.resolve(contact.URI)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("If-Match", contact.ETag)
	res, err := s.putContact(ctx, u, contact, h)
	if err != nil {
		// A missing resource is a version the caller no longer holds.
		return nil, mapError(ctx, err, ErrConflict, ErrConflict)
	}

	out := *contact
	if out.ETag, err = s.resultETag(ctx, res, u.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a contact. With a non-empty etag the removal is
// conditional and fails with ErrConflict if the contact changed. Deleting a
// missing contact succeeds.
func (c *Client) Delete(ctx context.Context, creds Credentials, uri, etag string) error {
	s, ab, err := c.begin(ctx, creds)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := ab.resolve(uri)
	if err != nil {
		return err
	}

	h := make(http.Header)
	if etag != "" {
		h.Set("If-Match", etag)
	}
	_, err = s.ic.Send(ctx, http.MethodDelete, u.String(), h, nil)
	if internal.IsNotFound(err) {
		return nil
	}
	return mapError(ctx, err, nil, ErrConflict)
}

var listPropfind = internal.NewPropNamePropfind(
	internal.GetETagName,
	internal.GetContentTypeName,
	internal.ResourceTypeName,
	internal.DisplayNameName,
	addressDataName,
)

func (s *Session) listContacts(ctx context.Context, ab *AddressBook) ([]Contact, error) {
	ms, err := s.ic.Propfind(ctx, ab.URL, internal.DepthOne, listPropfind)
	if err != nil {
		return nil, mapError(ctx, err, nil, nil)
	}

	contacts := make([]Contact, 0, len(ms.Responses))
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		if resp.Err() != nil {
			continue
		}
		u, err := resp.URL(ms.URL)
		if err != nil {
			return nil, err
		}
		if !isContactResponse(resp) {
			continue
		}

		contact := Contact{URI: u.String()}
		props := resp.Props()
		if raw := props[internal.GetETagName]; raw != nil {
			contact.ETag = raw.Text()
		}
		if raw := props[addressDataName]; raw != nil && raw.Text() != "" {
			card, err := DecodeContact(bytes.NewReader([]byte(raw.Text())), nil)
			if err != nil {
				return nil, fmt.Errorf("carddav: contact %v: %w", contact.URI, err)
			}
			contact.FullName = card.FullName
		}
		if contact.FullName == "" {
			if raw := props[internal.DisplayNameName]; raw != nil {
				contact.FullName = raw.Text()
			}
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// isContactResponse reports whether a multistatus response describes a
// vCard resource, as opposed to the collection itself or another kind of
// member.
func isContactResponse(resp *internal.Response) bool {
	props := resp.Props()
	if raw := props[internal.ResourceTypeName]; raw != nil {
		var rt internal.ResourceType
		if err := raw.Decode(&rt); err == nil && (rt.Is(internal.CollectionName) || rt.Is(addressBookName)) {
			return false
		}
	}
	if raw := props[internal.GetContentTypeName]; raw != nil && raw.Text() != "" {
		t, _, err := mime.ParseMediaType(raw.Text())
		if err != nil {
			return false
		}
		switch t {
		case vcard.MIMEType, "text/x-vcard", "text/directory":
		default:
			return false
		}
	}
	return true
}

func (s *Session) getContact(ctx context.Context, u *url.URL, opts *DecodeOptions) (*Contact, error) {
	h := make(http.Header)
	h.Set("Accept", vcard.MIMEType)
	res, err := s.ic.Send(ctx, http.MethodGet, u.String(), h, nil)
	if err != nil {
		return nil, mapError(ctx, err, ErrNotFound, nil)
	}

	contact, err := DecodeContact(bytes.NewReader(res.Body), opts)
	if err != nil {
		return nil, err
	}
	contact.URI = u.String()
	if contact.ETag, err = s.resultETag(ctx, res, contact.URI); err != nil {
		return nil, err
	}
	return contact, nil
}

// getContacts fetches the contacts listed in summaries, at most limit at a
// time. Contacts deleted in the meantime are skipped. Order is preserved.
func (s *Session) getContacts(ctx context.Context, summaries []Contact, limit int) ([]Contact, error) {
	results := make([]*Contact, len(summaries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range summaries {
		i := i
		g.Go(func() error {
			u, err := url.Parse(summaries[i].URI)
			if err != nil {
				return err
			}
			contact, err := s.getContact(gctx, u, nil)
			if errors.Is(err, ErrNotFound) {
				return nil
			} else if err != nil {
				return err
			}
			results[i] = contact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	contacts := make([]Contact, 0, len(results))
	for _, contact := range results {
		if contact != nil {
			contacts = append(contacts, *contact)
		}
	}
	return contacts, nil
}

func (s *Session) queryContacts(ctx context.Context, ab *AddressBook, text string) ([]Contact, error) {
	prop, err := internal.EncodeProp(
		&internal.GetETag{},
		&addressDataReq{},
	)
	if err != nil {
		return nil, err
	}
	query := addressbookQuery{
		Prop:   prop,
		Filter: newSearchFilter(text),
	}

	ms, err := s.ic.Report(ctx, ab.URL, internal.DepthOne, &query)
	if err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(ms.Responses))
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		if resp.Err() != nil {
			continue
		}
		u, err := resp.URL(ms.URL)
		if err != nil {
			return nil, err
		}

		var addrData addressDataResp
		if err := resp.DecodeProp(&addrData); internal.IsNotFound(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		contact, err := DecodeContact(bytes.NewReader(addrData.Data), nil)
		if err != nil {
			return nil, err
		}
		contact.URI = u.String()

		var etag internal.GetETag
		if err := resp.DecodeProp(&etag); err != nil && !internal.IsNotFound(err) {
			return nil, err
		}
		contact.ETag = strings.TrimSpace(etag.ETag)

		contacts = append(contacts, *contact)
	}
	return contacts, nil
}

func (s *Session) putContact(ctx context.Context, u *url.URL, contact *Contact, h http.Header) (*internal.Result, error) {
	body, err := encodeContactBytes(contact)
	if err != nil {
		return nil, err
	}
	h.Set("Content-Type", vcardContentType)
	return s.ic.Send(ctx, http.MethodPut, u.String(), h, body)
}

// resultETag returns the ETag of a response, asking the server for the
// getetag property of uri when the header is absent. Servers may omit both,
// in which case the ETag is empty.
func (s *Session) resultETag(ctx context.Context, res *internal.Result, uri string) (string, error) {
	if res.ETag != "" {
		return res.ETag, nil
	}

	propfind := internal.NewPropNamePropfind(internal.GetETagName)
	resp, err := s.ic.PropfindFlat(ctx, uri, propfind)
	if err != nil {
		return "", mapError(ctx, err, ErrNotFound, nil)
	}
	var etag internal.GetETag
	if err := resp.DecodeProp(&etag); internal.IsNotFound(err) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return strings.TrimSpace(etag.ETag), nil
}

package internal

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Namespace is the WebDAV XML namespace.
const Namespace = "DAV:"

var (
	ResourceTypeName         = xml.Name{Space: Namespace, Local: "resourcetype"}
	DisplayNameName          = xml.Name{Space: Namespace, Local: "displayname"}
	GetContentTypeName       = xml.Name{Space: Namespace, Local: "getcontenttype"}
	GetETagName              = xml.Name{Space: Namespace, Local: "getetag"}
	CurrentUserPrincipalName = xml.Name{Space: Namespace, Local: "current-user-principal"}

	CollectionName = xml.Name{Space: Namespace, Local: "collection"}
)

// https://tools.ietf.org/html/rfc4918#section-14.16
type Multistatus struct {
	XMLName             xml.Name   `xml:"DAV: multistatus"`
	Responses           []Response `xml:"DAV: response"`
	ResponseDescription string     `xml:"DAV: responsedescription,omitempty"`

	// URL is the URL the multistatus was served from, after redirects. Hrefs
	// are relative to it.
	URL *url.URL `xml:"-"`
}

func NewMultistatus(resps ...Response) *Multistatus {
	return &Multistatus{Responses: resps}
}

// Get returns the response for the resource at u. Hrefs are compared by path,
// ignoring a trailing slash. A multistatus holding a single response is
// assumed to describe u, since servers disagree on href normalization.
func (ms *Multistatus) Get(u *url.URL) (*Response, error) {
	base := ms.URL
	if base == nil {
		base = u
	}
	want := strings.TrimSuffix(u.Path, "/")
	for i := range ms.Responses {
		resp := &ms.Responses[i]
		for _, h := range resp.Hrefs {
			got := base.ResolveReference(h.URL())
			if strings.TrimSuffix(got.Path, "/") == want {
				return resp, resp.Err()
			}
		}
	}
	if len(ms.Responses) == 1 {
		resp := &ms.Responses[0]
		return resp, resp.Err()
	}
	return nil, fmt.Errorf("webdav: missing response for path %q", u.Path)
}

// https://tools.ietf.org/html/rfc4918#section-14.24
type Response struct {
	XMLName             xml.Name   `xml:"DAV: response"`
	Hrefs               []Href     `xml:"DAV: href"`
	Propstats           []Propstat `xml:"DAV: propstat,omitempty"`
	ResponseDescription string     `xml:"DAV: responsedescription,omitempty"`
	Status              *Status    `xml:"DAV: status,omitempty"`
	Error               *Error     `xml:"DAV: error,omitempty"`
}

func NewOKResponse(href string) *Response {
	return &Response{Hrefs: []Href{NewHref(href)}}
}

func NewErrorResponse(href string, code int) *Response {
	return &Response{
		Hrefs:  []Href{NewHref(href)},
		Status: &Status{Code: code},
	}
}

// Err returns the error carried by the response-level status, if any.
func (resp *Response) Err() error {
	if resp.Status == nil || resp.Status.Code/100 == 2 {
		return nil
	}
	var err error
	if resp.Error != nil {
		err = resp.Error
	}
	if resp.ResponseDescription != "" {
		if err != nil {
			err = fmt.Errorf("%v (%w)", resp.ResponseDescription, err)
		} else {
			err = fmt.Errorf("%v", resp.ResponseDescription)
		}
	}
	return &HTTPError{Code: resp.Status.Code, Err: err}
}

// URL returns the single href of the response, resolved against base.
func (resp *Response) URL(base *url.URL) (*url.URL, error) {
	if len(resp.Hrefs) != 1 {
		return nil, fmt.Errorf("webdav: malformed response: expected exactly one href element, got %v", len(resp.Hrefs))
	}
	return base.ResolveReference(resp.Hrefs[0].URL()), nil
}

// Props returns the properties the server reported with a 2xx status, keyed
// by their namespace-qualified name. Properties reported as missing or
// forbidden are absent from the map.
func (resp *Response) Props() map[xml.Name]*RawXMLValue {
	props := make(map[xml.Name]*RawXMLValue)
	for i := range resp.Propstats {
		propstat := &resp.Propstats[i]
		if !propstat.Status.ok() {
			continue
		}
		for j := range propstat.Prop.Raw {
			raw := &propstat.Prop.Raw[j]
			if name, ok := raw.XMLName(); ok {
				props[name] = raw
			}
		}
	}
	return props
}

// DecodeProp decodes the property named after v's XMLName into v. A property
// the server did not report yields an error matched by IsNotFound.
func (resp *Response) DecodeProp(values ...interface{}) error {
	for _, v := range values {
		name, err := valueXMLName(v)
		if err != nil {
			return err
		}
		if err := resp.Err(); err != nil {
			return newPropError(name, err)
		}
		if err := resp.decodeProp(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (resp *Response) decodeProp(name xml.Name, v interface{}) error {
	for i := range resp.Propstats {
		propstat := &resp.Propstats[i]
		raw := propstat.Prop.Get(name)
		if raw == nil {
			continue
		}
		if !propstat.Status.ok() {
			return newPropError(name, &HTTPError{Code: propstat.Status.Code})
		}
		if err := raw.Decode(v); err != nil {
			return newPropError(name, err)
		}
		return nil
	}
	return newPropError(name, &HTTPError{Code: http.StatusNotFound, Err: fmt.Errorf("missing property")})
}

// EncodeProp adds v to the response under the given status code.
func (resp *Response) EncodeProp(code int, v interface{}) error {
	raw, err := EncodeRawXMLElement(v)
	if err != nil {
		return err
	}

	for i := range resp.Propstats {
		propstat := &resp.Propstats[i]
		if propstat.Status.Code == code {
			propstat.Prop.Raw = append(propstat.Prop.Raw, *raw)
			return nil
		}
	}

	resp.Propstats = append(resp.Propstats, Propstat{
		Status: Status{Code: code},
		Prop:   Prop{Raw: []RawXMLValue{*raw}},
	})
	return nil
}

func newPropError(name xml.Name, err error) error {
	return fmt.Errorf("property <%v %v>: %w", name.Space, name.Local, err)
}

// https://tools.ietf.org/html/rfc4918#section-14.22
type Propstat struct {
	XMLName             xml.Name `xml:"DAV: propstat"`
	Prop                Prop     `xml:"DAV: prop"`
	Status              Status   `xml:"DAV: status"`
	ResponseDescription string   `xml:"DAV: responsedescription,omitempty"`
	Error               *Error   `xml:"DAV: error,omitempty"`
}

// https://tools.ietf.org/html/rfc4918#section-14.18
type Prop struct {
	XMLName xml.Name      `xml:"DAV: prop"`
	Raw     []RawXMLValue `xml:",any"`
}

func EncodeProp(values ...interface{}) (*Prop, error) {
	l := make([]RawXMLValue, len(values))
	for i, v := range values {
		raw, err := EncodeRawXMLElement(v)
		if err != nil {
			return nil, err
		}
		l[i] = *raw
	}
	return &Prop{Raw: l}, nil
}

func (p *Prop) Get(name xml.Name) *RawXMLValue {
	for i := range p.Raw {
		raw := &p.Raw[i]
		if n, ok := raw.XMLName(); ok && name == n {
			return raw
		}
	}
	return nil
}

// https://tools.ietf.org/html/rfc4918#section-14.20
type Propfind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Prop     *Prop     `xml:"DAV: prop,omitempty"`
	AllProp  *struct{} `xml:"DAV: allprop,omitempty"`
	PropName *struct{} `xml:"DAV: propname,omitempty"`
}

// NewPropNamePropfind builds a PROPFIND body requesting the named properties.
func NewPropNamePropfind(names ...xml.Name) *Propfind {
	children := make([]RawXMLValue, len(names))
	for i, name := range names {
		children[i] = *NewRawXMLElement(name, nil, nil)
	}
	return &Propfind{Prop: &Prop{Raw: children}}
}

// Status is the HTTP status line carried by multistatus elements, e.g.
// "HTTP/1.1 404 Not Found".
type Status struct {
	Code int
	Text string
}

func (s *Status) MarshalText() ([]byte, error) {
	text := s.Text
	if text == "" {
		text = http.StatusText(s.Code)
	}
	return []byte(fmt.Sprintf("HTTP/1.1 %v %v", s.Code, text)), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	line := strings.TrimSpace(string(b))
	if line == "" {
		return nil
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("webdav: invalid HTTP status %q: expected at least 2 fields", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("webdav: invalid HTTP status %q: failed to parse code: %v", line, err)
	}

	s.Code = code
	if len(parts) == 3 {
		s.Text = parts[2]
	}
	return nil
}

// ok reports whether the status denotes success. Servers omitting the status
// element are assumed to report success.
func (s *Status) ok() bool {
	return s.Code == 0 || s.Code/100 == 2
}

// https://tools.ietf.org/html/rfc4918#section-14.7
type Href url.URL

func NewHref(s string) Href {
	u, err := url.Parse(s)
	if err != nil {
		return Href{Path: s}
	}
	return Href(*u)
}

func (h *Href) URL() *url.URL {
	u := url.URL(*h)
	return &u
}

func (h *Href) String() string {
	return h.URL().String()
}

func (h *Href) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Href) UnmarshalText(b []byte) error {
	u, err := url.Parse(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*h = Href(*u)
	return nil
}

// https://tools.ietf.org/html/rfc4918#section-15.9
type ResourceType struct {
	XMLName xml.Name      `xml:"DAV: resourcetype"`
	Raw     []RawXMLValue `xml:",any"`
}

func NewResourceType(names ...xml.Name) *ResourceType {
	rt := ResourceType{Raw: make([]RawXMLValue, len(names))}
	for i, name := range names {
		rt.Raw[i] = *NewRawXMLElement(name, nil, nil)
	}
	return &rt
}

func (t *ResourceType) Is(name xml.Name) bool {
	for _, raw := range t.Raw {
		if n, ok := raw.XMLName(); ok && name == n {
			return true
		}
	}
	return false
}

// https://tools.ietf.org/html/rfc4918#section-15.2
type DisplayName struct {
	XMLName xml.Name `xml:"DAV: displayname"`
	Name    string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc4918#section-15.5
type GetContentType struct {
	XMLName xml.Name `xml:"DAV: getcontenttype"`
	Type    string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc4918#section-15.6
//
// The entity tag is kept verbatim, quotes and weakness prefix included, so it
// can be sent back in If-Match unchanged.
type GetETag struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc5397#section-3
type CurrentUserPrincipal struct {
	XMLName         xml.Name  `xml:"DAV: current-user-principal"`
	Href            Href      `xml:"DAV: href,omitempty"`
	Unauthenticated *struct{} `xml:"DAV: unauthenticated,omitempty"`
}

// https://tools.ietf.org/html/rfc4918#section-14.5
type Error struct {
	XMLName xml.Name      `xml:"DAV: error"`
	Raw     []RawXMLValue `xml:",any"`
}

func (err *Error) Error() string {
	b, _ := xml.Marshal(err)
	return string(b)
}

// Conditions lists the precondition and postcondition codes in the error.
func (err *Error) Conditions() []xml.Name {
	var l []xml.Name
	for i := range err.Raw {
		if name, ok := err.Raw[i].XMLName(); ok {
			l = append(l, name)
		}
	}
	return l
}

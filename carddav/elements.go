package carddav

import (
	"encoding/xml"

	"github.com/icloudmcp/go-webdav/internal"
)

// https://tools.ietf.org/html/rfc6352#section-7.1.1
type addressbookHomeSet struct {
	XMLName xml.Name      `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set"`
	Href    internal.Href `xml:"DAV: href"`
}

// https://tools.ietf.org/html/rfc6352#section-6.2.1
type addressbookDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-description"`
	Description string   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc6352#section-6.2.3
type maxResourceSize struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav max-resource-size"`
	Size    int64    `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc6352#section-10.4
type addressDataReq struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
}

// https://tools.ietf.org/html/rfc6352#section-10.4
type addressDataResp struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	Data    []byte   `xml:",chardata"`
}

// https://tools.ietf.org/html/rfc6352#section-10.3
type addressbookQuery struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:carddav addressbook-query"`
	Prop    *internal.Prop `xml:"DAV: prop,omitempty"`
	Filter  filter         `xml:"urn:ietf:params:xml:ns:carddav filter"`
}

// https://tools.ietf.org/html/rfc6352#section-10.5
type filter struct {
	Test        filterTest   `xml:"test,attr,omitempty"`
	PropFilters []propFilter `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
}

type filterTest string

const (
	filterAnyOf filterTest = "anyof"
	filterAllOf filterTest = "allof"
)

// https://tools.ietf.org/html/rfc6352#section-10.5.1
type propFilter struct {
	Name        string      `xml:"name,attr"`
	Test        filterTest  `xml:"test,attr,omitempty"`
	TextMatches []textMatch `xml:"urn:ietf:params:xml:ns:carddav text-match"`
}

// https://tools.ietf.org/html/rfc6352#section-10.5.4
type textMatch struct {
	Text            string          `xml:",chardata"`
	Collation       string          `xml:"collation,attr,omitempty"`
	NegateCondition negateCondition `xml:"negate-condition,attr,omitempty"`
	MatchType       matchType       `xml:"match-type,attr,omitempty"`
}

type negateCondition bool

func (nc *negateCondition) UnmarshalText(b []byte) error {
	switch s := string(b); s {
	case "yes":
		*nc = true
	case "no", "":
		*nc = false
	default:
		return internal.HTTPErrorf(400, "carddav: invalid negate-condition value: %q", s)
	}
	return nil
}

func (nc negateCondition) MarshalText() ([]byte, error) {
	if nc {
		return []byte("yes"), nil
	}
	return nil, nil
}

type matchType string

const (
	matchEquals     matchType = "equals"
	matchContains   matchType = "contains"
	matchStartsWith matchType = "starts-with"
	matchEndsWith   matchType = "ends-with"
)

// unicodeCasemap is the collation of RFC 5051, the one CardDAV servers must
// support besides i;ascii-casemap.
const unicodeCasemap = "i;unicode-casemap"

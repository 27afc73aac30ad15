// Package carddav provides a stateless client for a CardDAV address book.
//
// CardDAV is defined in RFC 6352, vCard 3.0 in RFC 2426.
package carddav

import (
	"encoding/xml"
	"net/url"
	"path"
	"strings"
)

const namespace = "urn:ietf:params:xml:ns:carddav"

var (
	addressBookHomeSetName = xml.Name{Space: namespace, Local: "addressbook-home-set"}

	addressBookName            = xml.Name{Space: namespace, Local: "addressbook"}
	addressBookDescriptionName = xml.Name{Space: namespace, Local: "addressbook-description"}
	maxResourceSizeName        = xml.Name{Space: namespace, Local: "max-resource-size"}
	addressDataName            = xml.Name{Space: namespace, Local: "address-data"}
)

// Credentials authenticate a single directory operation.
type Credentials struct {
	Email    string
	Password string
}

// AddressBook is an address book collection found during discovery.
type AddressBook struct {
	// URL is the absolute URL of the collection, with a trailing slash.
	URL             string
	Name            string
	Description     string
	MaxResourceSize int64
}

func (ab *AddressBook) collectionURL() (*url.URL, error) {
	u, err := url.Parse(ab.URL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// resolve resolves uri, an absolute URL or a path, against the collection
// and checks that it names a resource inside it.
func (ab *AddressBook) resolve(uri string) (*url.URL, error) {
	base, err := ab.collectionURL()
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(uri)
	if err != nil || uri == "" {
		return nil, ErrForeignResource
	}
	u := base.ResolveReference(ref)

	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return nil, ErrForeignResource
	}
	if path.Clean(u.Path) != u.Path || u.Path == base.Path || !strings.HasPrefix(u.Path, base.Path) {
		return nil, ErrForeignResource
	}
	return u, nil
}

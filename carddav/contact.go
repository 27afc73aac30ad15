package carddav

import (
	"github.com/emersion/go-vcard"
)

// Contact is one vCard resource of an address book.
type Contact struct {
	// URI is the absolute URL of the resource. It is assigned on creation
	// and identifies the contact afterwards.
	URI string `json:"uri,omitempty"`
	// ETag is the entity tag of the version this value was read from, as
	// sent by the server.
	ETag string `json:"etag,omitempty"`

	FullName     string    `json:"full_name"`
	Phones       []Phone   `json:"phones,omitempty"`
	Emails       []Email   `json:"emails,omitempty"`
	Addresses    []Address `json:"addresses,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Title        string    `json:"title,omitempty"`
	UID          string    `json:"uid,omitempty"`

	// Extra holds the properties without a field above, verbatim. It is
	// only filled when decoding with DecodeOptions.PreserveUnknown.
	Extra vcard.Card `json:"extra,omitempty"`
}

type Phone struct {
	// Type holds the TYPE parameter values joined with commas, e.g.
	// "cell,voice".
	Type   string `json:"type,omitempty"`
	Number string `json:"number"`
}

type Email struct {
	Type    string `json:"type,omitempty"`
	Address string `json:"address"`
}

type Address struct {
	Type       string `json:"type,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

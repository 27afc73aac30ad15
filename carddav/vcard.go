package carddav

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-vcard"
)

const (
	vcardVersion = "3.0"
	vcardProdID  = "-//icloudmcp//go-webdav//EN"
)

// DecodeOptions controls DecodeContact.
type DecodeOptions struct {
	// PreserveUnknown keeps the properties without a Contact field in
	// Contact.Extra, so that encoding the contact again doesn't lose them.
	PreserveUnknown bool
}

// DecodeContact reads the first vCard of r.
func DecodeContact(r io.Reader, opts *DecodeOptions) (*Contact, error) {
	if opts == nil {
		opts = new(DecodeOptions)
	}

	lr := newLineReader(r)
	var (
		c              Contact
		name           []string
		seen           = make(map[string]bool)
		begun, lastNum int
	)
	for {
		s, num, err := lr.next()
		if err == io.EOF {
			if begun == 0 {
				return nil, &CodecError{Line: lastNum, Err: fmt.Errorf("missing BEGIN:VCARD")}
			}
			return nil, &CodecError{Line: lastNum, Err: fmt.Errorf("missing END:VCARD")}
		} else if err != nil {
			return nil, err
		}
		lastNum = num

		cl, err := parseContentLine(s, num)
		if err != nil {
			return nil, err
		}

		if begun == 0 {
			if cl.name != "BEGIN" || !strings.EqualFold(cl.value, "VCARD") {
				return nil, &CodecError{Line: num, Err: fmt.Errorf("expected BEGIN:VCARD, got %v", cl.name)}
			}
			begun = num
			continue
		}

		switch cl.name {
		case "BEGIN":
			return nil, &CodecError{Line: num, Err: fmt.Errorf("nested BEGIN:%v", cl.value)}
		case "END":
			if !strings.EqualFold(cl.value, "VCARD") {
				return nil, &CodecError{Line: num, Err: fmt.Errorf("unexpected END:%v", cl.value)}
			}
			if c.FullName == "" && len(name) > 0 {
				c.FullName = formattedName(name)
			}
			return &c, nil
		case vcard.FieldVersion, vcard.FieldProductID:
			// Rewritten on encoding.
		case vcard.FieldFormattedName:
			if !seen[cl.name] {
				c.FullName = unescapeText(cl.value)
			}
		case vcard.FieldName:
			if !seen[cl.name] {
				name = splitStructured(cl.value)
			}
		case vcard.FieldOrganization:
			if !seen[cl.name] {
				c.Organization = strings.Join(splitStructured(cl.value), ";")
			}
		case vcard.FieldTitle:
			if !seen[cl.name] {
				c.Title = unescapeText(cl.value)
			}
		case vcard.FieldUID:
			if !seen[cl.name] {
				c.UID = unescapeText(cl.value)
			}
		case vcard.FieldTelephone:
			c.Phones = append(c.Phones, Phone{Type: cl.types(), Number: unescapeText(cl.value)})
		case vcard.FieldEmail:
			c.Emails = append(c.Emails, Email{Type: cl.types(), Address: unescapeText(cl.value)})
		case vcard.FieldAddress:
			c.Addresses = append(c.Addresses, decodeAddress(cl))
		default:
			if opts.PreserveUnknown {
				if c.Extra == nil {
					c.Extra = make(vcard.Card)
				}
				c.Extra[cl.name] = append(c.Extra[cl.name], &vcard.Field{
					Value:  cl.value,
					Params: cl.params,
					Group:  cl.group,
				})
			}
		}
		seen[cl.name] = true
	}
}

// formattedName builds a display name from the components of N: family,
// given, additional, prefixes and suffixes.
func formattedName(n []string) string {
	get := func(i int) string {
		if i < len(n) {
			return strings.TrimSpace(n[i])
		}
		return ""
	}
	var parts []string
	for _, s := range []string{get(3), get(1), get(2), get(0), get(4)} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func decodeAddress(cl *contentLine) Address {
	parts := splitStructured(cl.value)
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	// post office box and extended address are not kept
	return Address{
		Type:       cl.types(),
		Street:     get(2),
		City:       get(3),
		Region:     get(4),
		PostalCode: get(5),
		Country:    get(6),
	}
}

// EncodeContact writes c as a vCard 3.0 object. URI and ETag are not part of
// the body and are ignored. Line breaks in text values are written as "\n".
// An Extra property or a parameter that can't be written on a single content
// line is an error, in which case nothing is written to w.
func EncodeContact(w io.Writer, c *Contact) error {
	var buf bytes.Buffer
	lw := &lineWriter{w: &buf}

	lw.writeLine("BEGIN:VCARD")
	lw.writeProp("", vcard.FieldVersion, nil, vcardVersion)
	lw.writeProp("", vcard.FieldProductID, nil, vcardProdID)
	lw.writeProp("", vcard.FieldFormattedName, nil, escapeText(c.FullName))
	lw.writeProp("", vcard.FieldName, nil, encodeName(c.FullName))
	if c.Organization != "" {
		lw.writeProp("", vcard.FieldOrganization, nil, escapeComponent(c.Organization))
	}
	if c.Title != "" {
		lw.writeProp("", vcard.FieldTitle, nil, escapeText(c.Title))
	}
	for _, tel := range c.Phones {
		lw.writeProp("", vcard.FieldTelephone, typeParams(tel.Type), escapeText(tel.Number))
	}
	for _, email := range c.Emails {
		lw.writeProp("", vcard.FieldEmail, typeParams(email.Type), escapeText(email.Address))
	}
	for _, adr := range c.Addresses {
		value := strings.Join([]string{
			"", "",
			escapeText(adr.Street),
			escapeText(adr.City),
			escapeText(adr.Region),
			escapeText(adr.PostalCode),
			escapeText(adr.Country),
		}, ";")
		lw.writeProp("", vcard.FieldAddress, typeParams(adr.Type), value)
	}
	if c.UID != "" {
		lw.writeProp("", vcard.FieldUID, nil, escapeText(c.UID))
	}

	names := make([]string, 0, len(c.Extra))
	for name := range c.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if isEncodedField(name) {
			continue
		}
		for _, f := range c.Extra[name] {
			lw.writeProp(f.Group, name, f.Params, f.Value)
		}
	}

	lw.writeLine("END:VCARD")
	if lw.err != nil {
		return lw.err
	}
	_, err := buf.WriteTo(w)
	return err
}

// isEncodedField reports whether name is written by EncodeContact from a
// Contact field, in which case an Extra entry of that name is ignored.
func isEncodedField(name string) bool {
	switch strings.ToUpper(name) {
	case "BEGIN", "END", vcard.FieldVersion, vcard.FieldProductID,
		vcard.FieldFormattedName, vcard.FieldName, vcard.FieldOrganization, vcard.FieldTitle,
		vcard.FieldTelephone, vcard.FieldEmail, vcard.FieldAddress, vcard.FieldUID:
		return true
	}
	return false
}

// encodeName derives N from a display name: the last word is the family
// name, the words before it the given names.
func encodeName(fullName string) string {
	words := strings.Fields(fullName)
	var family, given string
	if len(words) > 0 {
		family = words[len(words)-1]
		given = strings.Join(words[:len(words)-1], " ")
	}
	return escapeText(family) + ";" + escapeText(given) + ";;;"
}

func encodeContactBytes(c *Contact) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeContact(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

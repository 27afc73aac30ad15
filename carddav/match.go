package carddav

import (
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	"golang.org/x/text/cases"
)

// searchProps are the properties a free-text search looks at.
var searchProps = []string{
	vcard.FieldFormattedName,
	vcard.FieldTelephone,
	vcard.FieldEmail,
	vcard.FieldOrganization,
}

// newSearchFilter builds the addressbook-query filter matching contacts with
// any searchable property containing text.
func newSearchFilter(text string) filter {
	f := filter{Test: filterAnyOf}
	for _, name := range searchProps {
		f.PropFilters = append(f.PropFilters, propFilter{
			Name: name,
			TextMatches: []textMatch{{
				Text:      text,
				Collation: unicodeCasemap,
				MatchType: matchContains,
			}},
		})
	}
	return f
}

// Filter returns the contacts whose full name, phone numbers, email
// addresses or organization contain query, ignoring case. An empty query
// matches every contact. The order of contacts is preserved.
func Filter(query string, contacts []Contact) []Contact {
	out := make([]Contact, 0, len(contacts))
	for i := range contacts {
		if Match(query, &contacts[i]) {
			out = append(out, contacts[i])
		}
	}
	return out
}

// Match reports whether c matches query, as in Filter.
func Match(query string, c *Contact) bool {
	if query == "" {
		return true
	}
	ok, _ := matchFilter(newSearchFilter(query), c)
	return ok
}

func matchFilter(f filter, c *Contact) (bool, error) {
	if len(f.PropFilters) == 0 {
		return true, nil
	}

	switch f.Test {
	default:
		return false, fmt.Errorf("unknown filter test %q", f.Test)

	case filterAnyOf, "":
		for _, prop := range f.PropFilters {
			ok, err := matchPropFilter(prop, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case filterAllOf:
		for _, prop := range f.PropFilters {
			ok, err := matchPropFilter(prop, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

func matchPropFilter(prop propFilter, c *Contact) (bool, error) {
	values := contactValues(c, prop.Name)
	if len(values) == 0 {
		return false, nil
	}
	if len(prop.TextMatches) == 0 {
		return true, nil
	}

	for _, value := range values {
		ok, err := matchTextMatches(prop.Test, prop.TextMatches, value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchTextMatches(test filterTest, txts []textMatch, value string) (bool, error) {
	for _, txt := range txts {
		ok, err := matchTextMatch(txt, value)
		if err != nil {
			return false, err
		}
		switch {
		case test == filterAllOf && !ok:
			return false, nil
		case test != filterAllOf && ok:
			return true, nil
		}
	}
	return test == filterAllOf, nil
}

func matchTextMatch(txt textMatch, value string) (bool, error) {
	text := txt.Text
	if txt.Collation != "i;octet" {
		// i;ascii-casemap and i;unicode-casemap
		text, value = fold(text), fold(value)
	}

	var ok bool
	switch txt.MatchType {
	default:
		return false, fmt.Errorf("unknown text-match type %q", txt.MatchType)

	case matchEquals:
		ok = text == value

	case matchContains, "":
		ok = strings.Contains(value, text)

	case matchStartsWith:
		ok = strings.HasPrefix(value, text)

	case matchEndsWith:
		ok = strings.HasSuffix(value, text)
	}

	if txt.NegateCondition {
		ok = !ok
	}
	return ok, nil
}

// fold maps s to its Unicode case folding. A Caser holds state, so one is
// created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// contactValues returns the values c holds for the vCard property name.
func contactValues(c *Contact, name string) []string {
	var values []string
	add := func(s string) {
		if s != "" {
			values = append(values, s)
		}
	}

	switch strings.ToUpper(name) {
	case vcard.FieldFormattedName:
		add(c.FullName)
	case vcard.FieldTelephone:
		for _, tel := range c.Phones {
			add(tel.Number)
		}
	case vcard.FieldEmail:
		for _, email := range c.Emails {
			add(email.Address)
		}
	case vcard.FieldOrganization:
		add(c.Organization)
	case vcard.FieldTitle:
		add(c.Title)
	case vcard.FieldUID:
		add(c.UID)
	case vcard.FieldAddress:
		for _, adr := range c.Addresses {
			add(strings.Join([]string{adr.Street, adr.City, adr.Region, adr.PostalCode, adr.Country}, " "))
		}
	default:
		for _, f := range c.Extra[strings.ToUpper(name)] {
			add(unescapeText(f.Value))
		}
	}
	return values
}

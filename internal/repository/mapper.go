package repository

import (
	"strings"

	"github.com/isometry/persondir/internal/directory"
	"github.com/isometry/persondir/internal/person"
)

// cryptMarker prefixes hashed passwords on the wire so the directory knows
// the value is a crypt-format hash rather than clear text. It is added on
// write and stripped on read; the code on either side of the mapper only
// ever sees the bare hash.
const cryptMarker = "{CRYPT}"

const (
	attrFirstName   = "givenName"
	attrSurname     = "sn"
	attrEmail       = "mail"
	attrDisplayName = "displayName"
	attrPassword    = "userPassword"
	attrCommonName  = "cn"
)

// personAttributes lists every directory attribute the mapper reads,
// excluding the configurable RDN attribute that carries the username.
var personAttributes = []string{
	attrFirstName,
	attrSurname,
	attrEmail,
	attrDisplayName,
	attrPassword,
}

// fieldsToAttributes projects a person snapshot onto directory attributes.
// Empty fields are omitted; the common name is derived from first name and
// surname; the password hash gains the crypt marker.
func fieldsToAttributes(f person.Fields, rdnAttribute string) map[string][]string {
	attrs := map[string][]string{
		rdnAttribute:   {f.Username},
		attrFirstName:  {f.FirstName},
		attrSurname:    {f.Surname},
		attrCommonName: {f.FirstName + " " + f.Surname},
	}
	if f.DisplayName != "" {
		attrs[attrDisplayName] = []string{f.DisplayName}
	}
	if f.Email != "" {
		attrs[attrEmail] = []string{f.Email}
	}
	if f.Password != "" {
		attrs[attrPassword] = []string{cryptMarker + f.Password}
	}
	return attrs
}

// personFromEntry rebuilds a Person from a directory entry. The stored
// password hash round-trips verbatim, so an entry read back compares equal
// byte for byte to what was written.
func personFromEntry(entry *directory.Entry, rdnAttribute string) (*person.Person, error) {
	return person.New(person.Fields{
		FirstName:   entry.GetAttributeValue(attrFirstName),
		Surname:     entry.GetAttributeValue(attrSurname),
		Username:    entry.GetAttributeValue(rdnAttribute),
		DisplayName: entry.GetAttributeValue(attrDisplayName),
		Email:       entry.GetAttributeValue(attrEmail),
		Password:    strings.TrimPrefix(entry.GetAttributeValue(attrPassword), cryptMarker),
	})
}

package directory

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// matchesFilter reports whether an entry satisfies an LDAP filter string.
// The filter is compiled with the protocol encoder and then evaluated
// against the entry's attributes. Attribute names and values compare
// case-insensitively, which matches how common directory schemas treat
// them.
func matchesFilter(entry *Entry, filter string) (bool, error) {
	packet, err := ldap.CompileFilter(filter)
	if err != nil {
		return false, fmt.Errorf("invalid filter %q: %w", filter, err)
	}
	return evalFilter(entry, packet)
}

func evalFilter(entry *Entry, packet *ber.Packet) (bool, error) {
	switch packet.Tag {
	case ldap.FilterAnd:
		for _, child := range packet.Children {
			ok, err := evalFilter(entry, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case ldap.FilterOr:
		for _, child := range packet.Children {
			ok, err := evalFilter(entry, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case ldap.FilterNot:
		if len(packet.Children) != 1 {
			return false, fmt.Errorf("malformed NOT filter")
		}
		ok, err := evalFilter(entry, packet.Children[0])
		return !ok, err

	case ldap.FilterEqualityMatch:
		if len(packet.Children) != 2 {
			return false, fmt.Errorf("malformed equality filter")
		}
		attribute := berString(packet.Children[0])
		want := berString(packet.Children[1])
		for _, value := range entry.GetAttributeValues(attribute) {
			if strings.EqualFold(value, want) {
				return true, nil
			}
		}
		return false, nil

	case ldap.FilterPresent:
		attribute := berString(packet)
		return len(entry.GetAttributeValues(attribute)) > 0, nil

	case ldap.FilterSubstrings:
		if len(packet.Children) != 2 {
			return false, fmt.Errorf("malformed substrings filter")
		}
		attribute := berString(packet.Children[0])
		for _, value := range entry.GetAttributeValues(attribute) {
			if matchesSubstrings(value, packet.Children[1].Children) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unsupported filter component (tag %d)", packet.Tag)
	}
}

func matchesSubstrings(value string, parts []*ber.Packet) bool {
	folded := strings.ToLower(value)
	for _, part := range parts {
		fragment := strings.ToLower(berString(part))
		switch part.Tag {
		case ldap.FilterSubstringsInitial:
			if !strings.HasPrefix(folded, fragment) {
				return false
			}
			folded = folded[len(fragment):]
		case ldap.FilterSubstringsFinal:
			if !strings.HasSuffix(folded, fragment) {
				return false
			}
			folded = folded[:len(folded)-len(fragment)]
		default: // any
			idx := strings.Index(folded, fragment)
			if idx < 0 {
				return false
			}
			folded = folded[idx+len(fragment):]
		}
	}
	return true
}

// berString extracts the string payload of a BER packet, whichever form the
// compiler left it in.
func berString(packet *ber.Packet) string {
	if s, ok := packet.Value.(string); ok && s != "" {
		return s
	}
	return packet.Data.String()
}

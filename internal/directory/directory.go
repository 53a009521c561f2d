// Package directory owns the session lifecycle to the LDAP server and the
// cursor transactions the person repository is built on. Remote entries are
// exposed as plain attribute maps; nothing outside this package and the
// repository's attribute mapper touches directory attribute names.
package directory

import (
	"context"
	"strings"
	"time"
)

// Entry is one directory record: a distinguished name plus its named,
// possibly multi-valued attributes.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// GetAttributeValue returns the first value of the named attribute, or ""
// when the attribute is absent.
func (e *Entry) GetAttributeValue(name string) string {
	values := e.GetAttributeValues(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// GetAttributeValues returns all values of the named attribute. Attribute
// names compare case-insensitively, as the protocol does.
func (e *Entry) GetAttributeValues(name string) []string {
	if values, ok := e.Attributes[name]; ok {
		return values
	}
	for attr, values := range e.Attributes {
		if strings.EqualFold(attr, name) {
			return values
		}
	}
	return nil
}

// SearchScope selects how deep a search descends below its base DN.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// SearchRequest describes one directory search.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// AddRequest stages a brand-new entry.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest stages attribute changes against an existing entry.
type ModifyRequest struct {
	DN      string
	Replace map[string][]string
	Add     map[string][]string
	Delete  []string
}

// Conn is one leased directory session. It must be released with Close on
// every exit path; a released session may be reused by the owning client.
type Conn interface {
	Search(ctx context.Context, req *SearchRequest) ([]*Entry, error)
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	Close()
}

// Client hands out directory sessions. The real implementation pools
// authenticated connections; the fake one serves an in-memory tree with the
// same semantics and no I/O.
type Client interface {
	Connect(ctx context.Context) (Conn, error)
	Close() error
}

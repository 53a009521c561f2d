package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// ReadCursor scopes a search to one object class under a base DN and holds
// the matched entries after Search runs.
type ReadCursor struct {
	conn        Conn
	objectClass string
	baseDN      string
	filter      string
	attributes  []string
	entries     []*Entry
	searched    bool
}

// NewReadCursor builds a cursor over entries of the given object class.
// An optional extra filter narrows the match; it must be a complete filter
// expression such as "(uid=jdoe)".
func NewReadCursor(conn Conn, objectClass, baseDN, filter string) *ReadCursor {
	return &ReadCursor{
		conn:        conn,
		objectClass: objectClass,
		baseDN:      baseDN,
		filter:      filter,
	}
}

// Select restricts which attributes the search asks for. Without it the
// server returns all user attributes.
func (rc *ReadCursor) Select(attributes ...string) *ReadCursor {
	rc.attributes = attributes
	return rc
}

// Search runs the scoped query and retains its results on the cursor.
func (rc *ReadCursor) Search(ctx context.Context) error {
	filter := fmt.Sprintf("(objectClass=%s)", ldap.EscapeFilter(rc.objectClass))
	if rc.filter != "" {
		filter = fmt.Sprintf("(&%s%s)", filter, rc.filter)
	}

	entries, err := rc.conn.Search(ctx, &SearchRequest{
		BaseDN:     rc.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: rc.attributes,
	})
	if err != nil {
		return err
	}
	rc.entries = entries
	rc.searched = true
	return nil
}

// Entries returns the results of the last Search.
func (rc *ReadCursor) Entries() []*Entry {
	return rc.entries
}

// Len returns how many entries the last Search matched.
func (rc *ReadCursor) Len() int {
	return len(rc.entries)
}

// WriteCursor stages new entries or attribute changes and flushes them in a
// single Commit. Nothing reaches the directory before Commit.
type WriteCursor struct {
	conn        Conn
	objectClass string
	baseDN      string
	staged      []*StagedEntry
}

// NewWriteCursor builds a cursor for creating entries of the given object
// class under the base DN.
func NewWriteCursor(conn Conn, objectClass, baseDN string) *WriteCursor {
	return &WriteCursor{
		conn:        conn,
		objectClass: objectClass,
		baseDN:      baseDN,
	}
}

// WriteCursorFrom derives a write cursor from the results of a read cursor,
// staging updates against the entries it matched.
func WriteCursorFrom(rc *ReadCursor) (*WriteCursor, error) {
	if !rc.searched {
		return nil, errors.New("read cursor has not been searched")
	}
	wc := &WriteCursor{
		conn:        rc.conn,
		objectClass: rc.objectClass,
		baseDN:      rc.baseDN,
	}
	for _, entry := range rc.entries {
		wc.staged = append(wc.staged, &StagedEntry{current: entry, dn: entry.DN})
	}
	return wc, nil
}

// New stages a fresh entry whose RDN is attribute=value under the cursor's
// base DN. The RDN attribute is staged automatically.
func (wc *WriteCursor) New(rdnAttribute, rdnValue string) *StagedEntry {
	dn := fmt.Sprintf("%s=%s,%s", rdnAttribute, ldap.EscapeDN(rdnValue), wc.baseDN)
	se := &StagedEntry{dn: dn, isNew: true, changes: map[string][]string{
		rdnAttribute: {rdnValue},
	}}
	wc.staged = append(wc.staged, se)
	return se
}

// Entries returns every staged entry on the cursor.
func (wc *WriteCursor) Entries() []*StagedEntry {
	return wc.staged
}

// Commit flushes all staged work. New entries become Add operations;
// modified entries become Modify operations replacing only the attributes
// that actually changed. Entries with no pending changes are skipped.
func (wc *WriteCursor) Commit(ctx context.Context) error {
	for _, se := range wc.staged {
		if err := se.commit(ctx, wc.conn, wc.objectClass); err != nil {
			return err
		}
	}
	return nil
}

// StagedEntry accumulates attribute assignments for one entry. For an
// existing entry, assignments matching the current values are dropped so the
// eventual Modify touches only real changes.
type StagedEntry struct {
	dn      string
	isNew   bool
	current *Entry
	changes map[string][]string
}

// DN returns the entry's distinguished name.
func (se *StagedEntry) DN() string {
	return se.dn
}

// Get returns the entry's current value for an attribute, preferring a
// staged assignment over the directory's value.
func (se *StagedEntry) Get(attribute string) string {
	if values, ok := se.changes[attribute]; ok {
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
	if se.current != nil {
		return se.current.GetAttributeValue(attribute)
	}
	return ""
}

// GetValues returns every value for an attribute, staged or current.
func (se *StagedEntry) GetValues(attribute string) []string {
	if values, ok := se.changes[attribute]; ok {
		return values
	}
	if se.current != nil {
		return se.current.GetAttributeValues(attribute)
	}
	return nil
}

// Set stages an assignment. Assigning the values an existing entry already
// holds is a no-op; assigning an empty list stages removal of the attribute.
func (se *StagedEntry) Set(attribute string, values ...string) {
	if !se.isNew && se.current != nil && equalValues(se.current.GetAttributeValues(attribute), values) {
		delete(se.changes, attribute)
		return
	}
	if se.changes == nil {
		se.changes = make(map[string][]string)
	}
	se.changes[attribute] = values
}

// Dirty reports whether the entry has pending changes.
func (se *StagedEntry) Dirty() bool {
	return se.isNew || len(se.changes) > 0
}

func (se *StagedEntry) commit(ctx context.Context, conn Conn, objectClass string) error {
	if se.isNew {
		attrs := map[string][]string{"objectClass": {objectClass}}
		for attr, values := range se.changes {
			if len(values) > 0 {
				attrs[attr] = values
			}
		}
		if err := conn.Add(ctx, &AddRequest{DN: se.dn, Attributes: attrs}); err != nil {
			return err
		}
		se.isNew = false
	} else if len(se.changes) > 0 {
		req := &ModifyRequest{DN: se.dn, Replace: map[string][]string{}}
		for attr, values := range se.changes {
			if len(values) == 0 {
				req.Delete = append(req.Delete, attr)
			} else {
				req.Replace[attr] = values
			}
		}
		if err := conn.Modify(ctx, req); err != nil {
			return err
		}
	}
	se.changes = nil
	return nil
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// FakeClient is an in-memory Client for tests and local development. It
// honors the same filter semantics and returns the same error categories as
// the network client, so code exercised against it behaves identically
// against a real directory.
type FakeClient struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	closed  bool
}

// NewFakeClient builds an empty in-memory directory.
func NewFakeClient() *FakeClient {
	return &FakeClient{entries: make(map[string]*Entry)}
}

// Connect hands out a session over the shared in-memory store.
func (f *FakeClient) Connect(ctx context.Context) (Conn, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("directory client is closed")
	}
	return &fakeConn{store: f}, nil
}

// Close shuts the fake down. Subsequent Connect calls fail.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Seed installs an entry directly, bypassing Add semantics. Intended for
// test fixtures such as pre-existing permission roles.
func (f *FakeClient) Seed(dn string, attributes map[string][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := &Entry{DN: dn, Attributes: make(map[string][]string, len(attributes))}
	for attr, values := range attributes {
		entry.Attributes[attr] = append([]string(nil), values...)
	}
	f.entries[normalizeDN(dn)] = entry
}

// Entry returns a copy of the stored entry with the given DN, or nil.
func (f *FakeClient) Entry(dn string) *Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.entries[normalizeDN(dn)]
	if !ok {
		return nil
	}
	return copyEntry(entry)
}

// Len returns how many entries the fake holds.
func (f *FakeClient) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

type fakeConn struct {
	store *FakeClient
}

func (c *fakeConn) Close() {}

func (c *fakeConn) Search(ctx context.Context, req *SearchRequest) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	base := normalizeDN(req.BaseDN)
	var results []*Entry
	for key, entry := range c.store.entries {
		if !inScope(key, base, req.Scope) {
			continue
		}
		ok, err := matchesFilter(entry, req.Filter)
		if err != nil {
			return nil, WrapError("search", err)
		}
		if !ok {
			continue
		}
		results = append(results, selectAttributes(entry, req.Attributes))
		if req.SizeLimit > 0 && len(results) >= req.SizeLimit {
			break
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].DN < results[j].DN })
	return results, nil
}

func (c *fakeConn) Add(ctx context.Context, req *AddRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	key := normalizeDN(req.DN)
	if _, exists := c.store.entries[key]; exists {
		return WrapError("add", ldap.NewError(ldap.LDAPResultEntryAlreadyExists,
			fmt.Errorf("entry already exists: %s", req.DN)))
	}

	entry := &Entry{DN: req.DN, Attributes: make(map[string][]string, len(req.Attributes)+1)}
	for attr, values := range req.Attributes {
		entry.Attributes[attr] = append([]string(nil), values...)
	}
	entry.Attributes["entryUUID"] = []string{uuid.NewString()}
	c.store.entries[key] = entry
	return nil
}

func (c *fakeConn) Modify(ctx context.Context, req *ModifyRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	entry, ok := c.store.entries[normalizeDN(req.DN)]
	if !ok {
		return WrapError("modify", ldap.NewError(ldap.LDAPResultNoSuchObject,
			fmt.Errorf("no such object: %s", req.DN)))
	}

	for attr, values := range req.Replace {
		entry.Attributes[attr] = append([]string(nil), values...)
	}
	for attr, values := range req.Add {
		entry.Attributes[attr] = append(entry.Attributes[attr], values...)
	}
	for _, attr := range req.Delete {
		delete(entry.Attributes, attr)
	}
	return nil
}

// normalizeDN lowercases a DN and strips whitespace around its components so
// lookups are insensitive to case and spacing.
func normalizeDN(dn string) string {
	parts := strings.Split(strings.ToLower(dn), ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return strings.Join(parts, ",")
}

func inScope(key, base string, scope SearchScope) bool {
	switch scope {
	case ScopeBaseObject:
		return key == base
	case ScopeSingleLevel:
		if !strings.HasSuffix(key, ","+base) {
			return false
		}
		return !strings.Contains(strings.TrimSuffix(key, ","+base), ",")
	default:
		return key == base || strings.HasSuffix(key, ","+base)
	}
}

func selectAttributes(entry *Entry, attributes []string) *Entry {
	if len(attributes) == 0 {
		return copyEntry(entry)
	}
	out := &Entry{DN: entry.DN, Attributes: make(map[string][]string, len(attributes))}
	for _, attr := range attributes {
		for name, values := range entry.Attributes {
			if strings.EqualFold(name, attr) {
				out.Attributes[name] = append([]string(nil), values...)
			}
		}
	}
	return out
}

func copyEntry(entry *Entry) *Entry {
	out := &Entry{DN: entry.DN, Attributes: make(map[string][]string, len(entry.Attributes))}
	for attr, values := range entry.Attributes {
		out.Attributes[attr] = append([]string(nil), values...)
	}
	return out
}

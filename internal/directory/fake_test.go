package directory

import (
	"context"
	"testing"
)

func fakeConnFor(t *testing.T, f *FakeClient) Conn {
	t.Helper()
	conn, err := f.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestFakeAddAndSearch(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	conn := fakeConnFor(t, fake)

	err := conn.Add(ctx, &AddRequest{
		DN: "uid=jdoe,ou=people,dc=example,dc=org",
		Attributes: map[string][]string{
			"objectClass": {"inetOrgPerson"},
			"uid":         {"jdoe"},
			"sn":          {"Doe"},
		},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	entries, err := conn.Search(ctx, &SearchRequest{
		BaseDN: "ou=people,dc=example,dc=org",
		Scope:  ScopeWholeSubtree,
		Filter: "(uid=jdoe)",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Search() matched %d entries, want 1", len(entries))
	}
	if entries[0].GetAttributeValue("sn") != "Doe" {
		t.Errorf("sn = %q, want %q", entries[0].GetAttributeValue("sn"), "Doe")
	}
	if entries[0].GetAttributeValue("entryUUID") == "" {
		t.Error("entryUUID not assigned on add")
	}
}

func TestFakeAddConflict(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	conn := fakeConnFor(t, fake)

	req := &AddRequest{
		DN:         "uid=jdoe,ou=people,dc=example,dc=org",
		Attributes: map[string][]string{"uid": {"jdoe"}},
	}
	if err := conn.Add(ctx, req); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Same DN in different case still conflicts.
	err := conn.Add(ctx, &AddRequest{
		DN:         "UID=jdoe, OU=People, DC=example, DC=org",
		Attributes: map[string][]string{"uid": {"jdoe"}},
	})
	if !IsConflict(err) {
		t.Errorf("Add() error = %v, want conflict", err)
	}
}

func TestFakeModify(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	conn := fakeConnFor(t, fake)

	dn := "uid=jdoe,ou=people,dc=example,dc=org"
	fake.Seed(dn, map[string][]string{"uid": {"jdoe"}, "mail": {"old@example.org"}, "sn": {"Doe"}})

	err := conn.Modify(ctx, &ModifyRequest{
		DN:      dn,
		Replace: map[string][]string{"mail": {"new@example.org"}},
		Delete:  []string{"sn"},
	})
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	entry := fake.Entry(dn)
	if entry.GetAttributeValue("mail") != "new@example.org" {
		t.Errorf("mail = %q", entry.GetAttributeValue("mail"))
	}
	if entry.GetAttributeValue("sn") != "" {
		t.Error("deleted attribute still present")
	}
}

func TestFakeModifyMissing(t *testing.T) {
	fake := NewFakeClient()
	conn := fakeConnFor(t, fake)

	err := conn.Modify(context.Background(), &ModifyRequest{
		DN:      "uid=absent,ou=people,dc=example,dc=org",
		Replace: map[string][]string{"mail": {"x@example.org"}},
	})
	if !IsNotFound(err) {
		t.Errorf("Modify() error = %v, want not found", err)
	}
}

func TestFakeSearchScope(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	conn := fakeConnFor(t, fake)

	fake.Seed("ou=people,dc=example,dc=org", map[string][]string{"objectClass": {"organizationalUnit"}, "ou": {"people"}})
	fake.Seed("uid=jdoe,ou=people,dc=example,dc=org", map[string][]string{"objectClass": {"inetOrgPerson"}, "uid": {"jdoe"}})
	fake.Seed("uid=deep,ou=nested,ou=people,dc=example,dc=org", map[string][]string{"objectClass": {"inetOrgPerson"}, "uid": {"deep"}})

	tests := []struct {
		name  string
		scope SearchScope
		want  int
	}{
		{"base", ScopeBaseObject, 1},
		{"one level", ScopeSingleLevel, 1},
		{"subtree", ScopeWholeSubtree, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := conn.Search(ctx, &SearchRequest{
				BaseDN: "ou=people,dc=example,dc=org",
				Scope:  tt.scope,
				Filter: "(objectClass=*)",
			})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("Search() matched %d entries, want %d", len(entries), tt.want)
			}
		})
	}
}

func TestFakeClosed(t *testing.T) {
	fake := NewFakeClient()
	if err := fake.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := fake.Connect(context.Background()); err == nil {
		t.Error("Connect() error = nil after Close")
	}
}

// Package repository exposes person-level operations over the directory:
// uniqueness checks, unique lookups, creation, update and permission role
// membership. It owns the mapping between Person fields and directory
// attributes and translates directory failures into its own error types.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/isometry/persondir/internal/directory"
	"github.com/isometry/persondir/internal/person"
)

// Repository runs person operations against a directory client. It is safe
// for concurrent use; every operation leases its own connection.
type Repository struct {
	client directory.Client
	config *directory.Config
	log    *zap.Logger
}

// New builds a repository over the given client. The logger may be nil.
func New(client directory.Client, config *directory.Config, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repository{
		client: client,
		config: config,
		log:    log.Named("repository"),
	}
}

// UsernameExists reports whether any person entry holds the username. An
// empty username exists nowhere.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	return r.attributeExists(ctx, r.config.RDNAttribute, username)
}

// EmailExists reports whether any person entry holds the email address. An
// empty address exists nowhere.
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	return r.attributeExists(ctx, attrEmail, email)
}

func (r *Repository) attributeExists(ctx context.Context, attribute, value string) (bool, error) {
	conn, err := r.client.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	rc := r.peopleCursor(conn, attribute, value).Select(r.config.RDNAttribute)
	if err := rc.Search(ctx); err != nil {
		return false, err
	}
	return rc.Len() > 0, nil
}

// PersonByUsername returns the single person entry holding the username.
func (r *Repository) PersonByUsername(ctx context.Context, username string) (*person.Person, error) {
	return r.uniquePerson(ctx, r.config.RDNAttribute, username)
}

// PersonByEmail returns the single person entry holding the email address.
func (r *Repository) PersonByEmail(ctx context.Context, email string) (*person.Person, error) {
	return r.uniquePerson(ctx, attrEmail, email)
}

func (r *Repository) uniquePerson(ctx context.Context, attribute, value string) (*person.Person, error) {
	conn, err := r.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	entry, err := r.uniqueEntry(ctx, conn, attribute, value)
	if err != nil {
		return nil, err
	}
	return personFromEntry(entry, r.config.RDNAttribute)
}

// uniqueEntry resolves a lookup that must match at most one entry. Zero
// matches is NotFoundError; several is DataInconsistencyError.
func (r *Repository) uniqueEntry(ctx context.Context, conn directory.Conn, attribute, value string) (*directory.Entry, error) {
	rc := r.peopleCursor(conn, attribute, value).
		Select(append([]string{r.config.RDNAttribute}, personAttributes...)...)
	if err := rc.Search(ctx); err != nil {
		return nil, err
	}
	switch rc.Len() {
	case 0:
		return nil, &NotFoundError{Attribute: attribute, Value: value}
	case 1:
		return rc.Entries()[0], nil
	default:
		return nil, &DataInconsistencyError{Attribute: attribute, Value: value, Count: rc.Len()}
	}
}

func (r *Repository) peopleCursor(conn directory.Conn, attribute, value string) *directory.ReadCursor {
	filter := fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value))
	return directory.NewReadCursor(conn, r.config.PersonClass, r.config.PeopleBaseDN, filter)
}

// AddPerson creates a directory entry for the person. The username, and the
// email address when present, must not already be taken; a conflict names
// the offending attribute. The pre-checks and the write are separate
// operations, so a concurrent writer can still win the race; the directory's
// own uniqueness on the entry name catches that and is reported the same
// way.
func (r *Repository) AddPerson(ctx context.Context, p *person.Person) error {
	f := p.Snapshot()

	taken, err := r.UsernameExists(ctx, f.Username)
	if err != nil {
		return err
	}
	if taken {
		return &AlreadyExistsError{Attribute: "username", Value: f.Username}
	}
	if f.Email != "" {
		taken, err = r.EmailExists(ctx, f.Email)
		if err != nil {
			return err
		}
		if taken {
			return &AlreadyExistsError{Attribute: "email", Value: f.Email}
		}
	}

	conn, err := r.client.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	wc := directory.NewWriteCursor(conn, r.config.PersonClass, r.config.PeopleBaseDN)
	se := wc.New(r.config.RDNAttribute, f.Username)
	for attribute, values := range fieldsToAttributes(f, r.config.RDNAttribute) {
		se.Set(attribute, values...)
	}
	if err := wc.Commit(ctx); err != nil {
		if directory.IsConflict(err) {
			return &AlreadyExistsError{Attribute: "username", Value: f.Username}
		}
		return err
	}

	r.log.Info("person added", zap.String("username", f.Username), zap.String("dn", se.DN()))
	return nil
}

// UpdatePerson writes the person's current field values over its directory
// entry, keyed by username. Only attributes whose values actually differ are
// sent; empty fields are left untouched. The stored password is replaced
// only when updatePassword is set and the person carries a hash.
func (r *Repository) UpdatePerson(ctx context.Context, p *person.Person, updatePassword bool) error {
	f := p.Snapshot()

	conn, err := r.client.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	rc := r.peopleCursor(conn, r.config.RDNAttribute, f.Username)
	if err := rc.Search(ctx); err != nil {
		return err
	}
	switch rc.Len() {
	case 0:
		return &NotFoundError{Attribute: r.config.RDNAttribute, Value: f.Username}
	case 1:
	default:
		return &DataInconsistencyError{Attribute: r.config.RDNAttribute, Value: f.Username, Count: rc.Len()}
	}

	wc, err := directory.WriteCursorFrom(rc)
	if err != nil {
		return err
	}
	se := wc.Entries()[0]

	se.Set(attrFirstName, f.FirstName)
	se.Set(attrSurname, f.Surname)
	se.Set(attrDisplayName, f.DisplayName)
	if f.Email != "" {
		se.Set(attrEmail, f.Email)
	}
	if updatePassword && f.Password != "" {
		se.Set(attrPassword, cryptMarker+f.Password)
	}

	if !se.Dirty() {
		r.log.Debug("person unchanged", zap.String("username", f.Username))
		return nil
	}
	if err := wc.Commit(ctx); err != nil {
		return err
	}

	r.log.Info("person updated", zap.String("username", f.Username))
	return nil
}

// ActivatePerson adds the person to the active permission role. Activating
// an already active person is a no-op.
func (r *Repository) ActivatePerson(ctx context.Context, username string) error {
	return r.setActive(ctx, username, true)
}

// DeactivatePerson removes the person from the active permission role.
// Deactivating an inactive person is a no-op.
func (r *Repository) DeactivatePerson(ctx context.Context, username string) error {
	return r.setActive(ctx, username, false)
}

// IsActive reports whether the person is a member of the active role.
func (r *Repository) IsActive(ctx context.Context, username string) (bool, error) {
	conn, err := r.client.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	entry, err := r.uniqueEntry(ctx, conn, r.config.RDNAttribute, username)
	if err != nil {
		return false, err
	}
	rc, err := r.roleCursor(ctx, conn)
	if err != nil {
		return false, err
	}
	members := rc.Entries()[0].GetAttributeValues(r.config.MemberAttribute)
	return containsDN(members, entry.DN), nil
}

func (r *Repository) setActive(ctx context.Context, username string, active bool) error {
	conn, err := r.client.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	entry, err := r.uniqueEntry(ctx, conn, r.config.RDNAttribute, username)
	if err != nil {
		return err
	}

	rc, err := r.roleCursor(ctx, conn)
	if err != nil {
		return err
	}
	wc, err := directory.WriteCursorFrom(rc)
	if err != nil {
		return err
	}
	se := wc.Entries()[0]

	members := se.GetValues(r.config.MemberAttribute)
	if active {
		if containsDN(members, entry.DN) {
			return nil
		}
		se.Set(r.config.MemberAttribute, append(append([]string(nil), members...), entry.DN)...)
	} else {
		remaining := make([]string, 0, len(members))
		for _, member := range members {
			if !sameDN(member, entry.DN) {
				remaining = append(remaining, member)
			}
		}
		if len(remaining) == len(members) {
			return nil
		}
		se.Set(r.config.MemberAttribute, remaining...)
	}

	if err := wc.Commit(ctx); err != nil {
		return err
	}
	r.log.Info("person role membership changed",
		zap.String("username", username),
		zap.String("role", r.config.ActiveRoleName),
		zap.Bool("active", active))
	return nil
}

// roleCursor resolves the active permission role, which must exist exactly
// once under the permission base DN.
func (r *Repository) roleCursor(ctx context.Context, conn directory.Conn) (*directory.ReadCursor, error) {
	filter := fmt.Sprintf("(cn=%s)", ldap.EscapeFilter(r.config.ActiveRoleName))
	rc := directory.NewReadCursor(conn, r.config.PermissionClass, r.config.PermissionBaseDN, filter)
	if err := rc.Search(ctx); err != nil {
		return nil, err
	}
	switch rc.Len() {
	case 0:
		return nil, &NotFoundError{Attribute: "cn", Value: r.config.ActiveRoleName}
	case 1:
		return rc, nil
	default:
		return nil, &DataInconsistencyError{Attribute: "cn", Value: r.config.ActiveRoleName, Count: rc.Len()}
	}
}

func containsDN(members []string, dn string) bool {
	for _, member := range members {
		if sameDN(member, dn) {
			return true
		}
	}
	return false
}

// sameDN compares distinguished names ignoring case and spacing around
// components.
func sameDN(a, b string) bool {
	return foldDN(a) == foldDN(b)
}

func foldDN(dn string) string {
	parts := strings.Split(strings.ToLower(dn), ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return strings.Join(parts, ",")
}

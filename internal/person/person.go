// Package person holds the identity value object the directory layer
// projects LDAP entries into, together with its password hashing and
// verification contract.
package person

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// usernameRegexp matches valid account names: a letter followed by at
	// least one letter, digit, underscore or dot.
	usernameRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]+$`)

	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9.+-]+@[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+$`)
)

// ValidationError reports malformed or missing person data. It is never
// retried; callers surface it directly for correction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError checks whether an error is a person validation failure.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Fields is the flat projection of a person's attributes. It is the input to
// New and the snapshot format safe to pass across a task boundary (every
// value is a plain string; Password carries the stored hash, never clear
// text, when produced by Snapshot).
type Fields struct {
	FirstName   string
	Surname     string
	Username    string
	DisplayName string
	Email       string
	Password    string
}

// Person is a directory principal. Two persons with the same first name,
// surname, username and email address are the same principal regardless of
// their password or display name; Equal implements exactly that.
//
// The username is fixed at construction and has no setter. Password and
// display name are mutated through their setters only.
type Person struct {
	FirstName string
	Surname   string
	Email     string

	username     string
	displayName  string
	passwordHash string
}

// New builds a Person from the given fields.
//
// First name, surname and username are required; the username must match
// usernameRegexp. Email and display name are optional; a present email must
// look like local@domain.tld. A non-empty password is hashed unless it
// already carries a crypt-scheme salt prefix, in which case it is stored
// verbatim (this is how entries read back from the directory round-trip).
func New(f Fields) (*Person, error) {
	firstName := strings.TrimSpace(f.FirstName)
	if firstName == "" {
		return nil, &ValidationError{Field: "first_name", Message: "cannot be empty"}
	}
	surname := strings.TrimSpace(f.Surname)
	if surname == "" {
		return nil, &ValidationError{Field: "surname", Message: "cannot be empty"}
	}
	if !usernameRegexp.MatchString(f.Username) {
		return nil, &ValidationError{Field: "username", Message: fmt.Sprintf("%q does not match %s", f.Username, usernameRegexp.String())}
	}
	email := strings.TrimSpace(f.Email)
	if email != "" && !emailRegexp.MatchString(email) {
		return nil, &ValidationError{Field: "email", Message: fmt.Sprintf("%q is not a valid address", email)}
	}

	p := &Person{
		FirstName:   firstName,
		Surname:     surname,
		Email:       email,
		username:    f.Username,
		displayName: strings.TrimSpace(f.DisplayName),
	}
	if f.Password != "" {
		if err := p.SetPassword(f.Password); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Username returns the person's immutable account name.
func (p *Person) Username() string {
	return p.username
}

// DisplayName returns the explicit display name, or "FirstName Surname" when
// none has been set.
func (p *Person) DisplayName() string {
	if p.displayName != "" {
		return p.displayName
	}
	return p.FirstName + " " + p.Surname
}

// SetDisplayName sets the display name. Setting it to an empty or blank
// string reverts to the computed default rather than storing an empty value.
func (p *Person) SetDisplayName(name string) {
	p.displayName = strings.TrimSpace(name)
}

// Equal reports whether two persons denote the same directory principal.
// Password and display name are deliberately excluded from the comparison.
func (p *Person) Equal(other *Person) bool {
	if other == nil {
		return false
	}
	return p.FirstName == other.FirstName &&
		p.Surname == other.Surname &&
		p.username == other.username &&
		p.Email == other.Email
}

// Snapshot returns the person's exported field values, suitable for crossing
// a task boundary and reconstructible with New. The password field carries
// the stored hash.
func (p *Person) Snapshot() Fields {
	return Fields{
		FirstName:   p.FirstName,
		Surname:     p.Surname,
		Username:    p.username,
		DisplayName: p.DisplayName(),
		Email:       p.Email,
		Password:    p.passwordHash,
	}
}

func (p *Person) String() string {
	return p.DisplayName()
}

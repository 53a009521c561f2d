package person

import (
	"crypto/subtle"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// cryptRegexp matches values already hashed with the crypt scheme used for
// stored credentials: a bcrypt salt prefix such as "$2a$10$".
var cryptRegexp = regexp.MustCompile(`^\$2[aby]?\$[0-9]{2}\$`)

// IsHashed reports whether a value is already a stored credential rather
// than a clear-text password.
func IsHashed(value string) bool {
	return cryptRegexp.MatchString(value)
}

// SetPassword stores the password, hashed. A value that already carries the
// crypt salt prefix is stored verbatim; anything else is treated as clear
// text and passed through the salted one-way hash. Empty values fail.
func (p *Person) SetPassword(value string) error {
	if value == "" {
		return &ValidationError{Field: "password", Message: "cannot be empty"}
	}
	if IsHashed(value) {
		p.passwordHash = value
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
	if err != nil {
		return &ValidationError{Field: "password", Message: err.Error()}
	}
	p.passwordHash = string(hash)
	return nil
}

// PasswordHash returns the stored credential, or "" when no password has
// been assigned. The clear text is never retained.
func (p *Person) PasswordHash() string {
	return p.passwordHash
}

// CheckPassword reports whether the given value matches the stored
// credential. A hashed value is compared against the stored hash in constant
// time; clear text is re-hashed with the salt embedded in the stored
// credential before comparison. Direct string equality is never used.
func (p *Person) CheckPassword(value string) bool {
	if p.passwordHash == "" || value == "" {
		return false
	}
	if IsHashed(value) {
		return subtle.ConstantTimeCompare([]byte(p.passwordHash), []byte(value)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(p.passwordHash), []byte(value)) == nil
}

package directory

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// TLSMode states whether the connection to the directory server must be
// encrypted.
type TLSMode string

const (
	// TLSRequired connects over LDAPS with certificate verification.
	TLSRequired TLSMode = "required"
	// TLSNone connects in the clear. Test setups only.
	TLSNone TLSMode = "none"
)

// ParseTLSMode converts a configuration string into a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(s) {
	case TLSRequired, TLSNone:
		return TLSMode(s), nil
	case "":
		return TLSRequired, nil
	default:
		return "", fmt.Errorf("invalid TLS mode %q (expected %q or %q)", s, TLSRequired, TLSNone)
	}
}

// Config holds everything the directory client needs: where the server is,
// how to authenticate, which subtrees hold people and permission roles, and
// the pool/retry tuning.
type Config struct {
	// Server settings
	Host string  `default:"localhost"`
	Port int     `default:"389"`
	TLS  TLSMode `default:"required"`

	// Bind settings. BindDN + BindSecret select simple bind; a Kerberos
	// realm selects GSSAPI bind instead.
	BindDN         string
	BindSecret     string
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string

	// Tree layout
	PeopleBaseDN string
	PersonClass  string `default:"inetOrgPerson"`
	RDNAttribute string `default:"uid"`

	// Permission roles (optional; activation is unavailable without them)
	PermissionBaseDN string
	PermissionClass  string `default:"groupOfNames"`
	ActiveRoleName   string `default:"active"`
	MemberAttribute  string `default:"member"`

	// Timeouts and pool tuning
	ConnectTimeout   time.Duration `default:"10s"`
	OperationTimeout time.Duration `default:"30s"`
	MaxConnections   int           `default:"5"`
	MaxIdleTime      time.Duration `default:"5m"`

	// Backoff tuning for connection establishment. Failed operations are
	// never retried here; they surface as typed errors the caller can
	// retry with a fresh session.
	MaxRetries     int           `default:"2"`
	InitialBackoff time.Duration `default:"500ms"`
	BackoffFactor  float64       `default:"2"`
	MaxBackoff     time.Duration `default:"10s"`

	// TLSConfig overrides the TLS client configuration used for LDAPS.
	TLSConfig *tls.Config
}

// Normalize fills unset fields with their defaults and validates the result.
func (c *Config) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("applying config defaults: %w", err)
	}
	if _, err := ParseTLSMode(string(c.TLS)); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PeopleBaseDN == "" {
		return fmt.Errorf("people base DN is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive")
	}
	if c.BackoffFactor <= 1.0 {
		return fmt.Errorf("BackoffFactor must be greater than 1.0")
	}
	if c.TLSConfig == nil && c.TLS == TLSRequired {
		c.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return nil
}

// URL returns the server URL the client dials.
func (c *Config) URL() string {
	scheme := "ldap"
	if c.TLS == TLSRequired {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// UsesKerberos reports whether bind should go through GSSAPI.
func (c *Config) UsesKerberos() bool {
	return c.KerberosRealm != ""
}

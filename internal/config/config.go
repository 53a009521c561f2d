// Package config assembles runtime settings for the directory tooling from
// environment variables, with sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isometry/persondir/internal/directory"
)

// Settings is the full runtime configuration.
type Settings struct {
	Directory directory.Config

	// Fake selects the in-memory directory backend instead of a network
	// connection. Useful for local experimentation.
	Fake bool

	Token struct {
		SigningKey string
		Issuer     string
		Lifetime   time.Duration
	}

	// ConfirmBaseURL is prepended to confirmation tokens when building
	// links for outbound mail.
	ConfirmBaseURL string

	Log struct {
		Level string
	}
}

// Load reads settings from PERSONDIR_* environment variables and normalizes
// the directory configuration.
func Load() (*Settings, error) {
	s := &Settings{}

	s.Directory.Host = getEnv("PERSONDIR_HOST", "localhost")
	s.Directory.Port = getEnvInt("PERSONDIR_PORT", 389)
	tlsMode, err := directory.ParseTLSMode(getEnv("PERSONDIR_TLS", string(directory.TLSRequired)))
	if err != nil {
		return nil, err
	}
	s.Directory.TLS = tlsMode
	s.Directory.BindDN = getEnv("PERSONDIR_BIND_DN", "")
	s.Directory.BindSecret = getEnv("PERSONDIR_BIND_SECRET", "")
	s.Directory.KerberosRealm = getEnv("PERSONDIR_KRB5_REALM", "")
	s.Directory.KerberosKeytab = getEnv("PERSONDIR_KRB5_KEYTAB", "")
	s.Directory.KerberosConfig = getEnv("PERSONDIR_KRB5_CONFIG", "")
	s.Directory.PeopleBaseDN = getEnv("PERSONDIR_PEOPLE_BASE_DN", "")
	s.Directory.PersonClass = getEnv("PERSONDIR_PERSON_CLASS", "")
	s.Directory.RDNAttribute = getEnv("PERSONDIR_RDN_ATTRIBUTE", "")
	s.Directory.PermissionBaseDN = getEnv("PERSONDIR_PERMISSION_BASE_DN", "")
	s.Directory.PermissionClass = getEnv("PERSONDIR_PERMISSION_CLASS", "")
	s.Directory.ActiveRoleName = getEnv("PERSONDIR_ACTIVE_ROLE", "")
	s.Directory.MemberAttribute = getEnv("PERSONDIR_MEMBER_ATTRIBUTE", "")

	s.Fake = getEnv("PERSONDIR_FAKE", "") == "true"
	if s.Fake {
		// The in-memory backend needs no server, only a tree layout.
		if s.Directory.PeopleBaseDN == "" {
			s.Directory.PeopleBaseDN = "ou=people,dc=example,dc=org"
		}
		if s.Directory.PermissionBaseDN == "" {
			s.Directory.PermissionBaseDN = "ou=roles,dc=example,dc=org"
		}
	}

	s.Token.SigningKey = getEnv("PERSONDIR_TOKEN_KEY", "")
	s.Token.Issuer = getEnv("PERSONDIR_TOKEN_ISSUER", "persondir")
	s.Token.Lifetime = getEnvDuration("PERSONDIR_TOKEN_LIFETIME", time.Hour)

	s.ConfirmBaseURL = getEnv("PERSONDIR_CONFIRM_BASE_URL", "")

	s.Log.Level = getEnv("PERSONDIR_LOG_LEVEL", "info")

	if err := s.Directory.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid directory configuration: %w", err)
	}
	return s, nil
}

// NewLogger builds a production zap logger at the configured level.
func (s *Settings) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.Log.Level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

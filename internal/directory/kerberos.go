package directory

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind authenticates an LDAP connection via GSSAPI. The bind DN
// carries the Kerberos principal; credentials come from a keytab, the
// default credential cache, or the bind secret, in that order.
func kerberosBind(conn *ldap.Conn, cfg *Config) error {
	principal, realm := splitPrincipal(cfg.BindDN, cfg.KerberosRealm)
	if realm == "" {
		return fmt.Errorf("kerberos realm is required")
	}
	if principal == "" {
		return fmt.Errorf("kerberos principal is required")
	}

	krb5conf := cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if !fileExists(krb5conf) {
		return fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	gssapiClient, err := createGSSAPIClient(cfg, principal, realm, krb5conf)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn := fmt.Sprintf("ldap/%s", cfg.Host)
	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// createGSSAPIClient selects credentials in priority order:
// explicit keytab, default credential cache, bind secret.
func createGSSAPIClient(cfg *Config, principal, realm, krb5conf string) (ldap.GSSAPIClient, error) {
	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, realm, cfg.KerberosKeytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if ccache := defaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if cfg.BindSecret != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.BindSecret, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// splitPrincipal extracts the realm from a user@REALM principal when no
// explicit realm is configured.
func splitPrincipal(principal, realm string) (string, string) {
	if realm == "" && strings.Contains(principal, "@") {
		parts := strings.SplitN(principal, "@", 2)
		return parts[0], parts[1]
	}
	return principal, realm
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

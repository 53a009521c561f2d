package directory

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, nil); err == nil {
		t.Fatal("expected an error for a nil config")
	}
	if _, err := NewClient(&Config{}, nil); err == nil {
		t.Fatal("expected an error for a config without a people base DN")
	}
}

func TestClientStats(t *testing.T) {
	client, err := NewClient(&Config{
		PeopleBaseDN: "ou=people,dc=example,dc=org",
		TLS:          TLSNone,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	stats := client.Stats()
	if stats.Created != 0 || stats.Errors != 0 || stats.Idle != 0 {
		t.Fatalf("fresh client stats = %+v, want zero counters", stats)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConnectAfterClose(t *testing.T) {
	client, err := NewClient(&Config{
		PeopleBaseDN: "ou=people,dc=example,dc=org",
		TLS:          TLSNone,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected an error connecting on a closed client")
	}
	// Close is idempotent.
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// A Close that lands between Connect's closed check and its channel receive
// closes the idle channel under Connect. The receive then yields nil, which
// must surface as an error rather than a panic.
func TestConnectRacingClose(t *testing.T) {
	cfg := &Config{
		PeopleBaseDN: "ou=people,dc=example,dc=org",
		TLS:          TLSNone,
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	client := &PooledClient{
		config: cfg,
		log:    zap.NewNop(),
		idle:   make(chan *pooledConn, cfg.MaxConnections),
	}
	close(client.idle)
	if _, err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected an error when the pool is shut down mid-connect")
	}
}

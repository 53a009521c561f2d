package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// PooledClient is the network-backed Client. Connections are pooled and
// bound before being handed out; each Connect leases one session whose Close
// returns it to the pool.
type PooledClient struct {
	config *Config
	log    *zap.Logger

	idle   chan *pooledConn
	mu     sync.RWMutex
	closed bool

	created int64
	errors  int64
}

// NewClient builds a directory client from the given configuration. The
// configuration is normalized in place. The logger may be nil.
func NewClient(config *Config, log *zap.Logger) (*PooledClient, error) {
	if config == nil {
		return nil, errors.New("directory config is required")
	}
	if err := config.Normalize(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PooledClient{
		config: config,
		log:    log.Named("directory"),
		idle:   make(chan *pooledConn, config.MaxConnections),
	}, nil
}

type pooledConn struct {
	conn     *ldap.Conn
	lastUsed time.Time
}

// Connect leases a session. The caller must Close it on every exit path.
func (c *PooledClient) Connect(ctx context.Context) (Conn, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, errors.New("directory client is closed")
	}
	c.mu.RUnlock()

	// Reuse an idle connection when one is still fresh.
	for {
		select {
		case pc := <-c.idle:
			// A Close racing this receive closes the channel and
			// yields the zero value.
			if pc == nil {
				return nil, errors.New("directory client is closed")
			}
			if time.Since(pc.lastUsed) < c.config.MaxIdleTime {
				return &session{client: c, pc: pc}, nil
			}
			pc.conn.Close()
		default:
			return c.dial(ctx)
		}
	}
}

func (c *PooledClient) dial(ctx context.Context) (Conn, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		conn, err := c.dialOnce()
		if err == nil {
			atomic.AddInt64(&c.created, 1)
			return &session{client: c, pc: &pooledConn{conn: conn, lastUsed: time.Now()}}, nil
		}
		lastErr = err
		atomic.AddInt64(&c.errors, 1)
		c.log.Debug("dial failed",
			zap.String("url", c.config.URL()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt == c.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	return nil, &OperationError{
		Op:        "connect",
		Category:  ErrorCategoryConnection,
		Retryable: true,
		Cause:     lastErr,
	}
}

func (c *PooledClient) dialOnce() (*ldap.Conn, error) {
	url := c.config.URL()

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: c.config.ConnectTimeout}),
	}
	if c.config.TLS == TLSRequired {
		opts = append(opts, ldap.DialWithTLSConfig(c.config.TLSConfig))
	}
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetTimeout(c.config.OperationTimeout)

	if err := c.bind(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", url, err)
	}
	return conn, nil
}

func (c *PooledClient) bind(conn *ldap.Conn) error {
	if c.config.UsesKerberos() {
		return kerberosBind(conn, c.config)
	}
	if c.config.BindDN == "" {
		// Anonymous bind.
		return conn.UnauthenticatedBind("")
	}
	return conn.Bind(c.config.BindDN, c.config.BindSecret)
}

// Stats reports pool counters since the client was built.
type Stats struct {
	Created int64
	Errors  int64
	Idle    int
}

func (c *PooledClient) Stats() Stats {
	return Stats{
		Created: atomic.LoadInt64(&c.created),
		Errors:  atomic.LoadInt64(&c.errors),
		Idle:    len(c.idle),
	}
}

// release puts a session's connection back into the idle pool, or closes it
// when the pool is full or shut down.
func (c *PooledClient) release(pc *pooledConn) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || pc.conn == nil {
		if pc.conn != nil {
			pc.conn.Close()
		}
		return
	}
	pc.lastUsed = time.Now()
	select {
	case c.idle <- pc:
	default:
		pc.conn.Close()
	}
}

// Close shuts the client down and closes every idle connection. Sessions
// still leased are closed as they are released.
func (c *PooledClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.idle)
	for pc := range c.idle {
		pc.conn.Close()
	}
	c.log.Debug("directory client closed",
		zap.Int64("connections_created", atomic.LoadInt64(&c.created)),
		zap.Int64("connection_errors", atomic.LoadInt64(&c.errors)))
	return nil
}

// session is one leased connection exposing the neutral Conn operations.
type session struct {
	client *PooledClient
	pc     *pooledConn
	done   bool
	broken bool
}

func (s *session) Close() {
	if s.done {
		return
	}
	s.done = true
	if s.broken {
		s.pc.conn.Close()
		return
	}
	s.client.release(s.pc)
}

// fail wraps an operation error and marks the session broken when the
// failure was at the connection level, so Close discards the socket instead
// of pooling it.
func (s *session) fail(op, dn string, err error) error {
	wrapped := WrapError(op, err)
	var opErr *OperationError
	if errors.As(wrapped, &opErr) {
		opErr.DN = dn
		if opErr.Category == ErrorCategoryConnection || opErr.Category == ErrorCategoryServer {
			s.broken = true
		}
	}
	return wrapped
}

func (s *session) Search(ctx context.Context, req *SearchRequest) ([]*Entry, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	timeLimit := req.TimeLimit
	if timeLimit == 0 {
		timeLimit = s.client.config.OperationTimeout
	}
	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(timeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := s.pc.conn.Search(ldapReq)
	if err != nil {
		return nil, s.fail("search", req.BaseDN, err)
	}

	entries := make([]*Entry, 0, len(result.Entries))
	for _, raw := range result.Entries {
		entries = append(entries, fromLDAPEntry(raw))
	}
	return entries, nil
}

func (s *session) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return errors.New("add request cannot be nil")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pc.conn.Add(ldapReq); err != nil {
		return s.fail("add", req.DN, err)
	}
	return nil
}

func (s *session) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return errors.New("modify request cannot be nil")
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.Replace {
		ldapReq.Replace(attr, values)
	}
	for attr, values := range req.Add {
		ldapReq.Add(attr, values)
	}
	for _, attr := range req.Delete {
		ldapReq.Delete(attr, []string{})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pc.conn.Modify(ldapReq); err != nil {
		return s.fail("modify", req.DN, err)
	}
	return nil
}

func fromLDAPEntry(raw *ldap.Entry) *Entry {
	attrs := make(map[string][]string, len(raw.Attributes))
	for _, attr := range raw.Attributes {
		values := make([]string, len(attr.Values))
		copy(values, attr.Values)
		attrs[attr.Name] = values
	}
	return &Entry{DN: raw.DN, Attributes: attrs}
}

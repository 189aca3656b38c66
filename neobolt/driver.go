// Package neobolt is the top-level facade: it freezes the PackStream
// registry once at startup and wires pool+session together behind a single
// Driver a caller constructs once per target database.
package neobolt

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/graph"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/packstream"
	"github.com/neobolt/driver/pool"
	"github.com/neobolt/driver/result"
	"github.com/neobolt/driver/session"
)

var (
	registryOnce sync.Once
	registry     *packstream.Registry
)

// sharedRegistry lazily builds and freezes the process-wide structure
// registry the first time a Driver is constructed (spec.md §5 "global
// state"): every graph and message structure factory is registered before
// the registry is frozen, so no connection can race a registration.
func sharedRegistry() *packstream.Registry {
	registryOnce.Do(func() {
		reg := packstream.NewRegistry()
		if err := graph.RegisterBuiltins(reg); err != nil {
			panic("neobolt: register graph structures: " + err.Error())
		}
		if err := message.RegisterBuiltins(reg); err != nil {
			panic("neobolt: register message structures: " + err.Error())
		}
		reg.Freeze()
		registry = reg
	})
	return registry
}

// Config configures a Driver.
type Config struct {
	Address   string
	Auth      auth.Token
	TLSConfig *tls.Config
	UserAgent string

	MaxPoolSize      int
	MinPoolSize      int
	ConnectTimeout   time.Duration
	AcquireTimeout   time.Duration
	MaxConnIdleTime  time.Duration
	EvictionInterval time.Duration
	RequestTimeout   time.Duration

	Tracer trace.Tracer
}

// Driver is the long-lived handle a caller holds for one database: a
// connection pool plus the auth/session defaults new sessions inherit.
type Driver struct {
	pool *pool.Pool
	auth auth.Token
}

// New validates cfg and constructs a Driver backed by a connection pool. It
// does not dial eagerly; the pool connects lazily on first Acquire (or
// proactively if MinPoolSize > 0).
func New(cfg Config) (*Driver, error) {
	const op = "neobolt.New"
	if cfg.Address == "" {
		return nil, bolterr.Connectionf(op, "address is required")
	}

	p := pool.New(pool.Config{
		ConnConfig: conn.Config{
			Address:        cfg.Address,
			TLSConfig:      cfg.TLSConfig,
			UserAgent:      cfg.UserAgent,
			RequestTimeout: cfg.RequestTimeout,
			Registry:       sharedRegistry(),
			Tracer:         cfg.Tracer,
		},
		Auth:             cfg.Auth,
		MaxSize:          cfg.MaxPoolSize,
		MinSize:          cfg.MinPoolSize,
		ConnectTimeout:   cfg.ConnectTimeout,
		AcquireTimeout:   cfg.AcquireTimeout,
		MaxIdleTime:      cfg.MaxConnIdleTime,
		EvictionInterval: cfg.EvictionInterval,
		Tracer:           cfg.Tracer,
	})

	return &Driver{pool: p, auth: cfg.Auth}, nil
}

// NewSession opens a Session borrowing connections from the Driver's pool.
func (d *Driver) NewSession(cfg session.Config) *Session {
	return &Session{inner: session.New(d.pool, cfg)}
}

// VerifyConnectivity acquires and immediately releases a connection,
// surfacing any dial/handshake/auth failure without running a query.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	d.pool.Release(c)
	return nil
}

// Stats exposes the pool's current size/idle counts.
func (d *Driver) Stats() pool.Stats { return d.pool.Stats() }

// Close shuts the Driver's pool down, closing every pooled connection.
func (d *Driver) Close() error { return d.pool.Close() }

// Session is a thin wrapper narrowing session.Session to the facade's
// surface; callers needing explicit/managed transactions use it directly.
type Session struct {
	inner *session.Session
}

func (s *Session) Bookmarks() []string { return s.inner.Bookmarks() }

func (s *Session) Run(ctx context.Context, cypher string, params map[string]any) (*result.Result, error) {
	return s.inner.Run(ctx, cypher, params)
}

func (s *Session) Begin(ctx context.Context, cfg session.TransactionConfig) (*session.Transaction, error) {
	return s.inner.Begin(ctx, cfg)
}

func (s *Session) ExecuteRead(ctx context.Context, work session.TxWork, cfg ...session.TransactionConfig) (any, error) {
	return s.inner.ExecuteRead(ctx, work, cfg...)
}

func (s *Session) ExecuteWrite(ctx context.Context, work session.TxWork, cfg ...session.TransactionConfig) (any, error) {
	return s.inner.ExecuteWrite(ctx, work, cfg...)
}

func (s *Session) Close(ctx context.Context) error { return s.inner.Close(ctx) }

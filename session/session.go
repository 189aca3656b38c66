// Package session implements the user-facing unit of work (spec.md §4.6):
// auto-commit runs, explicit transactions with begin/commit/rollback, and
// managed transactions that retry on transient server errors.
package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/pool"
	"github.com/neobolt/driver/result"
)

// AccessMode hints the server/cluster which kind of work a transaction does.
type AccessMode int

const (
	Write AccessMode = iota
	Read
)

func (m AccessMode) wireValue() string {
	if m == Read {
		return "r"
	}
	return "w"
}

// Config configures a Session.
type Config struct {
	Database                string
	AccessMode              AccessMode
	InitialBookmarks        []string
	MaxTransactionRetryTime time.Duration // default 30s, used by ExecuteRead/ExecuteWrite
}

func (c Config) maxRetryTime() time.Duration {
	if c.MaxTransactionRetryTime > 0 {
		return c.MaxTransactionRetryTime
	}
	return 30 * time.Second
}

// TransactionConfig carries BEGIN's optional tx_timeout/tx_metadata fields.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

func (c TransactionConfig) extra() map[string]any {
	extra := map[string]any{}
	if c.Timeout > 0 {
		extra["tx_timeout"] = c.Timeout.Milliseconds()
	}
	if len(c.Metadata) > 0 {
		extra["tx_metadata"] = c.Metadata
	}
	return extra
}

// Session serializes a caller's operations onto a single borrowed
// connection at a time and tracks bookmarks for causal consistency. A
// Session is not safe for concurrent use — spec.md §5 requires the caller
// to serialize its own calls.
type Session struct {
	pool      *pool.Pool
	cfg       Config
	bookmarks *BookmarkManager

	conn   *conn.Connection // non-nil while a connection is borrowed
	tx     *Transaction      // non-nil while an explicit transaction is open
	closed bool
}

// New creates a Session borrowing connections from p.
func New(p *pool.Pool, cfg Config) *Session {
	return &Session{pool: p, cfg: cfg, bookmarks: NewBookmarkManager(cfg.InitialBookmarks)}
}

// Bookmarks returns the bookmarks this session has observed so far.
func (s *Session) Bookmarks() []string { return s.bookmarks.Bookmarks() }

func (s *Session) acquire(ctx context.Context) (*conn.Connection, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = c
	return c, nil
}

func (s *Session) release() {
	if s.conn == nil {
		return
	}
	s.pool.Release(s.conn)
	s.conn = nil
}

func (s *Session) baseExtra(mode AccessMode) map[string]any {
	extra := map[string]any{"mode": mode.wireValue()}
	if s.cfg.Database != "" {
		extra["db"] = s.cfg.Database
	}
	if bms := s.bookmarks.Bookmarks(); len(bms) > 0 {
		bmAny := make([]any, len(bms))
		for i, b := range bms {
			bmAny[i] = b
		}
		extra["bookmarks"] = bmAny
	}
	return extra
}

// Run executes an auto-commit query: it is rejected while an explicit
// transaction is open; otherwise it acquires a connection, sends RUN, and
// returns a Result whose first read sends PULL. The connection returns to
// the pool when the Result is fully consumed or closed (spec.md §4.6).
func (s *Session) Run(ctx context.Context, cypher string, params map[string]any) (*result.Result, error) {
	const op = "session.Run"
	if s.closed {
		return nil, bolterr.Sessionf(op, "session is closed")
	}
	if s.tx != nil {
		return nil, bolterr.Sessionf(op, "cannot auto-commit while an explicit transaction is open")
	}

	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := c.Run(ctx, cypher, params, s.baseExtra(s.cfg.AccessMode))
	if err != nil {
		s.release()
		return nil, err
	}
	return result.New(&autoCommitStream{session: s, conn: c}, keys), nil
}

// autoCommitStream adapts *conn.Connection to result.Result's streamer
// interface, releasing the session's connection back to the pool once the
// stream reaches its single terminal Pull or Discard call.
type autoCommitStream struct {
	session *Session
	conn    *conn.Connection
}

func (a *autoCommitStream) Pull(ctx context.Context, n int64, onRecord conn.RecordHandler) (map[string]any, error) {
	summary, err := a.conn.Pull(ctx, n, onRecord)
	a.session.release()
	return summary, err
}

func (a *autoCommitStream) Discard(ctx context.Context, n int64) (map[string]any, error) {
	summary, err := a.conn.Discard(ctx, n)
	a.session.release()
	return summary, err
}

// Begin opens an explicit transaction on a newly (or already) acquired
// connection.
func (s *Session) Begin(ctx context.Context, cfg TransactionConfig) (*Transaction, error) {
	return s.beginWithMode(ctx, s.cfg.AccessMode, cfg)
}

func (s *Session) beginWithMode(ctx context.Context, mode AccessMode, cfg TransactionConfig) (*Transaction, error) {
	const op = "session.Begin"
	if s.closed {
		return nil, bolterr.Sessionf(op, "session is closed")
	}
	if s.tx != nil {
		return nil, bolterr.Sessionf(op, "a transaction is already open on this session")
	}

	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	extra := s.baseExtra(mode)
	for k, v := range cfg.extra() {
		extra[k] = v
	}
	if err := c.Begin(ctx, extra); err != nil {
		s.release()
		return nil, err
	}

	tx := &Transaction{session: s, conn: c, state: Active}
	s.tx = tx
	return tx, nil
}

// Close closes any open transaction (rolling it back) and returns the
// borrowed connection to the pool (spec.md §4.6).
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tx != nil && s.tx.state != Closed {
		_ = s.tx.Rollback(ctx)
	}
	s.release()
	return nil
}

// TxWork is the user closure passed to ExecuteRead/ExecuteWrite.
type TxWork func(tx *Transaction) (any, error)

// ExecuteRead runs work inside a managed read transaction, retrying on
// transient server errors.
func (s *Session) ExecuteRead(ctx context.Context, work TxWork, cfg ...TransactionConfig) (any, error) {
	return s.executeManaged(ctx, Read, work, cfg...)
}

// ExecuteWrite runs work inside a managed write transaction, retrying on
// transient server errors.
func (s *Session) ExecuteWrite(ctx context.Context, work TxWork, cfg ...TransactionConfig) (any, error) {
	return s.executeManaged(ctx, Write, work, cfg...)
}

func (s *Session) executeManaged(ctx context.Context, mode AccessMode, work TxWork, cfgs ...TransactionConfig) (any, error) {
	var txCfg TransactionConfig
	if len(cfgs) > 0 {
		txCfg = cfgs[0]
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.maxRetryTime()

	var out any
	err := backoff.Retry(func() error {
		tx, err := s.beginWithMode(ctx, mode, txCfg)
		if err != nil {
			if bolterr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		workResult, workErr := work(tx)
		if workErr != nil {
			_ = tx.Rollback(ctx)
			if bolterr.IsTransient(workErr) {
				return workErr
			}
			return backoff.Permanent(workErr)
		}

		if _, commitErr := tx.Commit(ctx); commitErr != nil {
			if bolterr.IsTransient(commitErr) {
				return commitErr
			}
			return backoff.Permanent(commitErr)
		}

		out = workResult
		return nil
	}, bo)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Package pool implements a bounded pool of Bolt connections: acquisition
// with waiter queueing, idle eviction, minimum-size background maintenance,
// and discarding of Failed or Defunct connections on release (spec.md §4.5).
package pool

import (
	"container/list"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/graph"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/packstream"
)

// Config configures a Pool.
type Config struct {
	ConnConfig conn.Config // address, TLS, registry, per-request timeout
	Auth       auth.Token
	HelloExtra map[string]any

	MaxSize          int           // >= 1
	MinSize          int           // >= 0
	ConnectTimeout   time.Duration // bound on handshake+hello+logon
	AcquireTimeout   time.Duration // bound on waiting for a free connection
	MaxIdleTime      time.Duration // 0 disables idle eviction
	EvictionInterval time.Duration // how often the idle scan runs; defaults to MaxIdleTime/2

	Tracer trace.Tracer
}

func (c Config) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("github.com/neobolt/driver/pool")
}

// pooledConn is the bookkeeping record spec.md §3 calls "Pooled connection".
type pooledConn struct {
	conn       *conn.Connection
	createdAt  time.Time
	lastUsedAt time.Time
}

// waiter is one blocked Acquire call.
type waiter struct {
	result chan acquireResult
}

type acquireResult struct {
	conn *conn.Connection
	err  error
}

// Pool hands out authenticated, Ready connections and takes them back.
type Pool struct {
	cfg    Config
	tracer trace.Tracer

	mu      sync.Mutex
	idle    *list.List // of *pooledConn, tail = most recently released
	waiters *list.List // of *waiter, front = next served
	total   int
	closed  bool

	maintaining bool // true while a min-size top-up is in flight

	stopEviction chan struct{}
	evictionDone chan struct{}
}

// New constructs a Pool and starts its idle-eviction loop. A nil
// ConnConfig.Registry is replaced by a frozen registry holding the message
// and graph built-ins.
func New(cfg Config) *Pool {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.ConnConfig.Registry == nil {
		reg := packstream.NewRegistry()
		_ = message.RegisterBuiltins(reg)
		_ = graph.RegisterBuiltins(reg)
		reg.Freeze()
		cfg.ConnConfig.Registry = reg
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = cfg.MaxIdleTime / 2
	}

	p := &Pool{
		cfg:          cfg,
		tracer:       cfg.tracer(),
		idle:         list.New(),
		waiters:      list.New(),
		stopEviction: make(chan struct{}),
		evictionDone: make(chan struct{}),
	}

	if cfg.MaxIdleTime > 0 && cfg.EvictionInterval > 0 {
		go p.evictLoop()
	} else {
		close(p.evictionDone)
	}

	go p.maintainMinSize()

	return p
}

// Acquire returns a Ready connection: an idle one, a newly created one, or
// one handed off by a concurrent Release, per spec.md §4.5's three-step
// algorithm.
func (p *Pool) Acquire(ctx context.Context) (*conn.Connection, error) {
	const op = "pool.Acquire"
	ctx, span := p.tracer.Start(ctx, op)
	defer span.End()

	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		err := bolterr.Poolf(op, "pool is closed")
		span.RecordError(err)
		return nil, err
	}

	if c := p.popHealthyIdle(); c != nil {
		p.mu.Unlock()
		span.SetAttributes(attribute.String("pool.source", "idle"))
		return c, nil
	}

	if p.total < p.cfg.MaxSize {
		p.total++
		p.mu.Unlock()

		span.SetAttributes(attribute.String("pool.source", "new"))
		c, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			span.RecordError(err)
			return nil, err
		}
		return c, nil
	}

	w := &waiter{result: make(chan acquireResult, 1)}
	el := p.waiters.PushBack(w)
	p.mu.Unlock()

	span.SetAttributes(attribute.String("pool.source", "waiter"))
	select {
	case res := <-w.result:
		if res.err != nil {
			span.RecordError(res.err)
		}
		return res.conn, res.err
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(el)
		p.mu.Unlock()
		err := bolterr.Poolf(op, "acquire timed out: %s", ctx.Err())
		span.RecordError(err)
		return nil, err
	}
}

// popHealthyIdle pops entries from the idle deque's tail, discarding any
// that turned Defunct while idle, until a usable one is found or the deque
// is empty. Must be called with p.mu held.
func (p *Pool) popHealthyIdle() *conn.Connection {
	for p.idle.Len() > 0 {
		el := p.idle.Back()
		p.idle.Remove(el)
		pc := el.Value.(*pooledConn)
		if pc.conn.State() == conn.Defunct {
			p.total--
			continue
		}
		return pc.conn
	}
	return nil
}

func (p *Pool) dial(ctx context.Context) (*conn.Connection, error) {
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}

	c, err := conn.Dial(ctx, p.cfg.ConnConfig)
	if err != nil {
		return nil, err
	}
	if err := c.Hello(ctx, p.cfg.HelloExtra); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.Logon(ctx, p.cfg.Auth); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Release returns c to the pool. A Defunct or Failed connection is
// discarded rather than reused (spec.md §4.5).
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}

	if c.State() == conn.Defunct || c.State() == conn.Failed {
		p.total--
		p.mu.Unlock()
		log.Printf("pool: discarding %s connection %s on release", c.State(), c.ID())
		_ = c.Close()
		go p.maintainMinSize()
		return
	}

	if el := p.waiters.Front(); el != nil {
		w := p.waiters.Remove(el).(*waiter)
		p.mu.Unlock()
		w.result <- acquireResult{conn: c}
		return
	}

	p.idle.PushBack(&pooledConn{conn: c, lastUsedAt: time.Now()})
	p.mu.Unlock()
}

// maintainMinSize tops the pool up to MinSize in the background, retrying
// each failed dial up to 3 times with exponential backoff and swallowing the
// eventual error. It runs when the pool is created, when Release discards a
// Failed or Defunct connection, and after an eviction pass that closed at
// least one connection; releasing a healthy connection and an eviction pass
// that closed nothing do not start it.
func (p *Pool) maintainMinSize() {
	p.mu.Lock()
	if p.maintaining || p.closed || p.cfg.MinSize <= 0 {
		p.mu.Unlock()
		return
	}
	p.maintaining = true
	p.mu.Unlock()
	log.Printf("pool: topping up to min size %d", p.cfg.MinSize)

	defer func() {
		p.mu.Lock()
		p.maintaining = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		var c *conn.Connection
		err := backoff.Retry(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.connectTimeoutOrDefault())
			defer cancel()
			dialed, dialErr := p.dial(ctx)
			if dialErr != nil {
				return dialErr
			}
			c = dialed
			return nil
		}, bo)

		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			log.Printf("pool: min-size top-up dial failed, giving up until next release/eviction: %v", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = c.Close()
			return
		}
		p.idle.PushBack(&pooledConn{conn: c, lastUsedAt: time.Now()})
		p.mu.Unlock()
		log.Printf("pool: min-size top-up added connection %s", c.ID())
	}
}

func (p *Pool) connectTimeoutOrDefault() time.Duration {
	if p.cfg.ConnectTimeout > 0 {
		return p.cfg.ConnectTimeout
	}
	return 30 * time.Second
}

// evictLoop periodically closes idle connections that have sat unused
// beyond MaxIdleTime, provided doing so does not drop total below MinSize.
func (p *Pool) evictLoop() {
	defer close(p.evictionDone)
	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopEviction:
			return
		case <-ticker.C:
			p.evictOnce()
		}
	}
}

func (p *Pool) evictOnce() {
	p.mu.Lock()
	var toClose []*conn.Connection
	now := time.Now()

	for el := p.idle.Front(); el != nil; {
		next := el.Next()
		pc := el.Value.(*pooledConn)
		if p.total <= p.cfg.MinSize {
			break
		}
		if now.Sub(pc.lastUsedAt) > p.cfg.MaxIdleTime {
			p.idle.Remove(el)
			p.total--
			toClose = append(toClose, pc.conn)
		}
		el = next
	}
	p.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
	if len(toClose) > 0 {
		log.Printf("pool: evicted %d idle connection(s) past max idle time %s", len(toClose), p.cfg.MaxIdleTime)
		go p.maintainMinSize()
	}
}

// Close marks the pool closed, fails every waiter, and closes every idle
// connection concurrently, aggregating close errors.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for el := p.waiters.Front(); el != nil; el = el.Next() {
		w := el.Value.(*waiter)
		w.result <- acquireResult{err: bolterr.Poolf("pool.Close", "pool closed while waiting")}
	}
	p.waiters.Init()

	var toClose []*conn.Connection
	for el := p.idle.Front(); el != nil; el = el.Next() {
		toClose = append(toClose, el.Value.(*pooledConn).conn)
	}
	p.idle.Init()
	p.total -= len(toClose)
	p.mu.Unlock()

	close(p.stopEviction)
	<-p.evictionDone

	var g errgroup.Group
	errs := make([]error, len(toClose))
	for i, c := range toClose {
		i, c := i, c
		g.Go(func() error {
			errs[i] = c.Close()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stats reports the pool's current size for diagnostics and tests.
type Stats struct {
	Total int
	Idle  int
}

// Stats returns a snapshot of the pool's size.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Idle: p.idle.Len()}
}

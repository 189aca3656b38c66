// Package conn implements a single Bolt connection: the TCP/TLS socket, the
// handshake, the server-state machine (spec.md §4.4), and the request/response
// cycle for every client message. A Connection is used by exactly one
// goroutine at a time — the pool and session layers above it are responsible
// for that serialization (spec.md §5).
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/chunk"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/packstream"
)

// Config configures a single Connection.
type Config struct {
	Address        string
	TLSConfig      *tls.Config // nil dials plaintext
	UserAgent      string
	BoltAgent      map[string]any // optional "bolt_agent" HELLO extra, v5.3+
	RequestTimeout time.Duration  // per round-trip deadline; 0 disables it
	Registry       *packstream.Registry
	Tracer         trace.Tracer // defaults to a no-op tracer
}

func (c Config) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("github.com/neobolt/driver/conn")
}

func (c Config) registry() *packstream.Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return packstream.Default()
}

// Connection is one authenticated, state-tracked Bolt socket.
type Connection struct {
	id      string
	netConn net.Conn
	reg     *packstream.Registry
	dec     *chunk.Decoder
	state   State
	version serverVersion

	userAgent      string
	requestTimeout time.Duration
	tracer         trace.Tracer

	pending []chunk.PackStream // messages decoded but not yet consumed by recvOne
}

// Dial opens the TCP/TLS socket and runs the version handshake. The
// connection is Authenticating on return and must still go through Hello and
// Logon before it is Ready.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	const op = "conn.Dial"

	d := net.Dialer{}
	raw, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, bolterr.Connectionf(op, "dial %s: %s", cfg.Address, err)
	}

	nc := raw
	if cfg.TLSConfig != nil {
		tc := tls.Client(raw, cfg.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, bolterr.Connectionf(op, "tls handshake: %s", err)
		}
		nc = tc
	}

	c := &Connection{
		id:             uuid.NewString(),
		netConn:        nc,
		reg:            cfg.registry(),
		dec:            chunk.NewDecoder(),
		state:          Negotiating,
		userAgent:      cfg.UserAgent,
		requestTimeout: cfg.RequestTimeout,
		tracer:         cfg.tracer(),
	}

	v, err := handshake(nc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	c.version = v
	c.state = Authenticating
	return c, nil
}

// ID is the connection's correlation identifier, used in logs and traces.
func (c *Connection) ID() string { return c.id }

// State reports the connection's current position in the server-state
// machine.
func (c *Connection) State() State { return c.state }

// Version is the negotiated Bolt protocol version.
func (c *Connection) Version() (major, minor byte) { return c.version.major, c.version.minor }

// Close sends GOODBYE best-effort and closes the socket. It never returns an
// error for an already-Defunct connection.
func (c *Connection) Close() error {
	if c.state == Defunct {
		return nil
	}
	if IsLegal(c.state, message.TagGoodbye) {
		_ = c.sendOnly(message.Goodbye{})
	}
	c.state = Defunct
	return c.netConn.Close()
}

// Hello begins the connection, sending client identification. extra should
// not include credentials on v5.1+ servers; use Logon for those.
func (c *Connection) Hello(ctx context.Context, extra map[string]any) error {
	merged := map[string]any{}
	for k, v := range extra {
		merged[k] = v
	}
	if _, ok := merged["user_agent"]; !ok && c.userAgent != "" {
		merged["user_agent"] = c.userAgent
	}
	_, err := c.request(ctx, "conn.Hello", message.TagHello, message.Hello{Extra: merged})
	return err
}

// Logon authenticates the connection using token.
func (c *Connection) Logon(ctx context.Context, token auth.Token) error {
	_, err := c.request(ctx, "conn.Logon", message.TagLogon, message.Logon{Auth: token.Data()})
	if err != nil {
		if db, ok := asDatabaseError(err); ok && bolterr.IsAuthFailure(db.Code) {
			return bolterr.Authf("conn.Logon", "%s", db.Msg)
		}
		return err
	}
	return nil
}

// Logoff ends authentication without closing the socket, returning the
// connection to an unauthenticated Ready-equivalent state.
func (c *Connection) Logoff(ctx context.Context) error {
	_, err := c.request(ctx, "conn.Logoff", message.TagLogoff, message.Logoff{})
	return err
}

// Begin opens an explicit transaction.
func (c *Connection) Begin(ctx context.Context, extra map[string]any) error {
	_, err := c.request(ctx, "conn.Begin", message.TagBegin, message.Begin{Extra: extra})
	return err
}

// Run executes query, auto-commit if the connection is Ready or inside the
// open transaction if it is TxReady, and returns the result's field names.
func (c *Connection) Run(ctx context.Context, query string, params, extra map[string]any) ([]string, error) {
	terminal, err := c.request(ctx, "conn.Run", message.TagRun, message.Run{Query: query, Parameters: params, Extra: extra})
	if err != nil {
		return nil, err
	}
	success := terminal.(message.Success)
	fields, _ := success.Metadata["fields"].([]any)
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i], _ = f.(string)
	}
	return keys, nil
}

// RecordHandler receives one streamed record. Returning an error aborts the
// remainder of the stream with that error.
type RecordHandler func(message.Record) error

// Pull streams up to n records (0 or -1 means "all") from the most recent
// Run, invoking onRecord for each, and returns the terminal summary.
func (c *Connection) Pull(ctx context.Context, n int64, onRecord RecordHandler) (map[string]any, error) {
	return c.stream(ctx, "conn.Pull", message.TagPull, message.Pull{N: n}, onRecord)
}

// Discard abandons the remainder of the most recent Run's results.
func (c *Connection) Discard(ctx context.Context, n int64) (map[string]any, error) {
	return c.stream(ctx, "conn.Discard", message.TagDiscard, message.Discard{N: n}, nil)
}

// Commit commits the open explicit transaction and returns the new bookmark.
func (c *Connection) Commit(ctx context.Context) (string, error) {
	terminal, err := c.request(ctx, "conn.Commit", message.TagCommit, message.Commit{})
	if err != nil {
		return "", err
	}
	success := terminal.(message.Success)
	bookmark, _ := success.Metadata["bookmark"].(string)
	return bookmark, nil
}

// Rollback aborts the open explicit transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	_, err := c.request(ctx, "conn.Rollback", message.TagRollback, message.Rollback{})
	return err
}

// Reset forces the connection back to Ready, discarding any pending result
// or open transaction. Used to recover from Failed.
func (c *Connection) Reset(ctx context.Context) error {
	if c.state == Failed {
		log.Printf("conn: resetting failed connection %s", c.id)
	}
	_, err := c.request(ctx, "conn.Reset", message.TagReset, message.Reset{})
	return err
}

// Ping is a cheap liveness check: it fails for a Defunct connection, returns
// nil at once for a Ready one, and RESETs a connection in any other state
// rather than opening a new socket.
func (c *Connection) Ping(ctx context.Context) error {
	if c.state == Defunct {
		return bolterr.Connectionf("conn.Ping", "connection is defunct")
	}
	if c.state == Ready {
		return nil
	}
	return c.Reset(ctx)
}

// RunAndPull pipelines RUN immediately followed by PULL, reading both
// responses afterward, to honor the FIFO pipelining the protocol allows
// (spec.md §4.4 invariant "Pipelining").
func (c *Connection) RunAndPull(ctx context.Context, query string, params, extra map[string]any, n int64, onRecord RecordHandler) ([]string, map[string]any, error) {
	const op = "conn.RunAndPull"
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("bolt.connection_id", c.id)))
	defer span.End()

	if !IsLegal(c.state, message.TagRun) {
		err := bolterr.Protocolf(op, "RUN illegal from state %s", c.state)
		span.RecordError(err)
		return nil, nil, err
	}
	if err := c.sendOnly(message.Run{Query: query, Parameters: params, Extra: extra}); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	// PULL is written before RUN's SUCCESS has moved the state on, so its
	// legality is checked from the state a successful RUN leads to.
	prev := c.state
	c.state, _ = NextState(prev, message.TagRun)
	pullErr := c.sendOnly(message.Pull{N: n})
	if c.state != Defunct {
		c.state = prev
	}
	if pullErr != nil {
		span.RecordError(pullErr)
		return nil, nil, pullErr
	}

	runTerminal, err := c.readTerminal(op, message.TagRun)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	success := runTerminal.(message.Success)
	fields, _ := success.Metadata["fields"].([]any)
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i], _ = f.(string)
	}

	summary, err := c.readStreamTerminal(op, message.TagPull, onRecord)
	if err != nil {
		span.RecordError(err)
		return keys, nil, err
	}
	return keys, summary, nil
}

// request sends a single no-stream message and waits for its terminal
// response (SUCCESS/FAILURE/IGNORED).
func (c *Connection) request(ctx context.Context, op string, tag byte, m packstream.Marshaler) (any, error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("bolt.connection_id", c.id),
		attribute.Int("bolt.message_tag", int(tag)),
	))
	defer span.End()

	if err := c.withDeadline(ctx, func() error { return c.sendOnly(m) }); err != nil {
		span.RecordError(err)
		return nil, err
	}
	var terminal any
	err := c.withDeadline(ctx, func() error {
		t, err := c.readTerminal(op, tag)
		terminal = t
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return terminal, nil
}

// stream sends a streaming request (PULL/DISCARD) and collects its records.
func (c *Connection) stream(ctx context.Context, op string, tag byte, m packstream.Marshaler, onRecord RecordHandler) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("bolt.connection_id", c.id)))
	defer span.End()

	if err := c.withDeadline(ctx, func() error { return c.sendOnly(m) }); err != nil {
		span.RecordError(err)
		return nil, err
	}
	var summary map[string]any
	err := c.withDeadline(ctx, func() error {
		s, err := c.readStreamTerminal(op, tag, onRecord)
		summary = s
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return summary, nil
}

func (c *Connection) withDeadline(ctx context.Context, fn func() error) error {
	deadline, ok := ctx.Deadline()
	if !ok && c.requestTimeout > 0 {
		deadline = time.Now().Add(c.requestTimeout)
		ok = true
	}
	if ok {
		_ = c.netConn.SetDeadline(deadline)
		defer c.netConn.SetDeadline(time.Time{})
	}
	return fn()
}

// sendOnly checks state legality, encodes and frames m, and writes it.
func (c *Connection) sendOnly(m packstream.Marshaler) error {
	tag, _, err := m.MarshalPackStream()
	if err != nil {
		return fmt.Errorf("conn: marshal: %w", err)
	}
	if !IsLegal(c.state, tag) {
		return bolterr.Protocolf("conn.send", "message 0x%02X illegal from state %s", tag, c.state)
	}
	framed, err := message.EncodeFramed(m)
	if err != nil {
		return bolterr.Protocolf("conn.send", "encode: %s", err)
	}
	if _, err := c.netConn.Write(framed); err != nil {
		log.Printf("conn: connection %s %s -> %s (write: %s)", c.id, c.state, Defunct, err)
		c.state = Defunct
		return bolterr.Connectionf("conn.send", "write: %s", err)
	}
	return nil
}

// readTerminal reads exactly one message and treats it as the terminal
// response to the message tagged sentTag sent from the connection's state
// before this call, advancing state on SUCCESS.
func (c *Connection) readTerminal(op string, sentTag byte) (any, error) {
	msg, err := c.recvOne(op)
	if err != nil {
		return nil, err
	}
	return c.resolveTerminal(op, sentTag, msg)
}

// readStreamTerminal reads RECORDs (handing each to onRecord) until the
// terminal SUCCESS/FAILURE/IGNORED for a PULL or DISCARD arrives.
func (c *Connection) readStreamTerminal(op string, sentTag byte, onRecord RecordHandler) (map[string]any, error) {
	for {
		msg, err := c.recvOne(op)
		if err != nil {
			return nil, err
		}
		if rec, ok := msg.(message.Record); ok {
			if onRecord != nil {
				if err := onRecord(rec); err != nil {
					return nil, err
				}
			}
			continue
		}
		terminal, err := c.resolveTerminal(op, sentTag, msg)
		if err != nil {
			return nil, err
		}
		success := terminal.(message.Success)
		return success.Metadata, nil
	}
}

func (c *Connection) resolveTerminal(op string, sentTag byte, msg any) (any, error) {
	switch m := msg.(type) {
	case message.Success:
		next, ok := NextState(c.state, sentTag)
		if ok && next != c.state {
			log.Printf("conn: connection %s %s -> %s", c.id, c.state, next)
			c.state = next
		}
		return m, nil
	case message.Failure:
		log.Printf("conn: connection %s %s -> %s (%s)", c.id, c.state, Failed, m.Code())
		c.state = Failed
		return nil, bolterr.DatabaseError(op, m.Code(), m.Message())
	case message.Ignored:
		return nil, bolterr.Protocolf(op, "request ignored by server (connection already failed)")
	default:
		log.Printf("conn: connection %s %s -> %s (unexpected message %T)", c.id, c.state, Defunct, msg)
		c.state = Defunct
		return nil, bolterr.Protocolf(op, "unexpected response message %T", msg)
	}
}

// recvOne blocks until one complete message has been decoded off the wire.
// A single TCP read can complete several messages at once (e.g. a run of
// RECORDs); any beyond the first are queued in pending for the next call.
func (c *Connection) recvOne(op string) (any, error) {
	for {
		if len(c.pending) > 0 {
			raw := c.pending[0]
			c.pending = c.pending[1:]
			return c.decodeOne(op, raw)
		}
		buf := make([]byte, 4096)
		n, err := c.netConn.Read(buf)
		if n > 0 {
			if msgs := c.dec.Feed(buf[:n]); len(msgs) > 0 {
				c.pending = msgs
				continue
			}
		}
		if err != nil {
			log.Printf("conn: connection %s %s -> %s (read: %s)", c.id, c.state, Defunct, err)
			c.state = Defunct
			return nil, bolterr.Connectionf(op, "read: %s", err)
		}
	}
}

func (c *Connection) decodeOne(op string, raw chunk.PackStream) (any, error) {
	v, err := message.Decode(raw, c.reg)
	if err != nil {
		log.Printf("conn: connection %s %s -> %s (decode: %s)", c.id, c.state, Defunct, err)
		c.state = Defunct
		return nil, bolterr.Protocolf(op, "decode response: %s", err)
	}
	return v, nil
}

func asDatabaseError(err error) (*bolterr.Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for {
		if e, ok := err.(*bolterr.Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
		if err == nil {
			return nil, false
		}
	}
}

package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/chunk"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/packstream"
	"github.com/neobolt/driver/pool"
	"github.com/neobolt/driver/session"
)

// scriptedBoltServer answers handshake/HELLO/LOGON unconditionally, and
// routes every subsequent request to a per-tag handler, letting each test
// script the exact RUN/PULL/BEGIN/COMMIT sequence it needs.
type scriptedBoltServer struct {
	addr     string
	handlers map[byte]func(req any) []packstream.Marshaler
}

func startScriptedServer(t *testing.T, handlers map[byte]func(req any) []packstream.Marshaler) string {
	t.Helper()

	reg := packstream.NewRegistry()
	require.NoError(t, message.RegisterBuiltins(reg))
	registerClientFactories(t, reg)

	lc := net.ListenConfig{}
	lis, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	go func() {
		for {
			c, err := lis.Accept()
			if err != nil {
				return
			}
			go serveScripted(c, reg, handlers)
		}
	}()

	return lis.Addr().String()
}

func registerClientFactories(t *testing.T, reg *packstream.Registry) {
	t.Helper()
	register := func(tag byte, f packstream.Factory) { require.NoError(t, reg.Register(tag, f)) }

	register(message.TagHello, func(f []any) (any, error) { return message.Hello{}, nil })
	register(message.TagLogon, func(f []any) (any, error) { return message.Logon{}, nil })
	register(message.TagRun, func(f []any) (any, error) {
		query, _ := f[0].(string)
		params, _ := f[1].(map[string]any)
		return message.Run{Query: query, Parameters: params}, nil
	})
	register(message.TagPull, func(f []any) (any, error) { return message.Pull{}, nil })
	register(message.TagDiscard, func(f []any) (any, error) { return message.Discard{}, nil })
	register(message.TagBegin, func(f []any) (any, error) { return message.Begin{}, nil })
	register(message.TagCommit, func(f []any) (any, error) { return message.Commit{}, nil })
	register(message.TagRollback, func(f []any) (any, error) { return message.Rollback{}, nil })
	register(message.TagReset, func(f []any) (any, error) { return message.Reset{}, nil })
	register(message.TagGoodbye, func(f []any) (any, error) { return message.Goodbye{}, nil })
}

func serveScripted(c net.Conn, reg *packstream.Registry, handlers map[byte]func(req any) []packstream.Marshaler) {
	defer c.Close()

	var preamble [4]byte
	if _, err := readFull(c, preamble[:]); err != nil {
		return
	}
	var proposal [16]byte
	if _, err := readFull(c, proposal[:]); err != nil {
		return
	}
	if _, err := c.Write([]byte{0, 0, 4, 5}); err != nil {
		return
	}

	dec := chunk.NewDecoder()
	for {
		buf := make([]byte, 4096)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		for _, raw := range dec.Feed(buf[:n]) {
			req, err := message.Decode(raw, reg)
			if err != nil {
				return
			}
			tag := requestTag(req)

			var responses []packstream.Marshaler
			if tag == message.TagHello || tag == message.TagLogon {
				responses = []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
			} else if h, ok := handlers[tag]; ok {
				responses = h(req)
			} else {
				responses = []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
			}

			for _, resp := range responses {
				framed, err := message.EncodeFramed(resp)
				if err != nil {
					return
				}
				if _, err := c.Write(framed); err != nil {
					return
				}
			}
		}
	}
}

func requestTag(req any) byte {
	switch req.(type) {
	case message.Hello:
		return message.TagHello
	case message.Logon:
		return message.TagLogon
	case message.Run:
		return message.TagRun
	case message.Pull:
		return message.TagPull
	case message.Discard:
		return message.TagDiscard
	case message.Begin:
		return message.TagBegin
	case message.Commit:
		return message.TagCommit
	case message.Rollback:
		return message.TagRollback
	case message.Reset:
		return message.TagReset
	case message.Goodbye:
		return message.TagGoodbye
	default:
		return 0
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestSession(t *testing.T, handlers map[byte]func(req any) []packstream.Marshaler, cfg session.Config) (*session.Session, *pool.Pool) {
	t.Helper()
	addr := startScriptedServer(t, handlers)
	p := pool.New(pool.Config{
		ConnConfig:     conn.Config{Address: addr, RequestTimeout: 2 * time.Second},
		Auth:           auth.Basic("neo4j", "password", ""),
		MaxSize:        2,
		ConnectTimeout: 2 * time.Second,
		AcquireTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = p.Close() })
	return session.New(p, cfg), p
}

func runHandler(records [][]any, summary map[string]any) map[byte]func(req any) []packstream.Marshaler {
	return map[byte]func(req any) []packstream.Marshaler{
		message.TagRun: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{"fields": []any{"n"}}}}
		},
		message.TagPull: func(req any) []packstream.Marshaler {
			out := make([]packstream.Marshaler, 0, len(records)+1)
			for _, r := range records {
				out = append(out, message.Record{Data: r})
			}
			out = append(out, message.Success{Metadata: summary})
			return out
		},
	}
}

func TestAutoCommitRunStreamsRecordsAndReleasesConnection(t *testing.T) {
	handlers := runHandler([][]any{{int64(1)}, {int64(2)}}, map[string]any{"has_more": false})
	s, p := newTestSession(t, handlers, session.Config{})
	ctx := context.Background()

	res, err := s.Run(ctx, "RETURN 1 AS n", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"n"}, res.Keys())

	recs, err := res.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.Equal(t, 1, p.Stats().Idle)
}

func TestRunRejectedWhileExplicitTransactionOpen(t *testing.T) {
	handlers := map[byte]func(req any) []packstream.Marshaler{
		message.TagBegin: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
	}
	s, _ := newTestSession(t, handlers, session.Config{})
	ctx := context.Background()

	_, err := s.Begin(ctx, session.TransactionConfig{})
	require.NoError(t, err)

	_, err = s.Run(ctx, "RETURN 1", nil)
	require.Error(t, err)
}

func TestExplicitTransactionCommitUpdatesBookmark(t *testing.T) {
	handlers := map[byte]func(req any) []packstream.Marshaler{
		message.TagBegin: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
		message.TagRun: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{"fields": []any{"n"}}}}
		},
		message.TagPull: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{"has_more": false}}}
		},
		message.TagCommit: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{"bookmark": "bm-1"}}}
		},
	}
	s, _ := newTestSession(t, handlers, session.Config{})
	ctx := context.Background()

	tx, err := s.Begin(ctx, session.TransactionConfig{})
	require.NoError(t, err)

	res, err := tx.Run(ctx, "CREATE (n) RETURN n", nil)
	require.NoError(t, err)
	require.NoError(t, res.Consume(ctx))

	bookmark, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, "bm-1", bookmark)
	require.Equal(t, []string{"bm-1"}, s.Bookmarks())
	require.Equal(t, session.Closed, tx.State())
}

func TestTransactionRunErrorMarksForRollback(t *testing.T) {
	handlers := map[byte]func(req any) []packstream.Marshaler{
		message.TagBegin: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
		message.TagRun: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Failure{Metadata: map[string]any{
				"code":    "Neo.ClientError.Statement.SyntaxError",
				"message": "bad cypher",
			}}}
		},
		message.TagReset: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
	}
	s, _ := newTestSession(t, handlers, session.Config{})
	ctx := context.Background()

	tx, err := s.Begin(ctx, session.TransactionConfig{})
	require.NoError(t, err)

	_, err = tx.Run(ctx, "NOT CYPHER", nil)
	require.Error(t, err)
	require.Equal(t, session.MarkedForRollback, tx.State())

	_, err = tx.Commit(ctx)
	require.Error(t, err)

	require.NoError(t, tx.Rollback(ctx))
	require.Equal(t, session.Closed, tx.State())
}

func TestSessionCloseRollsBackOpenTransaction(t *testing.T) {
	rolledBack := false
	handlers := map[byte]func(req any) []packstream.Marshaler{
		message.TagBegin: func(req any) []packstream.Marshaler {
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
		message.TagRollback: func(req any) []packstream.Marshaler {
			rolledBack = true
			return []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
		},
	}
	s, p := newTestSession(t, handlers, session.Config{})
	ctx := context.Background()

	_, err := s.Begin(ctx, session.TransactionConfig{})
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	require.True(t, rolledBack)
	require.Equal(t, 1, p.Stats().Idle)
}

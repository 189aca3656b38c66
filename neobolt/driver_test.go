package neobolt_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/chunk"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/neobolt"
	"github.com/neobolt/driver/packstream"
	"github.com/neobolt/driver/session"
)

// startHandshakeServer accepts connections, negotiates Bolt 5.4, answers
// HELLO/LOGON with SUCCESS, and answers any RUN with one field "n" followed
// by a single record and a terminal SUCCESS on PULL.
func startHandshakeServer(t *testing.T) string {
	t.Helper()

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
			go serveOne(c)
		}
	}()

	return lis.Addr().String()
}

func serveOne(c net.Conn) {
	defer c.Close()

	var preamble [4]byte
	if _, err := io.ReadFull(c, preamble[:]); err != nil {
		return
	}
	var proposal [16]byte
	if _, err := io.ReadFull(c, proposal[:]); err != nil {
		return
	}
	if _, err := c.Write([]byte{0, 0, 4, 5}); err != nil {
		return
	}

	reg := packstream.NewRegistry()
	_ = message.RegisterBuiltins(reg)
	_ = reg.Register(message.TagHello, func(f []any) (any, error) { return message.Hello{}, nil })
	_ = reg.Register(message.TagLogon, func(f []any) (any, error) { return message.Logon{}, nil })
	_ = reg.Register(message.TagRun, func(f []any) (any, error) { return message.Run{}, nil })
	_ = reg.Register(message.TagPull, func(f []any) (any, error) { return message.Pull{}, nil })
	_ = reg.Register(message.TagGoodbye, func(f []any) (any, error) { return message.Goodbye{}, nil })

	dec := chunk.NewDecoder()
	for {
		buf := make([]byte, 4096)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		for _, raw := range dec.Feed(buf[:n]) {
			req, err := message.Decode(raw, reg)
			if err != nil {
				return
			}

			var out []packstream.Marshaler
			switch req.(type) {
			case message.Run:
				out = []packstream.Marshaler{message.Success{Metadata: map[string]any{"fields": []any{"n"}}}}
			case message.Pull:
				out = []packstream.Marshaler{
					message.Record{Data: []any{int64(1)}},
					message.Success{Metadata: map[string]any{"has_more": false}},
				}
			case message.Goodbye:
				return
			default:
				out = []packstream.Marshaler{message.Success{Metadata: map[string]any{}}}
			}

			for _, resp := range out {
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

func TestDriverVerifyConnectivityAndRun(t *testing.T) {
	addr := startHandshakeServer(t)

	d, err := neobolt.New(neobolt.Config{
		Address:        addr,
		Auth:           auth.Basic("neo4j", "password", ""),
		MaxPoolSize:    2,
		ConnectTimeout: 2 * time.Second,
		AcquireTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.VerifyConnectivity(context.Background()))
	require.Equal(t, 1, d.Stats().Idle)

	sess := d.NewSession(session.Config{})
	defer sess.Close(context.Background())

	res, err := sess.Run(context.Background(), "RETURN 1 AS n", nil)
	require.NoError(t, err)

	recs, err := res.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1), recs[0].Values[0])
}

func TestDriverRequiresAddress(t *testing.T) {
	_, err := neobolt.New(neobolt.Config{})
	require.Error(t, err)
}

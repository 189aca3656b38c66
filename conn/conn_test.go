package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/chunk"
	"github.com/neobolt/driver/graph"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/packstream"
)

// fakeServer is a minimal in-process stand-in for a Bolt server; each test's
// server goroutine reads requests and writes its replies in order, grounded on the
// teacher's relayStartup/readMessageRaw pattern (proxy/postgres/conn.go).
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	dec  *chunk.Decoder
	reg  *packstream.Registry
}

// registerClientFactories lets the fake server decode the client-to-server
// messages a real server parses; message.RegisterBuiltins only covers the
// server-to-client direction.
func registerClientFactories(t *testing.T, reg *packstream.Registry) {
	t.Helper()
	require.NoError(t, reg.Register(message.TagHello, func(f []any) (any, error) {
		extra, _ := f[0].(map[string]any)
		return message.Hello{Extra: extra}, nil
	}))
	require.NoError(t, reg.Register(message.TagLogon, func(f []any) (any, error) {
		auth, _ := f[0].(map[string]any)
		return message.Logon{Auth: auth}, nil
	}))
	require.NoError(t, reg.Register(message.TagRun, func(f []any) (any, error) {
		query, _ := f[0].(string)
		params, _ := f[1].(map[string]any)
		extra, _ := f[2].(map[string]any)
		return message.Run{Query: query, Parameters: params, Extra: extra}, nil
	}))
	require.NoError(t, reg.Register(message.TagPull, func(f []any) (any, error) {
		extra, _ := f[0].(map[string]any)
		n, _ := extra["n"].(int64)
		return message.Pull{N: n}, nil
	}))
}

func newFakeServer(t *testing.T, side net.Conn) *fakeServer {
	reg := packstream.NewRegistry()
	require.NoError(t, message.RegisterBuiltins(reg))
	require.NoError(t, graph.RegisterBuiltins(reg))
	registerClientFactories(t, reg)
	return &fakeServer{t: t, conn: side, dec: chunk.NewDecoder(), reg: reg}
}

func (f *fakeServer) negotiate(major, minor byte) {
	var preamble [4]byte
	_, err := readFull(f.conn, preamble[:])
	require.NoError(f.t, err)
	var proposal [16]byte
	_, err = readFull(f.conn, proposal[:])
	require.NoError(f.t, err)
	_, err = f.conn.Write([]byte{0, 0, minor, major})
	require.NoError(f.t, err)
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

func (f *fakeServer) recv() any {
	for {
		buf := make([]byte, 4096)
		n, err := f.conn.Read(buf)
		require.NoError(f.t, err)
		if n == 0 {
			continue
		}
		msgs := f.dec.Feed(buf[:n])
		if len(msgs) == 0 {
			continue
		}
		v, err := message.Decode(msgs[0], f.reg)
		require.NoError(f.t, err)
		return v
	}
}

func (f *fakeServer) send(m packstream.Marshaler) {
	framed, err := message.EncodeFramed(m)
	require.NoError(f.t, err)
	_, err = f.conn.Write(framed)
	require.NoError(f.t, err)
}

func newTestConnection(side net.Conn) *Connection {
	reg := packstream.NewRegistry()
	_ = message.RegisterBuiltins(reg)
	_ = graph.RegisterBuiltins(reg)
	return &Connection{
		id:             "test",
		netConn:        side,
		reg:            reg,
		dec:            chunk.NewDecoder(),
		state:          Negotiating,
		requestTimeout: 2 * time.Second,
		tracer:         noop.NewTracerProvider().Tracer("test"),
	}
}

func testToken() auth.Token {
	return auth.Basic("neo4j", "password", "")
}

func isDatabaseErr(err error) bool {
	return bolterr.Is(err, bolterr.Database)
}

func TestConnectionHandshakeHelloLogonRunPullLifecycle(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	srv := newFakeServer(t, serverSide)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.negotiate(5, 4)

		require.IsType(t, message.Hello{}, srv.recv())
		srv.send(message.Success{Metadata: map[string]any{"server": "fake/1.0"}})

		require.IsType(t, message.Logon{}, srv.recv())
		srv.send(message.Success{Metadata: map[string]any{}})

		require.IsType(t, message.Run{}, srv.recv())
		srv.send(message.Success{Metadata: map[string]any{"fields": []any{"n"}}})

		require.IsType(t, message.Pull{}, srv.recv())
		srv.send(message.Record{Data: []any{int64(1)}})
		srv.send(message.Record{Data: []any{int64(2)}})
		srv.send(message.Success{Metadata: map[string]any{"has_more": false}})
	}()

	c := newTestConnection(clientSide)
	v, err := handshake(clientSide)
	require.NoError(t, err)
	c.version = v
	c.state = Authenticating

	ctx := context.Background()
	require.NoError(t, c.Hello(ctx, map[string]any{"user_agent": "neobolt/test"}))
	require.Equal(t, Authenticating, c.state)

	require.NoError(t, c.Logon(ctx, testToken()))
	require.Equal(t, Ready, c.state)

	keys, err := c.Run(ctx, "RETURN 1 AS n", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"n"}, keys)
	require.Equal(t, Streaming, c.state)

	var records []message.Record
	summary, err := c.Pull(ctx, -1, func(r message.Record) error {
		records = append(records, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, false, summary["has_more"])
	require.Equal(t, Ready, c.state)

	<-done
}

func TestConnectionFailureTransitionsToFailedState(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	srv := newFakeServer(t, serverSide)
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.IsType(t, message.Run{}, srv.recv())
		srv.send(message.Failure{Metadata: map[string]any{
			"code":    "Neo.ClientError.Statement.SyntaxError",
			"message": "bad cypher",
		}})
	}()

	c := newTestConnection(clientSide)
	c.state = Ready

	_, err := c.Run(context.Background(), "NOT CYPHER", nil, nil)
	require.Error(t, err)
	require.Equal(t, Failed, c.state)
	require.True(t, isDatabaseErr(err))

	<-done
}

func TestConnectionRejectsIllegalSend(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := newTestConnection(clientSide)
	c.state = Streaming // RUN is not legal while already streaming

	_, err := c.Run(context.Background(), "RETURN 1", nil, nil)
	require.Error(t, err)
}

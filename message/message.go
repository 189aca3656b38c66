// Package message defines the Bolt protocol's request and response
// envelopes (spec.md §4.3): each is a PackStream Structure with a fixed tag
// and field order. Client-to-server messages implement
// packstream.Marshaler; server-to-client messages are produced by decode
// factories registered with RegisterBuiltins.
package message

import (
	"fmt"

	"github.com/neobolt/driver/chunk"
	"github.com/neobolt/driver/packstream"
)

// Structure tags, spec.md §3.
const (
	TagHello    byte = 0x01
	TagGoodbye  byte = 0x02
	TagReset    byte = 0x0F
	TagRun      byte = 0x10
	TagBegin    byte = 0x11
	TagCommit   byte = 0x12
	TagRollback byte = 0x13
	TagDiscard  byte = 0x2F
	TagPull     byte = 0x3F
	TagLogon    byte = 0x6A
	TagLogoff   byte = 0x6B
	TagSuccess  byte = 0x70
	TagRecord   byte = 0x71
	TagIgnored  byte = 0x7E
	TagFailure  byte = 0x7F
)

func dict(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Hello begins a connection, carrying client identification metadata.
// Credentials travel separately via Logon on v5+ (spec.md §4.4).
type Hello struct {
	Extra map[string]any
}

func (h Hello) MarshalPackStream() (byte, []any, error) {
	return TagHello, []any{dict(h.Extra)}, nil
}

// Logon authenticates the connection using one of the schemes in spec.md §6.
type Logon struct {
	Auth map[string]any
}

func (l Logon) MarshalPackStream() (byte, []any, error) {
	return TagLogon, []any{dict(l.Auth)}, nil
}

// Logoff ends the authenticated session without closing the connection.
type Logoff struct{}

func (Logoff) MarshalPackStream() (byte, []any, error) {
	return TagLogoff, nil, nil
}

// Begin opens an explicit transaction.
type Begin struct {
	Extra map[string]any
}

func (b Begin) MarshalPackStream() (byte, []any, error) {
	return TagBegin, []any{dict(b.Extra)}, nil
}

// Run executes a Cypher query, either auto-commit or inside the
// transaction opened by the most recent Begin on this connection.
type Run struct {
	Query      string
	Parameters map[string]any
	Extra      map[string]any
}

func (r Run) MarshalPackStream() (byte, []any, error) {
	return TagRun, []any{r.Query, dict(r.Parameters), dict(r.Extra)}, nil
}

// Pull streams records from the most recent Run. N is the number of
// records to fetch; -1 (the default) means "all".
type Pull struct {
	N int64
}

func (p Pull) MarshalPackStream() (byte, []any, error) {
	n := p.N
	if n == 0 {
		n = -1
	}
	return TagPull, []any{map[string]any{"n": n}}, nil
}

// Discard abandons the remaining records of the most recent Run.
type Discard struct {
	N int64
}

func (d Discard) MarshalPackStream() (byte, []any, error) {
	n := d.N
	if n == 0 {
		n = -1
	}
	return TagDiscard, []any{map[string]any{"n": n}}, nil
}

// Commit commits the current explicit transaction.
type Commit struct{}

func (Commit) MarshalPackStream() (byte, []any, error) { return TagCommit, nil, nil }

// Rollback rolls back the current explicit transaction.
type Rollback struct{}

func (Rollback) MarshalPackStream() (byte, []any, error) { return TagRollback, nil, nil }

// Reset forces the connection back to Ready, discarding any pending result
// or transaction (spec.md §4.4, recovery from Failed).
type Reset struct{}

func (Reset) MarshalPackStream() (byte, []any, error) { return TagReset, nil, nil }

// Goodbye closes the connection gracefully; no response is expected.
type Goodbye struct{}

func (Goodbye) MarshalPackStream() (byte, []any, error) { return TagGoodbye, nil, nil }

// Success is the server's positive terminal response. Metadata's shape
// depends on which request it answers: "fields" for Run, "bookmark" for
// Commit, summary counters for Pull.
type Success struct {
	Metadata map[string]any
}

func successFactory(fields []any) (any, error) {
	m, err := requireDict(fields, "SUCCESS")
	if err != nil {
		return nil, err
	}
	return Success{Metadata: m}, nil
}

func (s Success) MarshalPackStream() (byte, []any, error) {
	return TagSuccess, []any{dict(s.Metadata)}, nil
}

// Failure is the server's negative terminal response.
type Failure struct {
	Metadata map[string]any
}

func failureFactory(fields []any) (any, error) {
	m, err := requireDict(fields, "FAILURE")
	if err != nil {
		return nil, err
	}
	return Failure{Metadata: m}, nil
}

func (f Failure) MarshalPackStream() (byte, []any, error) {
	return TagFailure, []any{dict(f.Metadata)}, nil
}

// Code returns the server error code ("Neo.ClientError...."), if present.
func (f Failure) Code() string {
	code, _ := f.Metadata["code"].(string)
	return code
}

// Message returns the human-readable server error message, if present.
func (f Failure) Message() string {
	msg, _ := f.Metadata["message"].(string)
	return msg
}

// Ignored means the server discarded the request because the connection
// was already in the Failed state.
type Ignored struct{}

func ignoredFactory(fields []any) (any, error) {
	if len(fields) != 0 {
		return nil, fmt.Errorf("IGNORED: expected 0 fields, got %d", len(fields))
	}
	return Ignored{}, nil
}

func (Ignored) MarshalPackStream() (byte, []any, error) { return TagIgnored, nil, nil }

// Record is one row of a result, field-aligned with the RUN SUCCESS's "fields" list.
type Record struct {
	Data []any
}

func recordFactory(fields []any) (any, error) {
	if len(fields) != 1 {
		return nil, fmt.Errorf("RECORD: expected 1 field, got %d", len(fields))
	}
	data, ok := fields[0].([]any)
	if !ok {
		return nil, fmt.Errorf("RECORD: data field is %T, want list", fields[0])
	}
	return Record{Data: data}, nil
}

func (r Record) MarshalPackStream() (byte, []any, error) {
	return TagRecord, []any{r.Data}, nil
}

func requireDict(fields []any, name string) (map[string]any, error) {
	if len(fields) != 1 {
		return nil, fmt.Errorf("%s: expected 1 field, got %d", name, len(fields))
	}
	m, ok := fields[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: metadata field is %T, want dict", name, fields[0])
	}
	return m, nil
}

// RegisterBuiltins registers the decode factories for every message a
// server sends to the client: SUCCESS, FAILURE, IGNORED, RECORD.
func RegisterBuiltins(reg *packstream.Registry) error {
	factories := map[byte]packstream.Factory{
		TagSuccess: successFactory,
		TagFailure: failureFactory,
		TagIgnored: ignoredFactory,
		TagRecord:  recordFactory,
	}
	for tag, factory := range factories {
		if err := reg.Register(tag, factory); err != nil {
			return err
		}
	}
	return nil
}

// EncodeFramed PackStream-encodes m and wraps it in chunk framing, ready to
// write to the wire.
func EncodeFramed(m packstream.Marshaler) ([]byte, error) {
	raw, err := packstream.Encode(nil, m)
	if err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	return chunk.Encode(raw), nil
}

// Decode reads a single message Structure from a reassembled chunk payload
// using reg for both the message envelope tags and any nested graph
// structures (Node, Relationship, ...) it might carry in a Record's data.
func Decode(payload []byte, reg *packstream.Registry) (any, error) {
	v, consumed, err := packstream.DecodeWith(payload, reg)
	if err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	if consumed != len(payload) {
		return nil, fmt.Errorf("message: decode: %d trailing bytes", len(payload)-consumed)
	}
	return v, nil
}

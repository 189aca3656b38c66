// Package bolterr defines the error taxonomy shared by every layer of the
// driver: codec, connection, pool, and session. Callers use errors.As to
// recover a *Error and inspect its Kind rather than matching on strings.
package bolterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error into one of the driver's failure categories.
type Kind int

const (
	// Protocol covers malformed PackStream/chunk data, unexpected messages,
	// and unknown structure tags.
	Protocol Kind = iota
	// Auth covers a server refusal of credentials.
	Auth
	// Database covers a server FAILURE for a query. Subkind narrows it.
	Database
	// Connection covers TCP/TLS errors, lost sockets, and request timeouts.
	Connection
	// Pool covers acquire timeouts and use of a closed pool.
	Pool
	// Session covers use-after-close and commit-while-marked-for-rollback.
	Session
	// Field covers record-accessor mismatches surfaced by the result layer.
	Field
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Auth:
		return "auth"
	case Database:
		return "database"
	case Connection:
		return "connection"
	case Pool:
		return "pool"
	case Session:
		return "session"
	case Field:
		return "field"
	}
	return "unknown"
}

// Subkind further classifies a Database error.
type Subkind int

const (
	// NoSubkind applies to every Kind other than Database.
	NoSubkind Subkind = iota
	// ClientSubkind is a user mistake (bad Cypher, constraint violation).
	ClientSubkind
	// TransientSubkind is safe to retry automatically.
	TransientSubkind
	// DatabaseSubkind is a server-side/internal failure.
	DatabaseSubkind
)

// Error is the concrete error type returned by every package in this
// module. It wraps an underlying cause where one exists.
type Error struct {
	Kind    Kind
	Subkind Subkind
	Op      string // e.g. "packstream.Decode", "conn.Handshake"
	Code    string // server error code, set only for Database errors
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Protocolf builds a Protocol error.
func Protocolf(op, format string, args ...any) *Error { return newf(Protocol, op, format, args...) }

// Authf builds an Auth error.
func Authf(op, format string, args ...any) *Error { return newf(Auth, op, format, args...) }

// Connectionf builds a Connection error.
func Connectionf(op, format string, args ...any) *Error { return newf(Connection, op, format, args...) }

// Poolf builds a Pool error.
func Poolf(op, format string, args ...any) *Error { return newf(Pool, op, format, args...) }

// Sessionf builds a Session error.
func Sessionf(op, format string, args ...any) *Error { return newf(Session, op, format, args...) }

// Fieldf builds a Field error.
func Fieldf(op, format string, args ...any) *Error { return newf(Field, op, format, args...) }

// Wrap attaches err as the cause of a newly built Error of the given kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

// DatabaseError builds a Database error from a server FAILURE's code and message,
// classifying the Subkind from the code prefix per the Neo4j error-code
// convention ("Neo.ClientError...", "Neo.TransientError...", "Neo.DatabaseError...").
func DatabaseError(op, code, message string) *Error {
	return &Error{
		Kind:    Database,
		Subkind: classifyCode(code),
		Op:      op,
		Code:    code,
		Msg:     message,
	}
}

func classifyCode(code string) Subkind {
	switch {
	case strings.Contains(code, "ClientError"):
		return ClientSubkind
	case strings.Contains(code, "TransientError"):
		return TransientSubkind
	default:
		return DatabaseSubkind
	}
}

// IsAuthFailure reports whether a server error code names an authentication
// failure, per spec.md §4.4 ("Neo.ClientError.Security.Unauthorized").
func IsAuthFailure(code string) bool {
	return strings.HasPrefix(code, "Neo.ClientError.Security.Unauthorized")
}

// IsTransient reports whether err is a Database error eligible for
// automatic retry by a managed transaction.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == Database && e.Subkind == TransientSubkind
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

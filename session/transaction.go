package session

import (
	"context"

	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/result"
)

// TxState is a Transaction's lifecycle position (spec.md §4.6).
type TxState int

const (
	Active TxState = iota
	MarkedForRollback
	Closed
)

// Transaction is an explicit unit of work opened by Session.Begin. It is
// not safe for concurrent use.
type Transaction struct {
	session *Session
	conn    *conn.Connection
	state   TxState
}

// State reports the transaction's current lifecycle position.
func (tx *Transaction) State() TxState { return tx.state }

// Run sends RUN on the transaction's connection and returns a Result whose
// first read sends PULL. An error moves the transaction to MarkedForRollback.
func (tx *Transaction) Run(ctx context.Context, cypher string, params map[string]any) (*result.Result, error) {
	const op = "session.Transaction.Run"
	switch tx.state {
	case Closed:
		return nil, bolterr.Sessionf(op, "transaction is closed")
	case MarkedForRollback:
		return nil, bolterr.Sessionf(op, "transaction is marked for rollback")
	}

	keys, err := tx.conn.Run(ctx, cypher, params, nil)
	if err != nil {
		tx.state = MarkedForRollback
		return nil, err
	}
	return result.New(&txStream{tx: tx}, keys), nil
}

// txStream adapts *conn.Connection to result.Result's streamer interface
// for a query run inside a transaction; unlike autoCommitStream it never
// releases the connection, since the transaction keeps it until commit or
// rollback.
type txStream struct {
	tx *Transaction
}

func (t *txStream) Pull(ctx context.Context, n int64, onRecord conn.RecordHandler) (map[string]any, error) {
	summary, err := t.tx.conn.Pull(ctx, n, onRecord)
	if err != nil {
		t.tx.state = MarkedForRollback
	}
	return summary, err
}

func (t *txStream) Discard(ctx context.Context, n int64) (map[string]any, error) {
	summary, err := t.tx.conn.Discard(ctx, n)
	if err != nil {
		t.tx.state = MarkedForRollback
	}
	return summary, err
}

// Commit commits the transaction and folds the returned bookmark into the
// session. Rejected when the transaction is closed or marked for rollback.
func (tx *Transaction) Commit(ctx context.Context) (string, error) {
	const op = "session.Transaction.Commit"
	switch tx.state {
	case Closed:
		return "", bolterr.Sessionf(op, "transaction is already closed")
	case MarkedForRollback:
		return "", bolterr.Sessionf(op, "transaction is marked for rollback; call Rollback instead")
	}

	bookmark, err := tx.conn.Commit(ctx)
	tx.state = Closed
	tx.session.tx = nil
	tx.session.release()
	if err != nil {
		return "", err
	}
	tx.session.bookmarks.Update(bookmark)
	return bookmark, nil
}

// Rollback aborts the transaction. It works from Active or
// MarkedForRollback, and is a no-op error on an already-closed transaction.
// A connection left in the Failed state by a prior RUN/PULL/DISCARD error
// cannot legally receive ROLLBACK (conn/state.go only allows RESET/GOODBYE
// from Failed); spec.md §4.4's implicit-RESET recovery applies here, so a
// Failed connection is recovered with RESET instead (spec.md §4.6, §8
// invariant 8).
func (tx *Transaction) Rollback(ctx context.Context) error {
	const op = "session.Transaction.Rollback"
	if tx.state == Closed {
		return bolterr.Sessionf(op, "transaction is already closed")
	}

	var err error
	if tx.conn.State() == conn.Failed {
		err = tx.conn.Reset(ctx)
	} else {
		err = tx.conn.Rollback(ctx)
	}
	tx.state = Closed
	tx.session.tx = nil
	tx.session.release()
	return err
}

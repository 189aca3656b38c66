// Package result implements the lazy record stream a RUN produces
// (spec.md §4.7): ordered field keys, several consumption modes, and
// summary metadata available once the stream completes.
package result

import (
	"context"

	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/message"
)

// Record is one row, field-aligned with the Result's Keys.
type Record struct {
	Keys   []string
	Values []any
}

// Get returns the value for a key and whether the key was present.
func (r Record) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// streamer is the narrow connection surface Result needs, satisfied by
// *conn.Connection. Result depends only on this interface, not on the
// concrete connection type, so callers and tests can supply their own.
type streamer interface {
	Pull(ctx context.Context, n int64, onRecord conn.RecordHandler) (map[string]any, error)
	Discard(ctx context.Context, n int64) (map[string]any, error)
}

// FetchSize is the PULL batch size Result requests internally; -1 (the
// default) fetches everything in one round trip.
const FetchSize = -1

// Result is the (keys, records, summary) triple spec.md §3 describes,
// streamed lazily off the connection that produced it.
type Result struct {
	conn    streamer
	keys    []string
	buf     []Record
	summary map[string]any
	done    bool
	err     error
}

// New wraps an already-RUN connection's keys into a Result ready to stream.
func New(c streamer, keys []string) *Result {
	return &Result{conn: c, keys: keys}
}

// Keys returns the ordered field names from the originating RUN's SUCCESS.
func (r *Result) Keys() []string { return r.keys }

// Next returns the next record, or ok=false once the stream is exhausted
// (check err for the reason; nil err means normal completion).
func (r *Result) Next(ctx context.Context) (rec Record, ok bool, err error) {
	if len(r.buf) == 0 && !r.done {
		if err := r.fetch(ctx); err != nil {
			return Record{}, false, err
		}
	}
	if len(r.buf) == 0 {
		return Record{}, false, r.err
	}
	rec, r.buf = r.buf[0], r.buf[1:]
	return rec, true, nil
}

func (r *Result) fetch(ctx context.Context) error {
	summary, err := r.conn.Pull(ctx, FetchSize, func(rm message.Record) error {
		r.buf = append(r.buf, Record{Keys: r.keys, Values: rm.Data})
		return nil
	})
	r.done = true
	if err != nil {
		r.err = err
		return err
	}
	r.summary = summary
	return nil
}

// Collect streams and returns every remaining record.
func (r *Result) Collect(ctx context.Context) ([]Record, error) {
	var out []Record
	for {
		rec, ok, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}

// Single requires the stream to produce exactly one record; any other count
// is a Field error.
func (r *Result) Single(ctx context.Context) (Record, error) {
	recs, err := r.Collect(ctx)
	if err != nil {
		return Record{}, err
	}
	if len(recs) != 1 {
		return Record{}, bolterr.Fieldf("result.Single", "expected exactly 1 record, got %d", len(recs))
	}
	return recs[0], nil
}

// First returns the first record, or ok=false if the stream was empty. Any
// remaining records are discarded.
func (r *Result) First(ctx context.Context) (rec Record, ok bool, err error) {
	rec, ok, err = r.Next(ctx)
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return Record{}, false, nil
	}
	if discardErr := r.Discard(ctx); discardErr != nil {
		return rec, true, discardErr
	}
	return rec, true, nil
}

// Discard abandons any remaining records without reading them.
func (r *Result) Discard(ctx context.Context) error {
	if r.done {
		r.buf = nil
		return nil
	}
	summary, err := r.conn.Discard(ctx, FetchSize)
	r.done = true
	r.buf = nil
	if err != nil {
		r.err = err
		return err
	}
	r.summary = summary
	return nil
}

// Consume drains every remaining record, discarding the values but still
// populating Summary — the PULL-to-completion fast path (SPEC_FULL.md §9a).
func (r *Result) Consume(ctx context.Context) error {
	_, err := r.Collect(ctx)
	return err
}

// Summary returns the terminal metadata, fully draining the stream first if
// it has not already completed.
func (r *Result) Summary(ctx context.Context) (map[string]any, error) {
	if !r.done {
		if err := r.Consume(ctx); err != nil {
			return nil, err
		}
	}
	return r.summary, nil
}

// Close abandons whatever remains of the stream (SPEC_FULL.md §9b). It is
// safe to call after the stream has already completed normally.
func (r *Result) Close(ctx context.Context) error {
	return r.Discard(ctx)
}

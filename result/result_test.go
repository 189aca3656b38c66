package result_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobolt/driver/bolterr"
	"github.com/neobolt/driver/conn"
	"github.com/neobolt/driver/message"
	"github.com/neobolt/driver/result"
)

// fakeStreamer stands in for *conn.Connection, delivering a fixed batch of
// records on its first Pull/Discard call.
type fakeStreamer struct {
	records     []message.Record
	summary     map[string]any
	pullCalls   int
	discardHits int
	err         error
}

func (f *fakeStreamer) Pull(_ context.Context, _ int64, onRecord conn.RecordHandler) (map[string]any, error) {
	f.pullCalls++
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.records {
		if err := onRecord(r); err != nil {
			return nil, err
		}
	}
	return f.summary, nil
}

func (f *fakeStreamer) Discard(_ context.Context, _ int64) (map[string]any, error) {
	f.discardHits++
	return f.summary, f.err
}

func TestResultCollectReturnsAllRecordsInOrder(t *testing.T) {
	fs := &fakeStreamer{
		records: []message.Record{{Data: []any{int64(1)}}, {Data: []any{int64(2)}}},
		summary: map[string]any{"has_more": false},
	}
	r := result.New(fs, []string{"n"})

	recs, err := r.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Values[0])
	assert.Equal(t, int64(2), recs[1].Values[0])

	summary, err := r.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, summary["has_more"])
	assert.Equal(t, 1, fs.pullCalls)
}

func TestResultSingleRejectsWrongCount(t *testing.T) {
	fs := &fakeStreamer{records: []message.Record{{Data: []any{int64(1)}}, {Data: []any{int64(2)}}}}
	r := result.New(fs, []string{"n"})

	_, err := r.Single(context.Background())
	require.Error(t, err)
	assert.True(t, bolterr.Is(err, bolterr.Field))
}

func TestResultFirstDiscardsRemainder(t *testing.T) {
	fs := &fakeStreamer{records: []message.Record{{Data: []any{int64(1)}}, {Data: []any{int64(2)}}}}
	r := result.New(fs, []string{"n"})

	rec, ok, err := r.First(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Values[0])
	// The single PULL already drained the stream, so no DISCARD is sent; the
	// second, buffered record is dropped instead.
	assert.Equal(t, 0, fs.discardHits)
	_, ok, err = r.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultCloseIsIdempotentAfterConsume(t *testing.T) {
	fs := &fakeStreamer{records: []message.Record{{Data: []any{int64(1)}}}}
	r := result.New(fs, []string{"n"})

	require.NoError(t, r.Consume(context.Background()))
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 0, fs.discardHits)
}

func TestResultRecordGet(t *testing.T) {
	rec := result.Record{Keys: []string{"a", "b"}, Values: []any{1, "x"}}
	v, ok := rec.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = rec.Get("missing")
	assert.False(t, ok)
}

package chunk_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobolt/driver/chunk"
)

func TestEncodeSmallMessage(t *testing.T) {
	enc := chunk.Encode([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, []byte{0x00, 0x03, 0x01, 0x02, 0x03, 0x00, 0x00}, enc)
}

func TestEncodeCrossing64KiB(t *testing.T) {
	// S5
	msg := bytes.Repeat([]byte{0xAB}, 70000)
	enc := chunk.Encode(msg)

	require.Len(t, enc, 2+65535+2+4465+2)
	assert.Equal(t, byte(0xFF), enc[0])
	assert.Equal(t, byte(0xFF), enc[1])

	secondChunkHeader := enc[2+65535:]
	assert.Equal(t, byte(4465>>8), secondChunkHeader[0])
	assert.Equal(t, byte(4465), secondChunkHeader[1])

	assert.Equal(t, []byte{0x00, 0x00}, enc[len(enc)-2:])
}

func TestDecodeReassemblesSplitMessage(t *testing.T) {
	msg := []byte("hello world")
	enc := chunk.Encode(msg)

	d := chunk.NewDecoder()

	// Feed one byte at a time to exercise arbitrary TCP segment boundaries.
	var got []chunk.PackStream
	for i := range enc {
		got = append(got, d.Feed(enc[i:i+1])...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, msg, []byte(got[0]))
}

func TestDecodeIdempotence(t *testing.T) {
	for _, l := range []int{0, 1, 100, 65535, 65536, 70000} {
		msg := bytes.Repeat([]byte{0x42}, l)
		enc := chunk.Encode(msg)

		wantChunks := int(math.Ceil(math.Max(float64(l), 1)/65535)) + 1
		chunkCount := countChunks(enc)
		assert.Equalf(t, wantChunks, chunkCount, "len=%d", l)

		d := chunk.NewDecoder()
		got := d.Feed(enc)
		require.Len(t, got, 1)
		assert.Equal(t, msg, []byte(got[0]))
	}
}

func countChunks(enc []byte) int {
	count := 0
	pos := 0
	for pos < len(enc) {
		n := int(enc[pos])<<8 | int(enc[pos+1])
		pos += 2 + n
		count++
	}
	return count
}

func TestDecodeMultipleMessagesInOneSegment(t *testing.T) {
	enc := append(chunk.Encode([]byte("one")), chunk.Encode([]byte("two"))...)

	d := chunk.NewDecoder()
	got := d.Feed(enc)

	require.Len(t, got, 2)
	assert.Equal(t, "one", string(got[0]))
	assert.Equal(t, "two", string(got[1]))
}

func TestDecodePartialHeaderAcrossFeeds(t *testing.T) {
	enc := chunk.Encode([]byte("payload"))

	d := chunk.NewDecoder()
	got := d.Feed(enc[:1])
	assert.Empty(t, got)

	got = d.Feed(enc[1:])
	require.Len(t, got, 1)
	assert.Equal(t, "payload", string(got[0]))
}

func TestResetDiscardsInFlightState(t *testing.T) {
	enc := chunk.Encode([]byte("payload"))
	d := chunk.NewDecoder()
	d.Feed(enc[:4])
	d.Reset()

	got := d.Feed(enc)
	require.Len(t, got, 1)
	assert.Equal(t, "payload", string(got[0]))
}

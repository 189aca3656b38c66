// Package chunk implements Bolt's chunked message framer: splitting an
// encoded PackStream message into length-prefixed chunks for the wire, and
// reassembling chunks read off a stream back into complete messages.
package chunk

const maxChunkSize = 0xFFFF

// Terminator is the 2-byte zero-length chunk that ends every Bolt message.
var Terminator = [2]byte{0x00, 0x00}

// Encode splits message into one or more length-prefixed chunks of at most
// 65535 bytes each, preserving order, and appends the terminating
// zero-length chunk.
func Encode(message []byte) []byte {
	out := make([]byte, 0, len(message)+4)
	for len(message) > 0 {
		n := len(message)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		out = append(out, byte(n>>8), byte(n))
		out = append(out, message[:n]...)
		message = message[n:]
	}
	out = append(out, Terminator[0], Terminator[1])
	return out
}

// Decoder reassembles chunks read off a stream into complete messages. It
// holds exactly the state spec.md §4.2 describes: the pending (possibly
// partial) length header, the chunk payload still being collected, and the
// message bytes accumulated from prior chunks. A single Feed call may
// complete zero, one, or many messages, since one TCP segment can contain
// several messages or only a fraction of one.
type Decoder struct {
	buf []byte // unconsumed raw bytes: header and/or chunk payload not yet processed
	msg []byte // payload bytes accumulated for the in-flight message
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly read bytes and returns every message that became
// complete as a result, each as its own independent byte slice.
func (d *Decoder) Feed(data []byte) []PackStream {
	d.buf = append(d.buf, data...)

	var messages []PackStream
	for {
		if len(d.buf) < 2 {
			return messages
		}
		chunkLen := int(d.buf[0])<<8 | int(d.buf[1])
		if chunkLen == 0 {
			messages = append(messages, PackStream(d.msg))
			d.msg = nil
			d.buf = d.buf[2:]
			continue
		}
		if len(d.buf) < 2+chunkLen {
			return messages
		}
		d.msg = append(d.msg, d.buf[2:2+chunkLen]...)
		d.buf = d.buf[2+chunkLen:]
	}
}

// PackStream is one fully reassembled Bolt message's encoded PackStream bytes.
type PackStream []byte

// Reset discards any in-flight message and buffered bytes, for reuse after
// a connection is recycled.
func (d *Decoder) Reset() {
	d.buf = nil
	d.msg = nil
}

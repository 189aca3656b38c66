package conn

import (
	"fmt"
	"io"

	"github.com/neobolt/driver/bolterr"
)

// Preamble is the 4-byte magic Bolt clients send before version negotiation
// (spec.md §6).
var Preamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

// versionSlot is one 4-byte proposal: {reserved=0, range, minor, major}.
// range lets one slot advertise a contiguous range of minor versions below
// major.minor (spec.md §4.4, §9 Open Question (c)).
type versionSlot struct {
	major, minor, rangeLen byte
}

func (v versionSlot) bytes() [4]byte {
	return [4]byte{0, v.rangeLen, v.minor, v.major}
}

// defaultProposal advertises Bolt 5.4 down through 5.0 in a single
// contiguous range, matching the source's single-range-slot approach
// (SPEC_FULL.md §9c); the remaining three slots are reserved/zeroed.
var defaultProposal = [4]versionSlot{
	{major: 5, minor: 4, rangeLen: 4},
	{},
	{},
	{},
}

// negotiationBlock builds the 16-byte version proposal the client sends
// after the preamble.
func negotiationBlock(proposal [4]versionSlot) [16]byte {
	var out [16]byte
	for i, slot := range proposal {
		b := slot.bytes()
		copy(out[i*4:i*4+4], b[:])
	}
	return out
}

// serverVersion is the 4-byte version the server chose, or the zero value
// if negotiation failed (spec.md §6: "all zeros -> no compatible version").
type serverVersion struct {
	major, minor byte
}

func (v serverVersion) ok() bool { return v.major != 0 || v.minor != 0 }

func (v serverVersion) String() string { return fmt.Sprintf("%d.%d", v.major, v.minor) }

func parseServerVersion(b [4]byte) serverVersion {
	return serverVersion{major: b[3], minor: b[2]}
}

// handshake performs the preamble + version negotiation over rw and
// returns the negotiated version. Implementations must support at least
// Bolt v5 (spec.md §4.4).
func handshake(rw io.ReadWriter) (serverVersion, error) {
	const op = "conn.Handshake"

	buf := append(append([]byte{}, Preamble[:]...), negotiationBlockBytes()...)
	if _, err := rw.Write(buf); err != nil {
		return serverVersion{}, bolterr.Connectionf(op, "write handshake: %s", err)
	}

	var resp [4]byte
	if _, err := io.ReadFull(rw, resp[:]); err != nil {
		return serverVersion{}, bolterr.Connectionf(op, "read handshake response: %s", err)
	}

	v := parseServerVersion(resp)
	if !v.ok() {
		return serverVersion{}, bolterr.Connectionf(op, "server rejected all proposed versions")
	}
	if v.major < 5 {
		return serverVersion{}, bolterr.Connectionf(op, "unsupported server version %s (need >= 5.0)", v)
	}
	return v, nil
}

func negotiationBlockBytes() []byte {
	b := negotiationBlock(defaultProposal)
	return b[:]
}

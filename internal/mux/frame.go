// Package mux implements the engine's Multiplexer Layer (spec §2.2, §3,
// §6): it parses plaintext as a stream of multiplexed frames with
// yamux-style semantics (SYN opens a substream, FIN half-closes it, RST
// resets it, a plain data frame carries payload) and owns the table of
// open substreams.
//
// The frame header layout and the accumulate-a-header-then-a-body reader
// shape are modeled on the teacher's own wire format (SagerNet-smux
// session.go's rawHeader: version/cmd/streamID/length decoded with
// encoding/binary), adapted from smux's four-command protocol to yamux's
// flag-based one, since spec §2.2 explicitly asks for "yamux semantics".
// Per-stream flow-control windows (yamux's WINDOW_UPDATE) are out of scope
// here: spec §3 bounds in-flight substreams only by the multiplexer's
// fixed capacity, never by a per-stream byte window, so this mux has no
// WindowUpdate frame type.
package mux

import "encoding/binary"

// Flags, yamux-style.
const (
	FlagSYN uint8 = 1 << iota
	FlagFIN
	FlagRST
)

// headerSize is the wire size of a frame header: flags(1) + reserved(1) +
// streamID(4, BE) + length(4, BE).
const headerSize = 10

type frameHeader struct {
	flags    uint8
	streamID uint32
	length   uint32
}

func decodeHeader(b []byte) frameHeader {
	return frameHeader{
		flags:    b[0],
		streamID: binary.BigEndian.Uint32(b[2:6]),
		length:   binary.BigEndian.Uint32(b[6:10]),
	}
}

func encodeHeader(dst []byte, h frameHeader) {
	dst[0] = h.flags
	dst[1] = 0
	binary.BigEndian.PutUint32(dst[2:6], h.streamID)
	binary.BigEndian.PutUint32(dst[6:10], h.length)
}

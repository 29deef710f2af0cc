// Package varint implements the LEB128 collaborator contract the engine
// depends on (spec §6: "LEB128. encode_usize(n) → iter of bytes").
//
// Go's encoding/binary varint format is LEB128: 7 payload bits per byte,
// MSB set on every byte but the last. There is no third-party LEB128
// library anywhere in the retrieval pack, so this wraps the stdlib
// implementation rather than inventing a bit-twiddling routine from
// scratch — see DESIGN.md for the justification.
package varint

import "encoding/binary"

// EncodeUsize returns the LEB128 encoding of n.
func EncodeUsize(n uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	written := binary.PutUvarint(buf, n)
	return buf[:written]
}

// AppendUsize appends the LEB128 encoding of n to dst.
func AppendUsize(dst []byte, n uint64) []byte {
	return binary.AppendUvarint(dst, n)
}

// DecodeUsize reads a LEB128-encoded value from the front of b. It returns
// the decoded value, the number of bytes consumed, and ok=false if b does
// not yet hold a complete value (more bytes are needed) or is malformed.
func DecodeUsize(b []byte) (value uint64, n int, ok bool) {
	v, n := binary.Uvarint(b)
	if n == 0 {
		// not enough bytes yet
		return 0, 0, false
	}
	if n < 0 {
		// overflow: more than 10 bytes of continuation
		return 0, 0, false
	}
	return v, n, true
}

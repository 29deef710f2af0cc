// Package framing implements the "framed reader" collaborator (spec §6,
// GLOSSARY): a LEB128-length-prefixed message accumulator bounded by a
// maximum frame size. It has no direct counterpart in the retrieval pack
// (no example repo implements multistream-style length-prefixed framing),
// so the accumulate-then-drain buffering technique is modeled on the
// teacher's own `recvLoop` (SagerNet-smux session.go): read a fixed header
// first, then the body, and only hand the caller a complete unit at a time.
package framing

import (
	"errors"

	"github.com/sagernet/connengine/internal/varint"
)

// ErrFrameTooLarge is returned when the declared frame length exceeds the
// reader's configured cap.
var ErrFrameTooLarge = errors.New("framing: frame exceeds maximum length")

// Reader accumulates a single LEB128-length-prefixed frame at a time. It is
// reused across frames: after TakeFrame returns a frame, the reader resets
// itself to read the next length prefix.
type Reader struct {
	maxLen int

	length   uint64 // declared length of the frame currently being read, once known
	haveLen  bool
	lenBuf   []byte // partial length-prefix bytes seen so far
	body     []byte // accumulated body bytes
	complete []byte // a fully decoded frame awaiting TakeFrame
}

// New returns a Reader that rejects any frame whose declared length
// exceeds maxLen.
func New(maxLen int) *Reader {
	return &Reader{maxLen: maxLen}
}

// InjectData feeds more ciphertext-decoded plaintext into the reader. It
// returns the number of bytes consumed (always len(data), unless an
// already-complete frame is pending and must be taken first) or an error
// if the declared length violates maxLen.
func (r *Reader) InjectData(data []byte) (int, error) {
	consumed := 0
	for len(data) > 0 {
		if r.complete != nil {
			// caller hasn't drained the previous frame yet; stop here.
			break
		}
		if !r.haveLen {
			r.lenBuf = append(r.lenBuf, data[0])
			data = data[1:]
			consumed++
			n, _, ok := varint.DecodeUsize(r.lenBuf)
			if !ok {
				if len(r.lenBuf) >= 10 {
					return consumed, ErrFrameTooLarge
				}
				continue
			}
			if int(n) > r.maxLen {
				return consumed, ErrFrameTooLarge
			}
			r.length = n
			r.haveLen = true
			r.body = make([]byte, 0, r.length)
			if r.length == 0 {
				r.complete = r.body
				r.resetFraming()
			}
			continue
		}

		need := int(r.length) - len(r.body)
		take := len(data)
		if take > need {
			take = need
		}
		r.body = append(r.body, data[:take]...)
		data = data[take:]
		consumed += take

		if len(r.body) == int(r.length) {
			r.complete = r.body
			r.resetFraming()
		}
	}
	return consumed, nil
}

// resetFraming clears the length-prefix state so the next InjectData call
// starts reading a new frame's length. r.complete (if set) is left intact
// for TakeFrame.
func (r *Reader) resetFraming() {
	r.haveLen = false
	r.length = 0
	r.lenBuf = nil
	r.body = nil
}

// TakeFrame returns the next fully-accumulated frame, if any, clearing it
// from the reader.
func (r *Reader) TakeFrame() ([]byte, bool) {
	if r.complete == nil {
		return nil, false
	}
	f := r.complete
	r.complete = nil
	return f, true
}

// Package cipher implements the engine's Cipher Layer (spec §2.1, §3, §6):
// it wraps an established secret-channel codec, owns the internal
// plaintext-inbound buffer the rest of the engine decodes against, and
// turns outbound plaintext back into ciphertext.
//
// The AEAD primitive is github.com/flynn/noise's CipherState, the same
// library other_examples/…go-libp2p…noise-session.go uses for its
// post-handshake secure channel. The length-prefixed record framing
// (qseek/qbuf bookkeeping) is modeled directly on that file's buffering
// technique for the same reason go-libp2p needs it: Noise messages are
// capped at 64KiB and must be reassembled from arbitrary-sized reads.
package cipher

import (
	"encoding/binary"
	"errors"

	"github.com/flynn/noise"
)

// maxNoiseMessage is the maximum ciphertext size of a single Noise
// transport message (64KiB, the protocol's own limit).
const maxNoiseMessage = 65535

// lenPrefixSize is the width of the length prefix placed in front of each
// ciphertext record on the wire (mirrors the 2-byte prefix the reference
// noise session uses for the same purpose).
const lenPrefixSize = 2

// aeadOverhead is the fixed tag size added by either of flynn/noise's
// built-in ciphers (ChaChaPoly and AESGCM both use a 16-byte AEAD tag).
const aeadOverhead = 16

// ErrRecordTooLarge is returned when a declared ciphertext record exceeds
// maxNoiseMessage.
var ErrRecordTooLarge = errors.New("cipher: ciphertext record exceeds maximum noise message size")

// State is the Cipher Layer. One instance is owned per connection; it is
// NOT safe for concurrent use (spec §5: single-threaded).
type State struct {
	enc *noise.CipherState
	dec *noise.CipherState

	initiator bool

	// inbound ciphertext record reassembly, mirroring the reference
	// noise session's rlen/qseek/qbuf fields.
	rlen    [lenPrefixSize]byte
	rlenLen int    // bytes of rlen filled so far
	recBuf  []byte // partial ciphertext record being accumulated
	recWant int    // declared length of the record being accumulated, 0 if unknown

	// decoded plaintext available to the rest of the engine.
	qbuf  []byte
	qseek int
}

// New wraps an already-established pair of transport cipher states. enc
// encrypts outbound traffic, dec decrypts inbound traffic — for a noise XX
// handshake completed elsewhere (out of scope per spec §1), the caller
// supplies the two directional CipherStates it derived.
func New(enc, dec *noise.CipherState, initiator bool) *State {
	return &State{enc: enc, dec: dec, initiator: initiator}
}

// IsInitiator reports which side of the (already-completed) handshake
// this cipher belongs to.
func (s *State) IsInitiator() bool { return s.initiator }

// InjectInbound consumes data, decrypting every ciphertext record it
// completes and appending the resulting plaintext to the decoded-inbound
// buffer; a trailing partial record is buffered until later calls complete
// it. It returns the number of bytes of data consumed, which is len(data)
// unless an error stops it early.
func (s *State) InjectInbound(data []byte) (int, error) {
	consumed := 0
	for len(data) > 0 {
		if s.recWant == 0 {
			for s.rlenLen < lenPrefixSize && len(data) > 0 {
				s.rlen[s.rlenLen] = data[0]
				data = data[1:]
				s.rlenLen++
				consumed++
			}
			if s.rlenLen < lenPrefixSize {
				break
			}
			want := int(binary.LittleEndian.Uint16(s.rlen[:]))
			if want > maxNoiseMessage {
				return consumed, ErrRecordTooLarge
			}
			s.recWant = want
			s.recBuf = make([]byte, 0, want)
			if want == 0 {
				// empty record: nothing to decrypt, reset framing and loop.
				s.rlenLen = 0
				s.recWant = 0
				continue
			}
		}

		need := s.recWant - len(s.recBuf)
		take := len(data)
		if take > need {
			take = need
		}
		s.recBuf = append(s.recBuf, data[:take]...)
		data = data[take:]
		consumed += take

		if len(s.recBuf) == s.recWant {
			plaintext, err := s.dec.Decrypt(nil, nil, s.recBuf)
			if err != nil {
				return consumed, err
			}
			s.qbuf = append(s.qbuf, plaintext...)
			s.rlenLen = 0
			s.recWant = 0
			s.recBuf = nil
		}
	}
	return consumed, nil
}

// DecodedInboundData returns the view of plaintext decoded so far and not
// yet consumed.
func (s *State) DecodedInboundData() []byte {
	return s.qbuf[s.qseek:]
}

// ConsumeInbound advances past n bytes of the decoded-inbound view,
// compacting the buffer once fully drained (mirroring the reference
// noise session's qseek/qbuf reset-to-zero behavior).
func (s *State) ConsumeInbound(n int) {
	s.qseek += n
	if s.qseek == len(s.qbuf) {
		s.qbuf = s.qbuf[:0]
		s.qseek = 0
	}
}

// EncryptSizeConv reports how many plaintext bytes Encrypt can turn into
// at most outboundCapacity bytes of output: each record holds at most
// maxNoiseMessage bytes of ciphertext (maxNoiseMessage-aeadOverhead bytes
// of plaintext) and carries lenPrefixSize bytes of prefix. Per spec §4.1
// step 3 this is used to size a single extract_out() call against
// remaining output capacity.
func (s *State) EncryptSizeConv(outboundCapacity int) int {
	overhead := lenPrefixSize + aeadOverhead
	if outboundCapacity <= overhead {
		return 0
	}
	chunks := outboundCapacity / (maxNoiseMessage + lenPrefixSize)
	rem := outboundCapacity % (maxNoiseMessage + lenPrefixSize)
	total := chunks * (maxNoiseMessage - aeadOverhead)
	if rem > overhead {
		total += rem - overhead
	}
	return total
}

// Encrypt encrypts the concatenation of plaintextBufs into out, one
// maxNoiseMessage-sized ciphertext record at a time, stopping as soon as
// a full record would not fit in the remaining space or the underlying
// cipher refuses to encrypt. It returns the number of plaintext bytes
// consumed and the number of ciphertext bytes written.
//
// Encrypt only ever targets a single contiguous buffer: the engine calls
// it once per output region (spec §4.1 step 3's out0, out1), sizing each
// call's request to that region's own capacity via EncryptSizeConv, so a
// single ciphertext record is never split across the two caller-supplied
// regions.
func (s *State) Encrypt(plaintextBufs [][]byte, out []byte) (read int, written int) {
	var pending []byte
	for _, buf := range plaintextBufs {
		pending = append(pending, buf...)
	}

	overhead := lenPrefixSize + aeadOverhead
	for len(pending) > 0 {
		chunk := pending
		if len(chunk) > maxNoiseMessage-aeadOverhead {
			chunk = chunk[:maxNoiseMessage-aeadOverhead]
		}
		if len(out) < len(chunk)+overhead {
			break
		}
		rec, err := s.enc.Encrypt(nil, nil, chunk)
		if err != nil {
			break
		}
		binary.LittleEndian.PutUint16(out[:lenPrefixSize], uint16(len(rec)))
		copy(out[lenPrefixSize:], rec)
		n := lenPrefixSize + len(rec)
		out = out[n:]
		written += n
		read += len(chunk)
		pending = pending[len(chunk):]
	}
	return read, written
}

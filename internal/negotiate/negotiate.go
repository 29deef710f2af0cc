// Package negotiate implements the "negotiation fsm" collaborator (spec
// §6, GLOSSARY): an external state machine that exchanges protocol names
// over a substream and selects (at most) one. No example repo in the
// retrieval pack ships a multistream-select implementation, so this is a
// deliberately small analog of it: each candidate protocol name is sent as
// a single LEB128-length-prefixed line (the same framing the engine
// already uses for requests and handshakes — see internal/framing), rather
// than the real multistream-select wire format's own header exchange.
package negotiate

import (
	"errors"

	"github.com/sagernet/connengine/internal/framing"
	"github.com/sagernet/connengine/internal/varint"
)

// maxProtocolNameLen bounds a single protocol-name line.
const maxProtocolNameLen = 256

// Status is the outcome of a single ReadWrite step.
type Status int

const (
	InProgress Status = iota
	Success
	NotAvailable
)

// Outcome is returned by ReadWrite.
type Outcome struct {
	Status Status
	Proto  string // set when Status == Success
}

// ErrUnexpected is returned to a dialer whose peer answers with a line that
// is neither an echo of the requested protocol nor the rejection marker.
// A listener's miss against the offered set is NotAvailable, not an error;
// framing errors are returned as internal/framing reports them.
var ErrUnexpected = errors.New("negotiate: malformed negotiation message")

const naMarker = "\x00na"

// FSM drives one side of protocol negotiation for a single substream.
type FSM struct {
	listener bool
	offered  []string // listener: protocols offered, in order
	want     string   // dialer: the single protocol requested

	helloSent bool
	reader    *framing.Reader
	done      bool
}

// NewListener returns a negotiation FSM that reads the first protocol name
// the remote proposes (the remote picks): it accepts it if it appears in
// offered and otherwise answers with a rejection. Either way negotiation
// ends there; no further proposal is considered.
func NewListener(offered []string) *FSM {
	return &FSM{listener: true, offered: offered, reader: framing.New(maxProtocolNameLen)}
}

// NewDialer returns a negotiation FSM that proposes a single protocol and
// waits for the remote to accept or reject it.
func NewDialer(proto string) *FSM {
	return &FSM{listener: false, want: proto, reader: framing.New(maxProtocolNameLen)}
}

// ReadWriteVec steps the FSM. It returns the outcome so far, the number of
// input bytes consumed, and any bytes that must be written to the remote.
func (f *FSM) ReadWriteVec(data []byte) (Outcome, int, []byte, error) {
	if f.done {
		return Outcome{Status: NotAvailable}, 0, nil, nil
	}

	var out []byte
	if !f.listener && !f.helloSent {
		out = appendLine(out, f.want)
		f.helloSent = true
	}

	consumed, err := f.reader.InjectData(data)
	if err != nil {
		f.done = true
		return Outcome{}, consumed, out, err
	}

	line, ok := f.reader.TakeFrame()
	if !ok {
		return Outcome{Status: InProgress}, consumed, out, nil
	}

	if f.listener {
		proto := string(line)
		if contains(f.offered, proto) {
			out = appendLine(out, proto)
			f.done = true
			return Outcome{Status: Success, Proto: proto}, consumed, out, nil
		}
		out = appendLine(out, naMarker)
		f.done = true
		return Outcome{Status: NotAvailable}, consumed, out, nil
	}

	// dialer: expect either an echo of the requested protocol, or "na".
	if string(line) == naMarker {
		f.done = true
		return Outcome{Status: NotAvailable}, consumed, out, nil
	}
	if string(line) != f.want {
		f.done = true
		return Outcome{}, consumed, out, ErrUnexpected
	}
	f.done = true
	return Outcome{Status: Success, Proto: f.want}, consumed, out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendLine(dst []byte, s string) []byte {
	dst = varint.AppendUsize(dst, uint64(len(s)))
	return append(dst, s...)
}

package mux

// Substream is the multiplexer's own handle for one multiplexed stream:
// its identifier, its FIFO outbound byte queue, and the opaque user-data
// value the engine attaches to it. It carries no protocol knowledge
// whatsoever — that lives one layer up, in package substream.
type Substream struct {
	id       uint32
	userData any

	outbound     []byte
	synPending   bool // local open not yet flushed as a SYN frame
	finPending   bool // local half-close not yet flushed
	rstPending   bool // local reset not yet flushed
	closed       bool
	peerFinished bool

	bytesIn uint64 // inbound payload bytes delivered via IncomingData
}

// ID returns the substream's stable identifier.
func (s *Substream) ID() uint32 { return s.id }

// BytesIn reports the cumulative inbound payload bytes this substream has
// been delivered, mirroring the original's per-substream read accounting
// (spec §13 supplement).
func (s *Substream) BytesIn() uint64 { return s.bytesIn }

// PeerFinished reports whether the remote has sent a FIN on this
// substream (half-closed its send side).
func (s *Substream) PeerFinished() bool { return s.peerFinished }

// UserData returns the substream's attached user-data value.
func (s *Substream) UserData() any { return s.userData }

// SetUserData replaces the substream's attached user-data value and
// returns the old one. The engine's substream state machine uses it to
// store each freshly computed next state.
func (s *Substream) SetUserData(v any) (old any) {
	old = s.userData
	s.userData = v
	return old
}

// Write enqueues bytes onto the substream's outbound FIFO. It never
// blocks and never fails: the multiplexer has no flow-control window in
// this engine (spec §3's only bound on in-flight work is the fixed
// substream capacity), so all queued bytes are simply held until
// ExtractOut drains them.
func (s *Substream) Write(p []byte) {
	s.outbound = append(s.outbound, p...)
}

// CloseWrite half-closes the substream's send side (queues a FIN once the
// outbound FIFO drains).
func (s *Substream) CloseWrite() {
	s.finPending = true
}

// Reset queues an RST frame and marks the substream as closed; its
// outbound FIFO is discarded immediately (a reset communicates abnormal
// termination, so partially-written data is moot).
func (s *Substream) Reset() {
	s.outbound = nil
	s.rstPending = true
	s.closed = true
}

package mux

import (
	"errors"
	"sort"
)

// Config mirrors the multiplexer construction parameters spec §4.5 and §6
// name explicitly: is_initiator, capacity, randomness_seed.
//
// Seed is accepted and stored for parity with that constructor signature
// but not otherwise consumed: this multiplexer's substream-id allocation
// is deterministic (odd/even by is_initiator, per yamux convention), and
// nothing else in this simplified mux needs randomness. The original this
// spec was distilled from forwards the same seed to its yamux::Config
// without otherwise touching it in the reachable call path either.
type Config struct {
	IsInitiator bool
	Capacity    int
	Seed        [2]uint64
}

// ErrAtCapacity is returned by OpenSubstream once the configured capacity
// of in-flight substreams is reached. Spec §9 open question (e) leaves
// bounding *inbound* substream count unimplemented; outbound opens are
// bounded here because spec §3 does require the multiplexer to "bound
// in-flight substreams by configured capacity" and an outbound open is
// the one path entirely under this engine's control.
var ErrAtCapacity = errors.New("mux: at substream capacity")

// Kind tags the detail returned by IncomingData.
type Kind int

const (
	KindNone Kind = iota
	KindIncomingSubstream
	KindStreamReset
	KindDataFrame
)

// ParseResult is the multiplexer's answer to one IncomingData call: at
// most one "detail" plus the number of plaintext bytes consumed.
type ParseResult struct {
	Kind        Kind
	SubstreamID uint32
	UserData    any    // set for KindStreamReset: the reset substream's former user-data
	BytesIn     uint64 // set for KindStreamReset: the reset substream's final BytesIn total
	StartOffset int    // set for KindDataFrame: offset of the payload within the input slice
	N           int    // bytes consumed from the input slice, for every Kind
}

// Multiplexer is the engine's Multiplexer Layer.
type Multiplexer struct {
	cfg     Config
	nextID  uint32
	streams map[uint32]*Substream

	pendingID  uint32
	hasPending bool
}

// New allocates a multiplexer per spec §4.5: only reachable through
// ConnectionPrototype.IntoEstablished in the parent package.
func New(cfg Config) *Multiplexer {
	m := &Multiplexer{cfg: cfg, streams: make(map[uint32]*Substream)}
	if cfg.IsInitiator {
		m.nextID = 1
	} else {
		m.nextID = 2
	}
	return m
}

// IsInitiator reports the side this multiplexer was configured for.
func (m *Multiplexer) IsInitiator() bool { return m.cfg.IsInitiator }

// Len reports the number of substreams currently tracked.
func (m *Multiplexer) Len() int { return len(m.streams) }

// IncomingData parses at most one frame from the front of data.
func (m *Multiplexer) IncomingData(data []byte) (ParseResult, error) {
	if len(data) < headerSize {
		return ParseResult{Kind: KindNone}, nil
	}
	h := decodeHeader(data)
	total := headerSize + int(h.length)
	if len(data) < total {
		return ParseResult{Kind: KindNone}, nil
	}

	switch {
	case h.flags&FlagRST != 0:
		var ud any
		var bytesIn uint64
		if s, ok := m.streams[h.streamID]; ok {
			ud = s.userData
			bytesIn = s.bytesIn
			delete(m.streams, h.streamID)
		}
		return ParseResult{Kind: KindStreamReset, SubstreamID: h.streamID, UserData: ud, BytesIn: bytesIn, N: total}, nil

	case h.flags&FlagSYN != 0:
		if _, ok := m.streams[h.streamID]; ok {
			// duplicate SYN on a live id: malformed peer behavior, ignored.
			return ParseResult{Kind: KindNone, N: total}, nil
		}
		m.pendingID = h.streamID
		m.hasPending = true
		return ParseResult{Kind: KindIncomingSubstream, SubstreamID: h.streamID, N: total}, nil

	case h.flags&FlagFIN != 0 && h.length == 0:
		if s, ok := m.streams[h.streamID]; ok {
			s.peerFinished = true
		}
		return ParseResult{Kind: KindNone, N: total}, nil

	default:
		s, ok := m.streams[h.streamID]
		if !ok {
			// data for an unknown or already-closed stream: drop silently.
			return ParseResult{Kind: KindNone, N: total}, nil
		}
		s.bytesIn += uint64(h.length)
		return ParseResult{Kind: KindDataFrame, SubstreamID: h.streamID, StartOffset: headerSize, N: total}, nil
	}
}

// AcceptPendingSubstream materializes the most recently parsed
// IncomingSubstream detail as a tracked substream carrying userData.
func (m *Multiplexer) AcceptPendingSubstream(userData any) *Substream {
	if !m.hasPending {
		panic("mux: AcceptPendingSubstream called with no pending incoming substream")
	}
	id := m.pendingID
	m.hasPending = false
	s := &Substream{id: id, userData: userData}
	m.streams[id] = s
	return s
}

// OpenSubstream allocates a new locally-initiated substream.
func (m *Multiplexer) OpenSubstream(userData any) (*Substream, error) {
	if m.cfg.Capacity > 0 && len(m.streams) >= m.cfg.Capacity {
		return nil, ErrAtCapacity
	}
	id := m.nextID
	m.nextID += 2
	s := &Substream{id: id, userData: userData, synPending: true}
	m.streams[id] = s
	return s, nil
}

// SubstreamByID looks up a tracked substream.
func (m *Multiplexer) SubstreamByID(id uint32) (*Substream, bool) {
	s, ok := m.streams[id]
	return s, ok
}

// Substreams returns every tracked substream's (id, user-data) pair, in
// ascending id order (spec §6's user_datas() iterator).
func (m *Multiplexer) Substreams() []*Substream {
	ids := make([]uint32, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Substream, len(ids))
	for i, id := range ids {
		out[i] = m.streams[id]
	}
	return out
}

// ExtractOut drains up to maxBytes of framed outbound plaintext. Substreams
// are visited once each, in ascending-id order for determinism; for each,
// a pending SYN or RST comes first, then as much queued data as fits, then
// a pending FIN once the data is drained. Control frames thus precede data
// within a substream, as the teacher's own shaperLoop (SagerNet-smux
// session.go) puts control frames ahead of data.
func (m *Multiplexer) ExtractOut(maxBytes int) [][]byte {
	var out [][]byte
	budget := maxBytes

	for _, id := range m.sortedIDs() {
		s := m.streams[id]

		if s.synPending {
			if budget < headerSize {
				break
			}
			out = append(out, frameBytes(FlagSYN, id, nil))
			budget -= headerSize
			s.synPending = false
		}

		if s.rstPending {
			if budget < headerSize {
				break
			}
			out = append(out, frameBytes(FlagRST, id, nil))
			budget -= headerSize
			s.rstPending = false
			delete(m.streams, id)
			continue
		}

		for len(s.outbound) > 0 && budget > headerSize {
			avail := budget - headerSize
			chunk := s.outbound
			if len(chunk) > avail {
				chunk = chunk[:avail]
			}
			out = append(out, frameBytes(0, id, chunk))
			budget -= headerSize + len(chunk)
			s.outbound = s.outbound[len(chunk):]
		}

		if len(s.outbound) == 0 && s.finPending && budget >= headerSize {
			out = append(out, frameBytes(FlagFIN, id, nil))
			budget -= headerSize
			s.finPending = false
			if s.closed {
				delete(m.streams, id)
			}
		}
	}
	return out
}

func (m *Multiplexer) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func frameBytes(flags uint8, id uint32, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	encodeHeader(buf, frameHeader{flags: flags, streamID: id, length: uint32(len(payload))})
	copy(buf[headerSize:], payload)
	return buf
}

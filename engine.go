// Package connengine implements the Connection Engine spec.md describes:
// a single-connection, single-threaded state machine that drives one
// already-handshaked duplex byte stream through a cipher layer, a
// yamux-semantics multiplexer, and a per-substream application-protocol
// state machine. The engine performs no I/O itself — see ReadWrite.
package connengine

import (
	"time"

	"go.uber.org/zap"

	"github.com/sagernet/connengine/internal/cipher"
	"github.com/sagernet/connengine/internal/mux"
	"github.com/sagernet/connengine/internal/negotiate"
	"github.com/sagernet/connengine/substream"
)

// Engine is the single-owner connection state container spec §3
// describes. The zero value is not usable; obtain one via
// ConnectionPrototype.IntoEstablished.
type Engine struct {
	cipher *cipher.State
	mux    *mux.Multiplexer
	params substream.Params

	nextWake *time.Time

	logger  *zap.Logger
	metrics *Metrics
}

// IsInitiator reports which side of the underlying handshake this engine
// was established on (SPEC_FULL.md §13, mirrored from the original's
// is_initiator plumbing).
func (e *Engine) IsInitiator() bool { return e.cipher.IsInitiator() }

// OpenSubstreamCount reports the number of substreams currently tracked
// by the multiplexer (SPEC_FULL.md §13).
func (e *Engine) OpenSubstreamCount() int { return e.mux.Len() }

// ReadWriteOutcome is the result of a single ReadWrite call (spec §4.1).
type ReadWriteOutcome struct {
	BytesRead    int
	BytesWritten int
	WakeUpAfter  *time.Time
	Event        *Event
}

// ReadWrite is the engine's single public operation (spec §4.1): it
// consumes a slice of ciphertext read from the wire, produces ciphertext
// to be written back into out0 then out1, and yields at most one
// high-level event.
//
// eof corresponds to spec's "inbound = None" (the remote closed its
// write side) — an explicit open question (spec §9(a)) this
// implementation does not invent semantics for.
func (e *Engine) ReadWrite(now time.Time, inbound []byte, eof bool, out0, out1 []byte) (ReadWriteOutcome, error) {
	if eof {
		panic("connengine: inbound=nil (remote half-close) is not implemented, spec §9 open question (a)")
	}

	if ev := e.expireTimeouts(now); ev != nil {
		e.recomputeNextWake()
		e.metrics.EventsEmitted.WithLabelValues(ev.Kind.String()).Inc()
		return ReadWriteOutcome{WakeUpAfter: e.nextWake, Event: ev}, nil
	}

	bytesRead, event, err := e.decodeLoop(inbound, now)
	if err != nil {
		return ReadWriteOutcome{}, err
	}

	bytesWritten := e.encryptOutLoop(out0, out1)

	e.recomputeNextWake()
	e.metrics.BytesIn.Add(float64(bytesRead))
	e.metrics.BytesOut.Add(float64(bytesWritten))
	if event != nil {
		e.metrics.EventsEmitted.WithLabelValues(event.Kind.String()).Inc()
	}
	return ReadWriteOutcome{
		BytesRead:    bytesRead,
		BytesWritten: bytesWritten,
		WakeUpAfter:  e.nextWake,
		Event:        event,
	}, nil
}

// expireTimeouts implements spec §4.1 step 1.
func (e *Engine) expireTimeouts(now time.Time) *Event {
	if e.nextWake == nil || now.Before(*e.nextWake) {
		return nil
	}
	for _, sub := range e.mux.Substreams() {
		st, ok := sub.UserData().(substream.State)
		if !ok {
			continue
		}
		deadline, hasDeadline := deadlineOf(st)
		if !hasDeadline || deadline.After(now) {
			continue
		}

		var tag any
		var produceEvent bool
		switch v := st.(type) {
		case substream.RequestOut:
			tag, produceEvent = v.Tag, true
		case substream.RequestOutNegotiating:
			tag, produceEvent = v.Tag, true
		}

		sub.Reset()
		e.logger.Debug("substream deadline expired", zap.Uint32("substream", sub.ID()))

		if produceEvent {
			return &Event{
				Kind: EventResponse, SubstreamID: sub.ID(), Tag: tag,
				Err: &RequestError{Kind: ErrKindTimeout},
			}
		}
		return nil
	}
	return nil
}

// decodeLoop implements spec §4.1 step 2.
func (e *Engine) decodeLoop(inbound []byte, now time.Time) (bytesRead int, event *Event, err error) {
	for {
		consumed, cerr := e.cipher.InjectInbound(inbound)
		if cerr != nil {
			return bytesRead, nil, &ConnectionError{Kind: ErrKindCipher, Cause: cerr}
		}
		inbound = inbound[consumed:]
		bytesRead += consumed

		view := e.cipher.DecodedInboundData()
		res, merr := e.mux.IncomingData(view)
		if merr != nil {
			return bytesRead, nil, &ConnectionError{Kind: ErrKindMultiplexer, Cause: merr}
		}

		switch res.Kind {
		case mux.KindNone:
			if res.N == 0 {
				return bytesRead, nil, nil
			}
			e.cipher.ConsumeInbound(res.N)

		case mux.KindIncomingSubstream:
			offered := e.params.OfferedProtocols()
			e.mux.AcceptPendingSubstream(substream.InboundNegotiating{FSM: negotiate.NewListener(offered)})
			e.metrics.SubstreamsOpened.Inc()
			e.cipher.ConsumeInbound(res.N)

		case mux.KindStreamReset:
			e.metrics.SubstreamsReset.Inc()
			e.metrics.SubstreamBytesIn.Observe(float64(res.BytesIn))
			ev := resetEventFor(res.SubstreamID, res.UserData)
			e.cipher.ConsumeInbound(res.N)
			if ev != nil {
				return bytesRead, ev, nil
			}

		case mux.KindDataFrame:
			sub, ok := e.mux.SubstreamByID(res.SubstreamID)
			if !ok {
				e.cipher.ConsumeInbound(res.N)
				continue
			}
			payload := view[res.StartOffset:res.N]
			ev := substream.Step(sub, payload, e.params, now)
			e.cipher.ConsumeInbound(res.N)
			if ev != nil {
				return bytesRead, ev, nil
			}
		}
	}
}

// resetEventFor implements spec §4.1 step 2.c's StreamReset handling and
// testable property 8: only RequestOut/RequestOutNegotiating report an
// event.
func resetEventFor(id uint32, userData any) *Event {
	st, ok := userData.(substream.State)
	if !ok {
		return nil
	}
	var tag any
	switch v := st.(type) {
	case substream.RequestOut:
		tag = v.Tag
	case substream.RequestOutNegotiating:
		tag = v.Tag
	default:
		return nil
	}
	return &Event{
		Kind: EventResponse, SubstreamID: id, Tag: tag,
		Err: &RequestError{Kind: ErrKindSubstreamReset},
	}
}

// encryptOutLoop implements spec §4.1 step 3: drain as much framed
// outbound plaintext as fits into out0, then out1.
func (e *Engine) encryptOutLoop(out0, out1 []byte) (bytesWritten int) {
	for _, region := range [][]byte{out0, out1} {
		for len(region) > 0 {
			fit := e.cipher.EncryptSizeConv(len(region))
			if fit <= 0 {
				break
			}
			bufs := e.mux.ExtractOut(fit)
			if len(bufs) == 0 {
				break
			}
			_, written := e.cipher.Encrypt(bufs, region)
			if written == 0 {
				break
			}
			bytesWritten += written
			region = region[written:]
		}
	}
	return bytesWritten
}

// deadlineOf extracts the deadline from the subset of substream.State
// variants that carry one. Per the Data Model (spec §3), that's exactly
// RequestOutNegotiating, RequestOut, and NotificationsOutNegotiating;
// NotificationsOutHandshakeRecv carries none (spec §9 open question (h)
// — a handshake-phase timeout is explicitly left uninvented).
func deadlineOf(st substream.State) (time.Time, bool) {
	switch v := st.(type) {
	case substream.RequestOutNegotiating:
		return v.Deadline, true
	case substream.RequestOut:
		return v.Deadline, true
	case substream.NotificationsOutNegotiating:
		return v.Deadline, true
	default:
		return time.Time{}, false
	}
}

// recomputeNextWake implements spec §4.2.
func (e *Engine) recomputeNextWake() {
	var min *time.Time
	for _, sub := range e.mux.Substreams() {
		st, ok := sub.UserData().(substream.State)
		if !ok {
			continue
		}
		d, ok := deadlineOf(st)
		if !ok {
			continue
		}
		if min == nil || d.Before(*min) {
			t := d
			min = &t
		}
	}
	e.nextWake = min
}

package connengine

import (
	"time"

	"github.com/sagernet/connengine/internal/negotiate"
	"github.com/sagernet/connengine/substream"
)

// AddRequest implements spec §4.4: opens a new outbound substream
// negotiating proto, writes the negotiation's initial offer onto the
// substream's write queue, and installs a now+20s deadline.
func (e *Engine) AddRequest(now time.Time, proto string, request []byte, tag any) (SubstreamID, error) {
	deadline := now.Add(requestTimeout)
	state := substream.RequestOutNegotiating{
		FSM:      negotiate.NewDialer(proto),
		Deadline: deadline,
		Request:  append([]byte(nil), request...),
		Tag:      tag,
	}

	sub, err := e.mux.OpenSubstream(state)
	if err != nil {
		return 0, err
	}

	_, _, out, _ := state.FSM.ReadWriteVec(nil)
	if len(out) > 0 {
		sub.Write(out)
	}

	e.metrics.SubstreamsOpened.Inc()
	e.lowerNextWake(deadline)
	return SubstreamID(sub.ID()), nil
}

// OpenNotificationsSubstream implements spec §4.4: the notifications
// analog of AddRequest.
func (e *Engine) OpenNotificationsSubstream(now time.Time, proto string, handshake []byte) (SubstreamID, error) {
	deadline := now.Add(requestTimeout)
	state := substream.NotificationsOutNegotiating{
		FSM:       negotiate.NewDialer(proto),
		Deadline:  deadline,
		Handshake: append([]byte(nil), handshake...),
	}

	sub, err := e.mux.OpenSubstream(state)
	if err != nil {
		return 0, err
	}

	_, _, out, _ := state.FSM.ReadWriteVec(nil)
	if len(out) > 0 {
		sub.Write(out)
	}

	e.metrics.SubstreamsOpened.Inc()
	e.lowerNextWake(deadline)
	return SubstreamID(sub.ID()), nil
}

// lowerNextWake implements spec §4.2: "next-wake is lowered if
// necessary (never raised)".
func (e *Engine) lowerNextWake(deadline time.Time) {
	if e.nextWake == nil || deadline.Before(*e.nextWake) {
		t := deadline
		e.nextWake = &t
	}
}

package substream

import (
	"time"

	"github.com/sagernet/connengine/internal/framing"
	"github.com/sagernet/connengine/internal/mux"
	"github.com/sagernet/connengine/internal/negotiate"
	"github.com/sagernet/connengine/internal/varint"
)

// Step drives a substream's state machine over data (spec §4.3): read the
// current state, compute the next one, write pending outbound bytes, store
// the next state with SetUserData, repeat until data is exhausted or an
// Event must be returned. The state is not replaced by Poisoned while the
// next one is computed.
func Step(sub *mux.Substream, data []byte, params Params, now time.Time) *Event {
	for len(data) > 0 {
		cur, ok := sub.UserData().(State)
		if !ok {
			panic("substream: user-data is not a substream.State")
		}

		var n int
		var ev *Event

		switch st := cur.(type) {
		case InboundNegotiating:
			n, ev = stepInboundNegotiating(sub, st, data, params)
		case NegotiationFailed:
			return nil // discard remainder; the peer may still be speculatively sending
		case RequestInRecv:
			return nil // spec §4.3/§9: receive path unimplemented in source
		case RequestInSend:
			return nil // reserved, unreachable until the answer-request API exists
		case NotificationsInHandshake:
			n, ev = stepNotificationsInHandshake(sub, st, data)
		case NotificationsInWait:
			return nil // no-op until the host accepts or rejects
		case RequestOutNegotiating:
			n, ev = stepRequestOutNegotiating(sub, st, data)
		case RequestOut:
			n, ev = stepRequestOut(sub, st, data)
		case NotificationsOutNegotiating:
			n, ev = stepNotificationsOutNegotiating(sub, st, data)
		case NotificationsOutHandshakeRecv:
			n, ev = stepNotificationsOutHandshakeRecv(sub, st, data)
		case NotificationsOut:
			return nil // inbound data on an open notifications substream: undefined by spec
		case PingIn:
			n = stepPingIn(sub, st, data)
		case Poisoned:
			panic("substream: observed Poisoned state across a public call")
		default:
			panic("substream: unhandled state type")
		}

		data = data[n:]
		if ev != nil {
			return ev
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func stepInboundNegotiating(sub *mux.Substream, st InboundNegotiating, data []byte, params Params) (int, *Event) {
	outcome, n, out, err := st.FSM.ReadWriteVec(data)
	if len(out) > 0 {
		sub.Write(out)
	}
	if err != nil {
		sub.Reset()
		return n, nil
	}
	switch outcome.Status {
	case negotiate.InProgress:
		sub.SetUserData(InboundNegotiating{FSM: st.FSM})
	case negotiate.Success:
		switch {
		case outcome.Proto == params.PingProtocol:
			sub.SetUserData(PingIn{})
		case params.isRequestProtocol(outcome.Proto):
			sub.SetUserData(RequestInRecv{Proto: outcome.Proto, Reader: framing.New(requestMaxLen)})
		default:
			sub.SetUserData(NotificationsInHandshake{Proto: outcome.Proto, Reader: framing.New(notificationsHandshakeMaxLen)})
		}
	case negotiate.NotAvailable:
		sub.CloseWrite()
		sub.SetUserData(NegotiationFailed{})
	}
	return n, nil
}

func stepRequestOutNegotiating(sub *mux.Substream, st RequestOutNegotiating, data []byte) (int, *Event) {
	outcome, n, out, err := st.FSM.ReadWriteVec(data)
	if len(out) > 0 {
		sub.Write(out)
	}
	if err != nil {
		sub.Reset()
		return n, &Event{
			Kind: EventResponse, SubstreamID: sub.ID(), Tag: st.Tag,
			Err: &RequestError{Kind: ErrKindNegotiationError, Cause: err},
		}
	}
	switch outcome.Status {
	case negotiate.InProgress:
		sub.SetUserData(RequestOutNegotiating{FSM: st.FSM, Deadline: st.Deadline, Request: st.Request, Tag: st.Tag})
	case negotiate.Success:
		framed := varint.AppendUsize(nil, uint64(len(st.Request)))
		framed = append(framed, st.Request...)
		sub.Write(framed)
		sub.CloseWrite()
		sub.SetUserData(RequestOut{Reader: framing.New(requestMaxLen), Deadline: st.Deadline, Tag: st.Tag})
	case negotiate.NotAvailable:
		sub.Reset()
		return n, &Event{
			Kind: EventResponse, SubstreamID: sub.ID(), Tag: st.Tag,
			Err: &RequestError{Kind: ErrKindProtocolNotAvailable},
		}
	}
	return n, nil
}

func stepRequestOut(sub *mux.Substream, st RequestOut, data []byte) (int, *Event) {
	n, err := st.Reader.InjectData(data)
	if err != nil {
		sub.Reset()
		return n, &Event{
			Kind: EventResponse, SubstreamID: sub.ID(), Tag: st.Tag,
			Err: &RequestError{Kind: ErrKindResponseLebError},
		}
	}
	if frame, ok := st.Reader.TakeFrame(); ok {
		return n, &Event{Kind: EventResponse, SubstreamID: sub.ID(), Tag: st.Tag, Response: frame}
	}
	sub.SetUserData(RequestOut{Reader: st.Reader, Deadline: st.Deadline, Tag: st.Tag})
	return n, nil
}

func stepNotificationsOutNegotiating(sub *mux.Substream, st NotificationsOutNegotiating, data []byte) (int, *Event) {
	outcome, n, out, err := st.FSM.ReadWriteVec(data)
	if len(out) > 0 {
		sub.Write(out)
	}
	if err != nil {
		panic("substream: notifications-out negotiation error is host-reported (spec §9 open question)")
	}
	switch outcome.Status {
	case negotiate.InProgress:
		sub.SetUserData(NotificationsOutNegotiating{FSM: st.FSM, Deadline: st.Deadline, Handshake: st.Handshake})
	case negotiate.Success:
		framed := varint.AppendUsize(nil, uint64(len(st.Handshake)))
		framed = append(framed, st.Handshake...)
		sub.Write(framed)
		sub.SetUserData(NotificationsOutHandshakeRecv{Reader: framing.New(requestMaxLen)})
	case negotiate.NotAvailable:
		panic("substream: notifications-out negotiation rejection is host-reported (spec §9 open question)")
	}
	return n, nil
}

func stepNotificationsOutHandshakeRecv(sub *mux.Substream, st NotificationsOutHandshakeRecv, data []byte) (int, *Event) {
	n, err := st.Reader.InjectData(data)
	if err != nil {
		panic("substream: notifications-out handshake framing error is host-reported (spec §9 open question)")
	}
	if _, ok := st.Reader.TakeFrame(); ok {
		panic("not implemented: NotificationsOutHandshakeRecv completion (accept vs reject) is a host decision, spec §9 open question (b)")
	}
	sub.SetUserData(NotificationsOutHandshakeRecv{Reader: st.Reader})
	return n, nil
}

func stepNotificationsInHandshake(sub *mux.Substream, st NotificationsInHandshake, data []byte) (int, *Event) {
	n, err := st.Reader.InjectData(data)
	if err != nil {
		sub.Reset()
		return n, nil
	}
	if frame, ok := st.Reader.TakeFrame(); ok {
		sub.SetUserData(NotificationsInWait{})
		return n, &Event{Kind: EventNotificationsInOpen, SubstreamID: sub.ID(), Proto: st.Proto, Handshake: frame}
	}
	sub.SetUserData(NotificationsInHandshake{Proto: st.Proto, Reader: st.Reader})
	return n, nil
}

func stepPingIn(sub *mux.Substream, st PingIn, data []byte) int {
	buf := st.Payload
	for _, b := range data {
		buf = append(buf, b)
		if len(buf) == 32 {
			sub.Write(buf)
			buf = make([]byte, 0, 32)
		}
	}
	sub.SetUserData(PingIn{Payload: buf})
	return len(data)
}

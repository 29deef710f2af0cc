package substream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagernet/connengine/internal/framing"
	"github.com/sagernet/connengine/internal/mux"
	"github.com/sagernet/connengine/internal/negotiate"
	"github.com/sagernet/connengine/internal/varint"
)

func testParams() Params {
	return Params{
		RequestProtocols:      []string{"/req/1.0.0"},
		NotificationProtocols: []string{"/notif/1.0.0"},
		PingProtocol:          "/ping/1.0.0",
	}
}

func negotiationLine(s string) []byte {
	out := varint.AppendUsize(nil, uint64(len(s)))
	return append(out, s...)
}

func extractAll(m *mux.Multiplexer) []byte {
	var out []byte
	for _, b := range m.ExtractOut(1 << 20) {
		out = append(out, b...)
	}
	return out
}

// acceptInboundSubstream feeds a real SYN frame (produced by a throwaway
// dialer-side multiplexer) into m and accepts it, giving back a substream
// with no pending SYN of its own — the shape every inbound ("In") state
// variant actually arrives in, via AcceptPendingSubstream rather than
// OpenSubstream.
func acceptInboundSubstream(t *testing.T, m *mux.Multiplexer, userData any) *mux.Substream {
	t.Helper()
	dialer := mux.New(mux.Config{IsInitiator: true, Capacity: 64})
	_, err := dialer.OpenSubstream(nil)
	require.NoError(t, err)
	wire := extractAll(dialer)

	res, err := m.IncomingData(wire)
	require.NoError(t, err)
	require.Equal(t, mux.KindIncomingSubstream, res.Kind)
	return m.AcceptPendingSubstream(userData)
}

func TestStepInboundNegotiatingSelectsPing(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()

	_, err := m.IncomingData(nil) // no-op, just exercising the zero-length guard
	require.NoError(t, err)

	sub := acceptInboundSubstream(t, m, InboundNegotiating{FSM: negotiate.NewListener(params.OfferedProtocols())})

	ev := Step(sub, negotiationLine(params.PingProtocol), params, time.Now())
	require.Nil(t, ev)

	st, ok := sub.UserData().(PingIn)
	require.True(t, ok)
	require.Empty(t, st.Payload)
}

func TestStepInboundNegotiatingSelectsRequestProtocol(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()
	sub := acceptInboundSubstream(t, m, InboundNegotiating{FSM: negotiate.NewListener(params.OfferedProtocols())})

	ev := Step(sub, negotiationLine("/req/1.0.0"), params, time.Now())
	require.Nil(t, ev)

	st, ok := sub.UserData().(RequestInRecv)
	require.True(t, ok)
	require.Equal(t, "/req/1.0.0", st.Proto)
}

func TestStepInboundNegotiatingRejectsUnknownProtocol(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()
	sub := acceptInboundSubstream(t, m, InboundNegotiating{FSM: negotiate.NewListener(params.OfferedProtocols())})

	ev := Step(sub, negotiationLine("/unknown/1.0.0"), params, time.Now())
	require.Nil(t, ev)

	_, ok := sub.UserData().(NegotiationFailed)
	require.True(t, ok)
}

func TestStepPingInAccumulatesAndEchoesAt32Bytes(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()
	sub := acceptInboundSubstream(t, m, PingIn{})

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}

	ev := Step(sub, payload, params, time.Now())
	require.Nil(t, ev)

	st, ok := sub.UserData().(PingIn)
	require.True(t, ok)
	require.Empty(t, st.Payload)

	frames := m.ExtractOut(1 << 20)
	require.Len(t, frames, 1) // one data frame, no SYN: this substream was accepted, not opened
	require.Equal(t, payload, frames[0][len(frames[0])-32:])
}

func TestStepPingInPartialPayloadDoesNotEchoYet(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()
	sub := acceptInboundSubstream(t, m, PingIn{})

	ev := Step(sub, make([]byte, 16), params, time.Now())
	require.Nil(t, ev)

	st, ok := sub.UserData().(PingIn)
	require.True(t, ok)
	require.Len(t, st.Payload, 16)
	require.Empty(t, extractAll(m))
}

func TestStepRequestOutNegotiatingSuccessThenResponse(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: true, Capacity: 64})
	params := testParams()

	fsm := negotiate.NewDialer("/req/1.0.0")
	_, _, helloOut, err := fsm.ReadWriteVec(nil) // mirrors engine_host.AddRequest's initial step
	require.NoError(t, err)

	deadline := time.Now().Add(20 * time.Second)
	sub, err := m.OpenSubstream(RequestOutNegotiating{FSM: fsm, Deadline: deadline, Request: []byte("ping-body"), Tag: "tag-1"})
	require.NoError(t, err)
	sub.Write(helloOut)

	// the listener echoes the requested protocol name back.
	ev := Step(sub, negotiationLine("/req/1.0.0"), params, time.Now())
	require.Nil(t, ev)

	_, ok := sub.UserData().(RequestOut)
	require.True(t, ok)

	framedResponse := varint.AppendUsize(nil, uint64(len("pong-body")))
	framedResponse = append(framedResponse, "pong-body"...)

	ev = Step(sub, framedResponse, params, time.Now())
	require.NotNil(t, ev)
	require.Equal(t, EventResponse, ev.Kind)
	require.Equal(t, "tag-1", ev.Tag)
	require.Equal(t, "pong-body", string(ev.Response))
	require.Nil(t, ev.Err)
}

func TestStepRequestOutNegotiatingNotAvailable(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: true, Capacity: 64})
	params := testParams()

	fsm := negotiate.NewDialer("/req/1.0.0")
	_, _, _, err := fsm.ReadWriteVec(nil)
	require.NoError(t, err)

	sub, err := m.OpenSubstream(RequestOutNegotiating{FSM: fsm, Deadline: time.Now().Add(time.Second), Tag: "tag-2"})
	require.NoError(t, err)

	naLine := negotiationLine("\x00na")
	ev := Step(sub, naLine, params, time.Now())
	require.NotNil(t, ev)
	require.Equal(t, EventResponse, ev.Kind)
	require.Equal(t, ErrKindProtocolNotAvailable, ev.Err.Kind)
	require.Equal(t, "tag-2", ev.Tag)
}

func TestStepNotificationsInHandshakeEmitsOpenEvent(t *testing.T) {
	m := mux.New(mux.Config{IsInitiator: false, Capacity: 64})
	params := testParams()
	sub := acceptInboundSubstream(t, m, NotificationsInHandshake{Proto: "/notif/1.0.0", Reader: framing.New(notificationsHandshakeMaxLen)})

	handshake := []byte("caps")
	framed := varint.AppendUsize(nil, uint64(len(handshake)))
	framed = append(framed, handshake...)

	ev := Step(sub, framed, params, time.Now())
	require.NotNil(t, ev)
	require.Equal(t, EventNotificationsInOpen, ev.Kind)
	require.Equal(t, "/notif/1.0.0", ev.Proto)
	require.Equal(t, "caps", string(ev.Handshake))

	_, ok := sub.UserData().(NotificationsInWait)
	require.True(t, ok)
}

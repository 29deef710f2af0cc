package connengine

import "github.com/sagernet/connengine/substream"

// Event, EventKind, RequestError and RequestErrorKind are the engine's
// host-facing event surface (spec §6). They are produced by the
// Substream State Machine (package substream) and re-exported here under
// their spec names so callers never need to import substream directly.
type (
	Event            = substream.Event
	EventKind        = substream.EventKind
	RequestError     = substream.RequestError
	RequestErrorKind = substream.RequestErrorKind
)

const (
	EventNone                   = substream.EventNone
	EventEndOfData              = substream.EventEndOfData
	EventRequestIn              = substream.EventRequestIn
	EventResponse               = substream.EventResponse
	EventNotificationsInOpen    = substream.EventNotificationsInOpen
	EventNotificationsOutAccept = substream.EventNotificationsOutAccept
	EventNotificationsOutReject = substream.EventNotificationsOutReject

	ErrKindTimeout              = substream.ErrKindTimeout
	ErrKindProtocolNotAvailable = substream.ErrKindProtocolNotAvailable
	ErrKindSubstreamReset       = substream.ErrKindSubstreamReset
	ErrKindNegotiationError     = substream.ErrKindNegotiationError
	ErrKindResponseLebError     = substream.ErrKindResponseLebError
)

// ErrorKind tags a ConnectionError (spec §6: "Error { Cipher, Multiplexer }").
type ErrorKind int

const (
	ErrKindCipher ErrorKind = iota
	ErrKindMultiplexer
)

// ConnectionError is fatal to the connection (spec §7): the caller must
// tear down the transport and must not reuse the Engine.
type ConnectionError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ErrKindCipher:
		return "connection: cipher error: " + e.Cause.Error()
	case ErrKindMultiplexer:
		return "connection: multiplexer error: " + e.Cause.Error()
	default:
		return "connection: error: " + e.Cause.Error()
	}
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

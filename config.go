package connengine

import (
	"time"

	"github.com/flynn/noise"
	"go.uber.org/zap"

	"github.com/sagernet/connengine/internal/cipher"
	"github.com/sagernet/connengine/internal/mux"
	"github.com/sagernet/connengine/substream"
)

// muxCapacity is the fixed in-flight substream capacity spec §4.5 names:
// "a multiplexer configured with … capacity 64".
const muxCapacity = 64

// requestTimeout is the deadline spec §4.2 and §4.4 install on every
// outbound request or notifications-open: "a new deadline = now+20s".
const requestTimeout = 20 * time.Second

// Config carries the engine's recognized configuration (spec §9
// "Configuration"): the protocol-selection parameters plus the
// randomness seed handed to the multiplexer and, as ambient stack
// additions (SPEC_FULL.md §12), an optional structured logger and
// metrics sink.
type Config struct {
	substream.Params

	// Seed is the 128-bit randomness seed the multiplexer is constructed
	// with (spec §4.5, §6).
	Seed [2]uint64

	// Logger receives the engine's diagnostics: a Debug entry each time a
	// substream's deadline expires, and nothing else. Nil is equivalent to zap.NewNop(), matching nspcc-dev-neo-go's
	// network package convention of a never-nil logger field.
	Logger *zap.Logger

	// Metrics receives connection-level counters. Nil gets a private,
	// unregistered collector set (see metrics.go).
	Metrics *Metrics
}

// ConnectionPrototype wraps a completed cipher state (spec §4.5): the
// sole way to obtain an Engine. Constructing the noise.CipherState pair
// themselves is the connection-establishment handshake's job (spec §1
// non-goal), entirely outside this package.
type ConnectionPrototype struct {
	cipher *cipher.State
}

// NewConnectionPrototype wraps the two directional CipherStates an
// external noise XX handshake produced. enc encrypts this side's
// outbound traffic, dec decrypts inbound traffic.
func NewConnectionPrototype(enc, dec *noise.CipherState, initiator bool) *ConnectionPrototype {
	return &ConnectionPrototype{cipher: cipher.New(enc, dec, initiator)}
}

// IntoEstablished turns the prototype into a running Engine (spec §4.5:
// "this is the only constructor").
func (p *ConnectionPrototype) IntoEstablished(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	m := mux.New(mux.Config{
		IsInitiator: p.cipher.IsInitiator(),
		Capacity:    muxCapacity,
		Seed:        cfg.Seed,
	})

	return &Engine{
		cipher:  p.cipher,
		mux:     m,
		params:  cfg.Params,
		logger:  logger,
		metrics: metrics,
	}
}

// SubstreamID is an opaque, stable-for-the-life-of-the-substream handle
// (spec §3 "Identifiers").
type SubstreamID uint32

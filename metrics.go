package connengine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the connection-level prometheus collectors spec §13's
// per-substream byte accounting feeds into. The pattern — a struct of
// prometheus.Counter/CounterVec/Histogram fields built from a constructor and
// registered by the caller — mirrors nspcc-dev-neo-go's
// pkg/network/metrics (and xendarboh-katzenpost's own client_golang use):
// the engine never calls prometheus.MustRegister itself, since it has no
// opinion on which registry a host process uses.
type Metrics struct {
	SubstreamsOpened prometheus.Counter
	SubstreamsReset  prometheus.Counter
	EventsEmitted    *prometheus.CounterVec
	BytesIn          prometheus.Counter
	BytesOut         prometheus.Counter

	// SubstreamBytesIn observes a substream's final cumulative inbound
	// payload byte count when the remote resets it (spec §13 supplement:
	// the original's per-substream read accounting); substreams removed
	// by a local reset or a close are not observed. A
	// histogram rather than a per-id counter, since substream ids are
	// unbounded over a connection's lifetime.
	SubstreamBytesIn prometheus.Histogram
}

// NewMetrics returns a Metrics value with unregistered collectors — the
// host must prometheus.MustRegister() whichever of them it wants
// exported, typically via Metrics.Collectors().
func NewMetrics() *Metrics {
	return &Metrics{
		SubstreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connengine_substreams_opened_total",
			Help: "Substreams opened locally or accepted from the remote.",
		}),
		SubstreamsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connengine_substreams_reset_total",
			Help: "Substreams reset by the remote.",
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connengine_events_emitted_total",
			Help: "High-level events returned by read_write, by kind.",
		}, []string{"kind"}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connengine_bytes_in_total",
			Help: "Ciphertext bytes consumed from the wire.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connengine_bytes_out_total",
			Help: "Ciphertext bytes produced for the wire.",
		}),
		SubstreamBytesIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "connengine_substream_bytes_in",
			Help:    "Per-substream cumulative inbound payload bytes, observed when the remote resets the substream.",
			Buckets: prometheus.ExponentialBuckets(32, 8, 8),
		}),
	}
}

// Collectors returns every collector so a host can register them in one
// call: prometheus.DefaultRegisterer.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SubstreamsOpened, m.SubstreamsReset, m.EventsEmitted,
		m.BytesIn, m.BytesOut, m.SubstreamBytesIn,
	}
}

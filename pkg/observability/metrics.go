package observability

import (
	"context"

	"github.com/aretw0/spooler/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors fed by the gate lifecycle hooks.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsFinalized prometheus.Counter
	SessionsAborted   prometheus.Counter
	SessionsActive    prometheus.Gauge
	ContinuesSent     prometheus.Counter
	Overflows         prometheus.Counter
	BytesSpooled      prometheus.Counter
	BytesDropped      prometheus.Counter
	PassThrough       prometheus.Counter
	BodySize          prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_sessions_started_total",
			Help: "Chunked bodies whose aggregation started",
		}),
		SessionsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_sessions_finalized_total",
			Help: "Chunked bodies aggregated into a complete message",
		}),
		SessionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_sessions_aborted_total",
			Help: "Sessions torn down before their terminal fragment",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spooler_sessions_active",
			Help: "Sessions currently aggregating a body",
		}),
		ContinuesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_continue_sent_total",
			Help: "100 Continue interim responses written",
		}),
		Overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_overflows_total",
			Help: "Sessions truncated by the maximum content length",
		}),
		BytesSpooled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_bytes_spooled_total",
			Help: "Body bytes written to backing stores of finalized sessions",
		}),
		BytesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_bytes_dropped_total",
			Help: "Body bytes discarded by the overflow policy",
		}),
		PassThrough: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spooler_pass_through_total",
			Help: "Units forwarded without aggregation",
		}),
		BodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spooler_body_size_bytes",
			Help:    "Size of finalized bodies",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256MiB
		}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsFinalized,
		m.SessionsAborted,
		m.SessionsActive,
		m.ContinuesSent,
		m.Overflows,
		m.BytesSpooled,
		m.BytesDropped,
		m.PassThrough,
		m.BodySize,
	)
	return m
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionStart: func(context.Context, *domain.SessionEvent) {
			m.SessionsStarted.Inc()
			m.SessionsActive.Inc()
		},
		OnContinue: func(context.Context, *domain.SessionEvent) {
			m.ContinuesSent.Inc()
		},
		OnFragment: func(_ context.Context, e *domain.SessionEvent) {
			if e.Dropped > 0 {
				m.BytesDropped.Add(float64(e.Dropped))
			}
		},
		OnOverflow: func(context.Context, *domain.SessionEvent) {
			m.Overflows.Inc()
		},
		OnFinalize: func(_ context.Context, e *domain.SessionEvent) {
			m.SessionsFinalized.Inc()
			m.SessionsActive.Dec()
			m.BytesSpooled.Add(float64(e.Bytes))
			m.BodySize.Observe(float64(e.Bytes))
		},
		OnAbort: func(context.Context, *domain.SessionEvent) {
			m.SessionsAborted.Inc()
			m.SessionsActive.Dec()
		},
		OnPassThrough: func(context.Context, *domain.EventBase) {
			m.PassThrough.Inc()
		},
	}
}

// Package enginemetrics exposes Prometheus instrumentation for the ratchet
// engine, negotiation, and orchestrator packages, grounded on the teacher's
// internal/metrics/metrics.go promauto patterns. Unlike the teacher, these
// collectors are registered against an injected *prometheus.Registry rather
// than the global default registerer, so multiple engines (and tests) in
// the same process never collide on metric names.
package enginemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine emits.
type Metrics struct {
	SessionsActive       prometheus.Gauge
	EncryptTotal         *prometheus.CounterVec
	DecryptTotal         *prometheus.CounterVec
	DecryptLatency       prometheus.Histogram
	RatchetStepsTotal    *prometheus.CounterVec
	NegotiationsTotal    *prometheus.CounterVec
	KeyGenerationsTotal  *prometheus.CounterVec
}

// New registers and returns a fresh metrics bundle on reg. Passing
// prometheus.NewRegistry() (rather than prometheus.DefaultRegisterer) keeps
// each Engine's metrics independent, which matters for tests that construct
// more than one Engine in the same process.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratchet_sessions_active",
			Help: "Number of Double Ratchet sessions currently held in memory",
		}),
		EncryptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratchet_encrypt_total",
			Help: "Total number of encrypt operations by mode and result",
		}, []string{"mode", "result"}),
		DecryptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratchet_decrypt_total",
			Help: "Total number of decrypt operations by mode and result",
		}, []string{"mode", "result"}),
		DecryptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratchet_decrypt_latency_seconds",
			Help:    "Decrypt operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		RatchetStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratchet_dh_steps_total",
			Help: "Total number of DH-ratchet steps by trigger",
		}, []string{"trigger"}), // "receive" | "periodic"
		NegotiationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratchet_negotiations_total",
			Help: "Total number of algorithm negotiations by outcome",
		}, []string{"key_exchange", "result"}),
		KeyGenerationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratchet_key_generations_total",
			Help: "Total number of generateUserKeys calls by mode",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.EncryptTotal,
		m.DecryptTotal,
		m.DecryptLatency,
		m.RatchetStepsTotal,
		m.NegotiationsTotal,
		m.KeyGenerationsTotal,
	)
	return m
}

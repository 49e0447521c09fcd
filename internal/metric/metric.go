// Package metric provides Prometheus instrumentation for the auto-reply engine.
//
// All methods on *Metrics are safe to call on a nil receiver, so components
// can be instrumented unconditionally.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoreply"

// Metrics contains all engine metrics.
type Metrics struct {
	Messages       *prometheus.CounterVec
	Dispatches     *prometheus.CounterVec
	PendingReplies prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Inbound messages by handling outcome",
			},
			[]string{"outcome"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Reply dispatch attempts by mode (immediate|delayed) and result (sent|failed)",
			},
			[]string{"mode", "result"},
		),
		PendingReplies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_replies",
				Help:      "Delayed replies waiting for their timer",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.Messages, m.Dispatches, m.PendingReplies} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format, plus /health.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// ObserveMessage counts one inbound message.
func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(outcome).Inc()
}

// ObserveDispatch counts one Gateway call.
func (m *Metrics) ObserveDispatch(mode, result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(mode, result).Inc()
}

// PendingInc records a newly scheduled reply.
func (m *Metrics) PendingInc() {
	if m == nil {
		return
	}
	m.PendingReplies.Inc()
}

// PendingDec records a reply leaving the pending state.
func (m *Metrics) PendingDec() {
	if m == nil {
		return
	}
	m.PendingReplies.Dec()
}

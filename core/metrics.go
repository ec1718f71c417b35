package core

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the Prometheus instruments the queues and the
// publisher update. A nil *metrics (from NewMetrics(nil)) makes every method
// a no-op so tests don't need a registry.
type metrics struct {
	parseSubmitted   prometheus.Counter
	parseDropped     prometheus.Counter
	parseInFlight    prometheus.Gauge
	analysisEnqueued prometheus.Counter
	analysisDone     prometheus.Counter
	analysisCanceled prometheus.Counter
	diagPublished    prometheus.Counter
	diagSuppressed   prometheus.Counter
}

// NewMetrics registers the core's instruments on reg and returns a
// handle the queues and publisher use internally. Pass nil to disable
// metrics entirely.
func NewMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		parseSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_parse_submitted_total",
			Help: "Parse tasks submitted to the parse queue.",
		}),
		parseDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_parse_dropped_total",
			Help: "Parse requests dropped due to the in-flight throttle.",
		}),
		parseInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "juniperls_parse_in_flight",
			Help: "Parse intents currently counted against the per-document throttle.",
		}),
		analysisEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_analysis_enqueued_total",
			Help: "Documents enqueued onto the analysis queue.",
		}),
		analysisDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_analysis_completed_total",
			Help: "Analysis tasks completed without error.",
		}),
		analysisCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_analysis_canceled_total",
			Help: "Analysis tasks canceled by shutdown.",
		}),
		diagPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_diagnostics_published_total",
			Help: "Diagnostic batches delivered to the client.",
		}),
		diagSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "juniperls_diagnostics_suppressed_total",
			Help: "Diagnostic batches suppressed by the monotonic version guard.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.parseSubmitted, m.parseDropped, m.parseInFlight,
		m.analysisEnqueued, m.analysisDone, m.analysisCanceled,
		m.diagPublished, m.diagSuppressed,
	} {
		reg.MustRegister(c)
	}
	return m
}

func (m *metrics) parseSubmit() {
	if m == nil {
		return
	}
	m.parseSubmitted.Inc()
	m.parseInFlight.Inc()
}

func (m *metrics) parseDone() {
	if m == nil {
		return
	}
	m.parseInFlight.Dec()
}

func (m *metrics) parseDrop() {
	if m == nil {
		return
	}
	m.parseDropped.Inc()
}

func (m *metrics) analysisEnqueue() {
	if m == nil {
		return
	}
	m.analysisEnqueued.Inc()
}

func (m *metrics) analysisComplete(canceled bool) {
	if m == nil {
		return
	}
	if canceled {
		m.analysisCanceled.Inc()
		return
	}
	m.analysisDone.Inc()
}

func (m *metrics) diagPublish(suppressed bool) {
	if m == nil {
		return
	}
	if suppressed {
		m.diagSuppressed.Inc()
		return
	}
	m.diagPublished.Inc()
}

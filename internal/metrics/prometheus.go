package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments for the signal pipeline. It
// registers everything on its own registry so the exposition endpoint only
// carries engine metrics.
type Collector struct {
	registry *prometheus.Registry

	CandlesProcessed  *prometheus.CounterVec
	BarCloses         *prometheus.CounterVec
	SignalsGenerated  *prometheus.CounterVec
	SignalsSuppressed *prometheus.CounterVec
	SignalsRejected   *prometheus.CounterVec
	AnalyzerErrors    *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	StreamReconnects  prometheus.Counter
	StreamMessages    prometheus.Counter
	RESTRequests      prometheus.Counter
	RESTErrors        prometheus.Counter
	NotifierSends     *prometheus.CounterVec
	NotifierFailures  *prometheus.CounterVec
}

// NewCollector creates and registers all pipeline instruments.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		CandlesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_candles_processed_total",
				Help: "Total number of candle updates processed by the aggregator",
			},
			[]string{"symbol", "interval"},
		),

		BarCloses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_bar_closes_total",
				Help: "Total number of bar close transitions detected",
			},
			[]string{"symbol", "interval"},
		),

		SignalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_signals_generated_total",
				Help: "Total number of signals that passed fusion and suppression",
			},
			[]string{"symbol", "direction"},
		),

		SignalsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_signals_suppressed_total",
				Help: "Total number of signals dropped by suppression, by reason",
			},
			[]string{"reason"},
		),

		SignalsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_signals_rejected_total",
				Help: "Total number of fusion outcomes below the confidence threshold",
			},
			[]string{"symbol"},
		),

		AnalyzerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_analyzer_errors_total",
				Help: "Total number of analyzer failures, by analyzer",
			},
			[]string{"analyzer"},
		),

		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signal_engine_pipeline_duration_seconds",
				Help:    "Duration of the analyze-fuse-persist pipeline per bar close",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"symbol", "interval"},
		),

		StreamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signal_engine_stream_reconnects_total",
				Help: "Total number of websocket reconnect attempts",
			},
		),

		StreamMessages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signal_engine_stream_messages_total",
				Help: "Total number of websocket messages received",
			},
		),

		RESTRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signal_engine_rest_requests_total",
				Help: "Total number of exchange REST requests",
			},
		),

		RESTErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signal_engine_rest_errors_total",
				Help: "Total number of failed exchange REST requests",
			},
		),

		NotifierSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_notifier_sends_total",
				Help: "Total number of successful notifier deliveries, by sink",
			},
			[]string{"notifier"},
		),

		NotifierFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signal_engine_notifier_failures_total",
				Help: "Total number of failed notifier deliveries, by sink",
			},
			[]string{"notifier"},
		),
	}

	c.registry.MustRegister(
		c.CandlesProcessed,
		c.BarCloses,
		c.SignalsGenerated,
		c.SignalsSuppressed,
		c.SignalsRejected,
		c.AnalyzerErrors,
		c.PipelineDuration,
		c.StreamReconnects,
		c.StreamMessages,
		c.RESTRequests,
		c.RESTErrors,
		c.NotifierSends,
		c.NotifierFailures,
	)

	return c
}

// Handler returns the exposition endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

package meter

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineyio/metergate"
)

// PromMeter exports gateway events as Prometheus metrics.
//
// Metrics:
//   - metergate_provider_requests_total{provider,model,outcome}
//   - metergate_provider_latency_seconds{provider,model}
//   - metergate_tokens_total{provider,direction}
//   - metergate_charges_total{outcome}
//   - metergate_charged_units_total
//   - metergate_charged_usd_total
//   - metergate_queue_wait_seconds
//   - metergate_queue_timeouts_total
//   - metergate_scheduler_active / metergate_scheduler_queued
type PromMeter struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	charges      *prometheus.CounterVec
	units        prometheus.Counter
	usd          prometheus.Counter
	queueWait    prometheus.Histogram
	queueTimeout prometheus.Counter
	active       prometheus.Gauge
	queued       prometheus.Gauge
}

var _ metergate.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter and registers its collectors with
// registry. A nil registry gets a fresh one.
func NewPromMeter(registry *prometheus.Registry) *PromMeter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	const ns = "metergate"
	m := &PromMeter{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "provider_requests_total",
			Help:      "Provider calls by outcome (success, error, skipped).",
		}, []string{"provider", "model", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "direction"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "charges_total",
			Help:      "Debit attempts by outcome (charged, clamped, refused, error).",
		}, []string{"outcome"}),
		units: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "charged_units_total",
			Help:      "Balance units debited.",
		}),
		usd: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "charged_usd_total",
			Help:      "Billed cost in USD.",
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a scheduler slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		queueTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "queue_timeouts_total",
			Help:      "Submissions that timed out waiting for a slot.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "scheduler_active",
			Help:      "Jobs holding a scheduler slot.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "scheduler_queued",
			Help:      "Jobs waiting for a scheduler slot.",
		}),
	}
	registry.MustRegister(
		m.requests, m.latency, m.tokens, m.charges, m.units, m.usd,
		m.queueWait, m.queueTimeout, m.active, m.queued,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *PromMeter) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *PromMeter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *PromMeter) OnRoute(metergate.RouteEvent) {}

func (m *PromMeter) OnResult(e metergate.ResultEvent) {
	provider := string(e.Provider)
	switch {
	case e.Skipped:
		m.requests.WithLabelValues(provider, e.Model, "skipped").Inc()
		return
	case e.Success:
		m.requests.WithLabelValues(provider, e.Model, "success").Inc()
		m.tokens.WithLabelValues(provider, "input").Add(float64(e.Usage.PromptTokens))
		m.tokens.WithLabelValues(provider, "output").Add(float64(e.Usage.CompletionTokens))
	default:
		m.requests.WithLabelValues(provider, e.Model, "error").Inc()
	}
	m.latency.WithLabelValues(provider, e.Model).Observe(e.Duration.Seconds())
}

func (m *PromMeter) OnCharge(e metergate.ChargeEvent) {
	var ib *metergate.InsufficientBalanceError
	switch {
	case errors.As(e.Error, &ib):
		m.charges.WithLabelValues("refused").Inc()
		return
	case e.Error != nil:
		m.charges.WithLabelValues("error").Inc()
		return
	case e.Clamped:
		m.charges.WithLabelValues("clamped").Inc()
	default:
		m.charges.WithLabelValues("charged").Inc()
	}
	m.units.Add(float64(e.Units))
	m.usd.Add(e.CostUSD)
}

func (m *PromMeter) OnQueue(e metergate.QueueEvent) {
	m.queueWait.Observe(e.Waited.Seconds())
	if e.TimedOut {
		m.queueTimeout.Inc()
	}
	m.active.Set(float64(e.Active))
	m.queued.Set(float64(e.Queued))
}

package cost

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/steveyegge/qgate/internal/types"
)

// Metrics are the ledger's Prometheus collectors. They are registered on an
// injected registry so tests and the CLI never share the global one.
type Metrics struct {
	invocations *prometheus.CounterVec
	refusals    prometheus.Counter
	tokens      *prometheus.CounterVec
	spend       prometheus.Counter
	checks      *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewMetrics creates and registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_reasoning_invocations_total",
			Help: "Reasoning calls by outcome",
		}, []string{"outcome"}),

		refusals: f.NewCounter(prometheus.CounterOpts{
			Name: "qgate_reasoning_refusals_total",
			Help: "Escalations refused before a call was attempted",
		}),

		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_reasoning_tokens_total",
			Help: "Tokens consumed by reasoning calls",
		}, []string{"direction"}),

		spend: f.NewCounter(prometheus.CounterOpts{
			Name: "qgate_reasoning_cost_usd_total",
			Help: "Estimated spend on reasoning calls in USD",
		}),

		checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_checks_total",
			Help: "File checks by result",
		}, []string{"result"}),

		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qgate_reasoning_duration_seconds",
			Help:    "Reasoning call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		}),
	}
}

func (m *Metrics) observeInvocation(rec types.InvocationRecord, costUSD float64) {
	outcome := "success"
	if !rec.Succeeded {
		outcome = string(rec.Failure)
		if outcome == "" {
			outcome = "failure"
		}
	}
	m.invocations.WithLabelValues(outcome).Inc()
	m.tokens.WithLabelValues("input").Add(float64(rec.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(rec.OutputTokens))
	m.spend.Add(costUSD)
	m.duration.Observe(rec.Duration.Seconds())
}

func (m *Metrics) observeCheck(o types.CheckOutcome) {
	result := "clean"
	switch {
	case o.WasEscalated:
		result = "escalated"
	case o.HadErrors:
		result = "errors"
	}
	m.checks.WithLabelValues(result).Inc()
}

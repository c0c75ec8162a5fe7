package agentloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts orchestrator activity. A nil *Metrics records nothing.
type Metrics struct {
	turns            prometheus.Counter
	executions       *prometheus.CounterVec
	truncations      prometheus.Counter
	generationErrors *prometheus.CounterVec
}

// NewMetrics creates the orchestrator metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "interpreter",
			Name:      "turns_total",
			Help:      "Generation turns started by the response loop.",
		}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter",
			Name:      "executions_total",
			Help:      "Code blocks handled, by language and outcome.",
		}, []string{"language", "outcome"}),
		truncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "interpreter",
			Name:      "output_truncations_total",
			Help:      "Execution outputs cut down to the output limit.",
		}),
		generationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interpreter",
			Name:      "generation_errors_total",
			Help:      "Generation failures, by class.",
		}, []string{"class"}),
	}
}

func (m *Metrics) turn() {
	if m != nil {
		m.turns.Inc()
	}
}

func (m *Metrics) execution(language, outcome string) {
	if m != nil {
		m.executions.WithLabelValues(language, outcome).Inc()
	}
}

func (m *Metrics) truncated() {
	if m != nil {
		m.truncations.Inc()
	}
}

func (m *Metrics) generationError(class string) {
	if m != nil {
		m.generationErrors.WithLabelValues(class).Inc()
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "booking_assistant"

// Metrics holds the instruments for the chat turn pipeline.
type Metrics struct {
	Turns           *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	IntentFallbacks *prometheus.CounterVec
	LoopCap         prometheus.Counter
	ModelLatency    *prometheus.HistogramVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns processed, by outcome",
		}, []string{"outcome"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions dispatched to the executor, by action and result",
		}, []string{"action", "result"}),
		IntentFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_fallbacks_total",
			Help:      "Synthetic intents produced instead of the model's own",
		}, []string{"reason"}),
		LoopCap: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_cap_total",
			Help:      "Turns that hit the internal loop cap",
		}),
		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Duration of model provider calls",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"outcome"}),
	}
}

// Nop returns instruments registered on a private registry, for tests and
// callers that do not export metrics.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveModel(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ModelLatency.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CountTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CountAction(action, result string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) CountFallback(reason string) {
	if m == nil {
		return
	}
	m.IntentFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) CountLoopCap() {
	if m == nil {
		return
	}
	m.LoopCap.Inc()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cafebot"

// Metrics groups the collectors of the turn pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns         *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	remoteCalls   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	cacheLookups  *prometheus.CounterVec
	searchResults *prometheus.HistogramVec
	escalations   *prometheus.CounterVec
	modelCostUSD  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by strategy and response quality.",
		}, []string{"strategy", "quality"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stage errors or panics recovered at the stage boundary.",
		}, []string{"stage"}),
		remoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote inference and embedding attempts by outcome.",
		}, []string{"operation", "outcome"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		searchResults: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of knowledge results returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}, []string{"namespace"}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Turns flagged for human attention by urgency.",
		}, []string{"urgency"}),
		modelCostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_cost_usd_total",
			Help:      "Estimated model spend in USD.",
		}, []string{"model"}),
	}
}

func (m *Metrics) ObserveTurn(strategy, quality string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(strategy, quality).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveRemoteCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) SetBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(breaker).Set(float64(state))
}

func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveSearch(namespace string, results int) {
	if m == nil {
		return
	}
	m.searchResults.WithLabelValues(namespace).Observe(float64(results))
}

func (m *Metrics) ObserveEscalation(urgency string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(urgency).Inc()
}

func (m *Metrics) AddModelCost(model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.modelCostUSD.WithLabelValues(model).Add(usd)
}

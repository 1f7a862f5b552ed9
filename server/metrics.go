package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	compiles     *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	ruleMatches  *prometheus.CounterVec
	cacheHits    prometheus.Counter
	evalDuration prometheus.Histogram
	programs     prometheus.GaugeFunc
}

// NewMetrics creates and registers the collectors. storeLen reports the
// number of held programs.
func NewMetrics(storeLen func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jary",
			Name:      "compiles_total",
			Help:      "Compile requests by outcome.",
		}, []string{"outcome"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jary",
			Name:      "evaluations_total",
			Help:      "Evaluate requests by outcome.",
		}, []string{"outcome"}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jary",
			Name:      "rule_results_total",
			Help:      "Rule evaluations by result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jary",
			Name:      "cache_hits_total",
			Help:      "Compiles answered by the program cache.",
		}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jary",
			Name:      "evaluation_seconds",
			Help:      "Time spent evaluating a program.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	m.programs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "jary",
		Name:      "programs",
		Help:      "Compiled programs held for evaluation.",
	}, func() float64 { return float64(storeLen()) })

	m.registry.MustRegister(m.compiles, m.evaluations, m.ruleMatches, m.cacheHits, m.evalDuration, m.programs)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

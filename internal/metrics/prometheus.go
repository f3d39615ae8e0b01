package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Pass results.
const (
	PassCompleted = "completed"
	PassDisabled  = "disabled"
	PassFailed    = "failed"
)

// Policy outcomes within a pass.
const (
	OutcomeIneligible = "ineligible"
	OutcomeConsistent = "consistent"
	OutcomeDrift      = "drift"
	OutcomeSkipped    = "skipped"
	OutcomeError      = "error"
)

// Registry holds the rule check metrics.
type Registry struct {
	gatherer prometheus.Gatherer

	// Reconciliation passes
	PassesTotal   *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	LastPassEnded prometheus.Gauge

	// Per-policy outcomes
	PolicyOutcomes *prometheus.CounterVec
	DriftTotal     *prometheus.CounterVec

	// Kernel set queries
	SetQueries *prometheus.CounterVec
	SetSize    *prometheus.GaugeVec

	// Domain resolution
	DomainLookups *prometheus.CounterVec

	// Re-enforcement requests
	ReenforceTotal *prometheus.CounterVec
}

// Get returns the process-wide registry backed by the default Prometheus
// registerer, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return registry
}

// New creates a registry whose collectors are registered with reg.
// Tests pass a fresh prometheus.NewRegistry() for both arguments.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	f := promauto.With(reg)
	r := &Registry{gatherer: gatherer}

	r.PassesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_passes_total",
		Help: "Reconciliation passes by result",
	}, []string{"result"})

	r.PassDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "rulecheck_pass_duration_seconds",
		Help:    "Wall time of completed reconciliation passes",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	r.LastPassEnded = f.NewGauge(prometheus.GaugeOpts{
		Name: "rulecheck_last_pass_timestamp_seconds",
		Help: "Unix timestamp of the last completed pass",
	})

	r.PolicyOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_policies_total",
		Help: "Policies evaluated by outcome",
	}, []string{"outcome"})

	r.DriftTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_drift_total",
		Help: "Policies found missing from their membership sets",
	}, []string{"type"})

	r.SetQueries = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_set_queries_total",
		Help: "Kernel set listing queries",
	}, []string{"set", "result"})

	r.SetSize = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rulecheck_set_members",
		Help: "Members seen in each set during the last read",
	}, []string{"set"})

	r.DomainLookups = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_domain_lookups_total",
		Help: "Domain target resolutions",
	}, []string{"result"})

	r.ReenforceTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "rulecheck_reenforce_total",
		Help: "Re-enforcement requests issued",
	}, []string{"result"})

	return r
}

// RecordPass records a finished pass.
func (r *Registry) RecordPass(result string, duration time.Duration, end time.Time) {
	r.PassesTotal.WithLabelValues(result).Inc()
	if result == PassCompleted {
		r.PassDuration.Observe(duration.Seconds())
		r.LastPassEnded.Set(float64(end.Unix()))
	}
}

// RecordOutcome records one policy evaluation.
func (r *Registry) RecordOutcome(outcome string) {
	r.PolicyOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDrift records a policy that needs re-enforcement.
func (r *Registry) RecordDrift(policyType string) {
	r.DriftTotal.WithLabelValues(policyType).Inc()
}

// RecordSetQuery records a kernel set listing.
func (r *Registry) RecordSetQuery(set string, size int, err error) {
	if err != nil {
		r.SetQueries.WithLabelValues(set, "error").Inc()
		return
	}
	r.SetQueries.WithLabelValues(set, "ok").Inc()
	r.SetSize.WithLabelValues(set).Set(float64(size))
}

// RecordDomainLookup records a domain resolution.
func (r *Registry) RecordDomainLookup(err error) {
	r.DomainLookups.WithLabelValues(resultString(err)).Inc()
}

// RecordReenforce records a re-enforcement request.
func (r *Registry) RecordReenforce(err error) {
	r.ReenforceTotal.WithLabelValues(resultString(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func resultString(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package care

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/erpath/internal/triage"
)

// Metrics holds Prometheus metrics for care sessions.
type Metrics struct {
	AssessmentsTotal      *prometheus.CounterVec
	DecisionsTotal        *prometheus.CounterVec
	FallbacksTotal        *prometheus.CounterVec
	StaleResultsTotal     *prometheus.CounterVec
	PathwaysTotal         *prometheus.CounterVec
	NotificationsTotal    *prometheus.CounterVec
	ClassifyDuration      *prometheus.HistogramVec
	PathwayDuration       *prometheus.HistogramVec
	FacilityRankingsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns care metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_assessments_total",
			Help: "Assessments accepted, by kind (submit, resubmit).",
		}, []string{"kind"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_triage_decisions_total",
			Help: "Applied triage decisions by source and effective level.",
		}, []string{"source", "level"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_triage_fallbacks_total",
			Help: "Decisions that fell back to the rule engine, by reason.",
		}, []string{"reason"}),
		StaleResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_stale_results_total",
			Help: "Async results discarded because a newer request superseded them.",
		}, []string{"kind"}),
		PathwaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_pathways_total",
			Help: "Installed care pathways by source (generated, default).",
		}, []string{"source"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_critical_notifications_total",
			Help: "Critical-decision notifications by result.",
		}, []string{"result"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erpath_classification_duration_seconds",
			Help:    "Time from dispatch to reconciled decision.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"source"}),
		PathwayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erpath_pathway_generation_duration_seconds",
			Help:    "Time from facility selection to installed pathway.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms .. ~51s
		}, []string{"source"}),
		FacilityRankingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_facility_rankings_total",
			Help: "Facility ranking requests by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.AssessmentsTotal,
		m.DecisionsTotal,
		m.FallbacksTotal,
		m.StaleResultsTotal,
		m.PathwaysTotal,
		m.NotificationsTotal,
		m.ClassifyDuration,
		m.PathwayDuration,
		m.FacilityRankingsTotal,
	)

	return m
}

func (m *Metrics) assessment(kind string) {
	if m != nil {
		m.AssessmentsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) decision(d triage.Decision, seconds float64) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(string(d.Source), d.EffectiveLevel.String()).Inc()
	if d.FallbackReason != triage.FallbackNone {
		m.FallbacksTotal.WithLabelValues(string(d.FallbackReason)).Inc()
	}
	m.ClassifyDuration.WithLabelValues(string(d.Source)).Observe(seconds)
}

func (m *Metrics) stale(kind string) {
	if m != nil {
		m.StaleResultsTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) pathway(src PathwaySource, seconds float64) {
	if m == nil {
		return
	}
	m.PathwaysTotal.WithLabelValues(string(src)).Inc()
	m.PathwayDuration.WithLabelValues(string(src)).Observe(seconds)
}

func (m *Metrics) notification(result string) {
	if m != nil {
		m.NotificationsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ranking(result string) {
	if m != nil {
		m.FacilityRankingsTotal.WithLabelValues(result).Inc()
	}
}

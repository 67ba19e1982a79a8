package airdrop

import (
	"time"

	"smallbiznis-airdrop/pkg/retry"
	"smallbiznis-airdrop/services/platform"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	decisions   *prometheus.CounterVec
	pages       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	cacheHits   prometheus.Counter
	cacheMiss   prometheus.Counter
}

// NewMetrics registers the pipeline collectors on reg. A nil reg gives
// collectors that are counted but never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airdrop_decisions_total",
			Help: "Reconciliation outcomes per participant.",
		}, []string{"platform", "decision"}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airdrop_pages_total",
			Help: "Participant pages fetched from platforms.",
		}, []string{"platform"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airdrop_retries_total",
			Help: "Retried platform calls by failure class.",
		}, []string{"platform", "class"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "airdrop_runs_total",
			Help: "Poll runs by final status.",
		}, []string{"platform", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airdrop_run_duration_seconds",
			Help:    "Wall time of a poll run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"platform"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "airdrop_rule_cache_hits_total",
			Help: "Reward rule lookups served from the cache.",
		}),
		cacheMiss: f.NewCounter(prometheus.CounterOpts{
			Name: "airdrop_rule_cache_miss_total",
			Help: "Reward rule lookups that went to the database.",
		}),
	}
}

func (m *Metrics) decision(p platform.Platform, kind DecisionKind) {
	m.decisions.WithLabelValues(string(p), string(kind)).Inc()
}

func (m *Metrics) page(p platform.Platform) {
	m.pages.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) retry(p platform.Platform, class retry.Class) {
	m.retries.WithLabelValues(string(p), class.String()).Inc()
}

func (m *Metrics) run(p platform.Platform, status RunStatus, took time.Duration) {
	m.runs.WithLabelValues(string(p), string(status)).Inc()
	m.runDuration.WithLabelValues(string(p)).Observe(took.Seconds())
}

// Observe hooks the cache hit and miss counters into c.
func (m *Metrics) Observe(c *RuleCache) {
	c.onHit = m.cacheHits.Inc
	c.onMiss = m.cacheMiss.Inc
}

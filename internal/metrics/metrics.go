package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	IngestCycles     prometheus.Counter
	ItemsAccepted    prometheus.Counter
	ItemsDuplicate   prometheus.Counter
	ItemsSuppressed  prometheus.Counter
	ItemsFailed      prometheus.Counter
	RunsCompleted    prometheus.Counter
	RunsCancelled    prometheus.Counter
	RunsSuspended    prometheus.Counter
	DecisionsApplied *prometheus.CounterVec
	StaleDecisions   prometheus.Counter
	PendingApprovals prometheus.Gauge
	StageDuration    *prometheus.HistogramVec
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		IngestCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_ingest_cycles_total",
			Help: "Total number of ingestion cycles",
		}),
		ItemsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_items_accepted_total",
			Help: "Total number of inbound items accepted into the pipeline",
		}),
		ItemsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_items_duplicate_total",
			Help: "Total number of inbound items rejected as duplicates",
		}),
		ItemsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_items_suppressed_total",
			Help: "Total number of inbound items rejected by suppression rules",
		}),
		ItemsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_items_failed_total",
			Help: "Total number of inbound items that failed during a cycle",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_runs_completed_total",
			Help: "Total number of pipeline runs reaching completed",
		}),
		RunsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_runs_cancelled_total",
			Help: "Total number of pipeline runs reaching cancelled",
		}),
		RunsSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_runs_suspended_total",
			Help: "Total number of pipeline runs suspended for approval",
		}),
		DecisionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ambient_email_agent_decisions_total",
			Help: "Total number of human decisions applied, by verdict",
		}, []string{"verdict"}),
		StaleDecisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ambient_email_agent_stale_decisions_total",
			Help: "Total number of decisions rejected as stale",
		}),
		PendingApprovals: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ambient_email_agent_pending_approvals",
			Help: "Number of approval requests currently awaiting a decision",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ambient_email_agent_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

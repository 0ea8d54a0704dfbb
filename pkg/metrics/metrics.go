package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Serializer metrics
	OpsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distspace_ops_committed_total",
			Help: "Total number of committed operations by kind",
		},
		[]string{"kind"},
	)

	RebasesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_rebases_total",
			Help: "Total number of transform steps performed during rebase",
		},
	)

	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distspace_rejections_total",
			Help: "Total number of rejected submissions by reason",
		},
		[]string{"reason"},
	)

	StorageFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_storage_failures_total",
			Help: "Total number of persistent store write failures",
		},
	)

	HotLogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distspace_hot_log_size",
			Help: "Current hot log length by document path",
		},
		[]string{"path"},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distspace_sessions_active",
			Help: "Number of connected sessions",
		},
	)

	SessionsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distspace_sessions_dropped_total",
			Help: "Total number of dropped sessions by reason",
		},
		[]string{"reason"},
	)

	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_broadcasts_total",
			Help: "Total number of committed ops fanned out to subscribers",
		},
	)

	// Replication metrics
	ReplicationOpsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_replication_ops_sent_total",
			Help: "Total number of operations forwarded to peers",
		},
	)

	ReplicationOpsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_replication_ops_received_total",
			Help: "Total number of operations received from peers",
		},
	)

	ReplicationGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_replication_gaps_total",
			Help: "Total number of out-of-order peer ops that required buffering",
		},
	)

	AntiEntropyRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_anti_entropy_rounds_total",
			Help: "Total number of anti-entropy rounds issued",
		},
	)

	AntiEntropyRetriesExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_anti_entropy_retries_exhausted_total",
			Help: "Total number of anti-entropy repairs that ran out of retries",
		},
	)

	// Snapshot metrics
	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distspace_snapshots_total",
			Help: "Total number of snapshots persisted",
		},
	)
)

// Register registers all metrics with Prometheus
func Register() {
	prometheus.MustRegister(
		OpsCommittedTotal,
		RebasesTotal,
		RejectionsTotal,
		StorageFailuresTotal,
		HotLogSize,
		SessionsActive,
		SessionsDroppedTotal,
		BroadcastsTotal,
		ReplicationOpsSentTotal,
		ReplicationOpsReceivedTotal,
		ReplicationGapsTotal,
		AntiEntropyRoundsTotal,
		AntiEntropyRetriesExhaustedTotal,
		SnapshotsTotal,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

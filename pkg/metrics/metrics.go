package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_raft_peers_total",
			Help: "Total number of Raft peers in the cluster configuration",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_raft_log_index",
			Help: "Current Raft log last index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftkv_raft_apply_duration_seconds",
			Help:    "Time taken for raft.Apply to return a committed response",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	LogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftkv_log_append_duration_seconds",
			Help:    "Time taken to apply one committed log entry to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotCompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raftkv_snapshot_compaction_duration_seconds",
			Help:    "Time taken to capture and persist a state machine snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Membership metrics
	MembershipReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftkv_membership_reconcile_total",
			Help: "Total membership reconciliation actions by kind and result",
		},
		[]string{"action", "result"},
	)

	MembershipDirectoryNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raftkv_membership_directory_nodes",
			Help: "Number of nodes currently registered in the discovery directory",
		},
	)

	// Client-facing API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raftkv_api_requests_total",
			Help: "Total number of client API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raftkv_api_request_duration_seconds",
			Help:    "Client API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(LogAppendDuration)
	prometheus.MustRegister(SnapshotCompactionDuration)
	prometheus.MustRegister(MembershipReconcileTotal)
	prometheus.MustRegister(MembershipDirectoryNodes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

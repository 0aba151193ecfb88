/*
Package metrics defines and registers the Prometheus metrics exposed
by a node, and provides the collector that keeps the gauges current.

All metrics are registered against the default registry at package
init and served by pkg/api's /metrics endpoint via Handler().

# Metric Categories

Raft:
  - raftkv_raft_is_leader: whether this node is the leader
  - raftkv_raft_peers_total: servers in the current configuration
  - raftkv_raft_log_index: last log index
  - raftkv_raft_applied_index: last applied index
  - raftkv_raft_apply_duration_seconds: client write commit latency

Storage:
  - raftkv_log_append_duration_seconds: per-entry state machine apply
  - raftkv_snapshot_compaction_duration_seconds: snapshot capture

Membership:
  - raftkv_membership_reconcile_total: reconcile actions by
    action (add_nonvoter, promote_voter, remove_nonvoter,
    remove_voter) and result (ok, error, blocked_quorum)
  - raftkv_membership_directory_nodes: entries in this node's routing
    table (itself plus the peers discovered through ZooKeeper)

Client API:
  - raftkv_api_requests_total: control-plane RPCs by method and status
  - raftkv_api_request_duration_seconds: RPC latency by method

# Collector

Collector polls a StatsSource (implemented by pkg/node.Node) every 15
seconds and copies its Raft and membership state into the gauges. The
counters and histograms are instead recorded inline at the call sites
that do the work (pkg/storage, pkg/membership, pkg/node, pkg/api).

	collector := metrics.NewCollector(node)
	collector.Start()
	defer collector.Stop()

# Timing helper

Timer wraps the observe-a-duration pattern:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.SnapshotCompactionDuration)

and ObserveDurationVec does the same for labeled histograms.
*/
package metrics

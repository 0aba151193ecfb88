// Package node orchestrates one replica: it owns the *raft.Raft
// instance, the storage facade backing it, the membership controller
// discovering peers, and the event broker and metrics collector fed
// by all three. Bootstrap and JoinCluster are the two entry points:
// one creates a fresh single-node cluster, the other starts Raft with
// an empty configuration and asks an existing leader to add this node
// as a voter.
package node

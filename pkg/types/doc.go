/*
Package types defines the value types shared across the storage,
transport, membership, and node packages.

Keeping these in a leaf package lets the rest of the module exchange
commands, cluster snapshots, and directory entries without importing
each other: pkg/metrics can describe a StatsSource in terms of
types.RaftStats without importing pkg/node, and the membership
directory's znode payload (types.DirectoryEntry) is defined here
rather than inside the package that happens to speak ZooKeeper.

# Core Types

Write path:
  - Command: the envelope every write travels through the Raft log as
  - PutCommand, DeleteCommand: the two mutation payloads
  - ApplyResult: what a committed Command returns to its caller

Cluster identity and topology:
  - NodeID, ServerAddress: a server's identity and dialable address
  - Suffrage, Server, ClusterInfo: the configuration as exposed by the
    cluster-info surface
  - RaftStats: the subset of Raft state on the health and metrics
    surfaces

Discovery:
  - DirectoryEntry: one node's registration in the membership
    directory

All types marshal to JSON; Command additionally keeps its payload as
json.RawMessage so the log never needs to know which mutation it is
carrying.
*/
package types

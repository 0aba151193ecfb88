// Package storage wires pkg/logstore, pkg/kvstore, and
// pkg/statemachine into the four interfaces hashicorp/raft needs from
// a host application: raft.LogStore, raft.StableStore, raft.FSM, and
// (via raft.NewFileSnapshotStore) raft.SnapshotStore.
//
// Facade itself holds no data of its own; it only dispatches. The
// durability and transactional guarantees all come from the two
// bbolt databases underneath pkg/logstore and pkg/kvstore.
package storage

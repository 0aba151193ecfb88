// Package logstore provides the durable Raft log and stable-store
// implementations backing hashicorp/raft, using go.etcd.io/bbolt as
// the underlying B+tree.
//
// Log entries are keyed by their big-endian uint64 index so that
// bbolt's key ordering matches the log's natural order; a native-
// endian key would sort lexically in a different order than
// numerically on little-endian hosts, breaking range scans and
// FirstIndex/LastIndex.
package logstore

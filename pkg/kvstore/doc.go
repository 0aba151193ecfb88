// Package kvstore is the embedded key/value engine that backs the
// replicated state machine. It is deliberately a thin wrapper over
// go.etcd.io/bbolt: ordering, transactions, and durability all come
// from bbolt. The one piece of state it adds is the applied-index
// record, written in the same transaction as the mutation it belongs
// to so a crash can never tear the pair apart.
package kvstore

// Package statemachine applies committed Raft log entries to
// pkg/kvstore under a single-writer lock. Reads take the read side
// so concurrent Get calls don't block each other; every Apply/Restore
// takes the write side, serializing state-machine mutation the same
// way a single Raft FSM instance is expected to be driven by one
// goroutine at a time.
package statemachine

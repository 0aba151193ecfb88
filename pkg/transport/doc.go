// Package transport carries the three Raft wire RPCs
// (AppendEntries/Vote/InstallSnapshot) between nodes and provides the
// routing table and control-plane RPCs the membership controller and
// client front door need.
//
// The literal byte-level protocol is hashicorp/raft's own
// raft.NetworkTransport; this package only supplies the
// raft.StreamLayer it runs on top of, tunneling that byte stream
// through a single bidirectional gRPC method instead of a bare TCP
// dial. That keeps one listener serving both the Raft traffic and
// the control-plane RPCs, so a node advertises a single address.
package transport

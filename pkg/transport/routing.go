package transport

import (
	"fmt"
	"sync"
)

// RoutingTable is the node id -> address map the transport dials by.
// It always contains an entry for the local node and is updated with
// diff semantics rather than wholesale replacement, so a transient
// gap in the discovery directory never empties it.
type RoutingTable struct {
	mu      sync.RWMutex
	selfID  string
	entries map[string]string
}

// NewRoutingTable creates a routing table seeded with the local node.
func NewRoutingTable(selfID, selfAddr string) *RoutingTable {
	return &RoutingTable{
		selfID: selfID,
		entries: map[string]string{
			selfID: selfAddr,
		},
	}
}

// Update applies new routing entries, overwriting changed addresses
// and adding newly-seen ids. It returns the ids that are new to the
// table, excluding the local node, so the caller can admit only the
// ones that weren't already known. It never removes an id — deletion
// is the membership controller's decision, made explicitly once it
// has also reconciled the Raft voter set (see pkg/membership).
func (rt *RoutingTable) Update(next map[string]string) (added []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for id, addr := range next {
		if _, known := rt.entries[id]; !known && id != rt.selfID {
			added = append(added, id)
		}
		rt.entries[id] = addr
	}
	return added
}

// Remove drops an id from the table. Callers (the membership
// controller) must only call this after the corresponding
// raft.RemoveServer has succeeded.
func (rt *RoutingTable) Remove(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if id == rt.selfID {
		return
	}
	delete(rt.entries, id)
}

// Lookup returns the address registered for id.
func (rt *RoutingTable) Lookup(id string) (string, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	addr, ok := rt.entries[id]
	return addr, ok
}

// Snapshot returns a copy of the current id -> address map.
func (rt *RoutingTable) Snapshot() map[string]string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make(map[string]string, len(rt.entries))
	for id, addr := range rt.entries {
		out[id] = addr
	}
	return out
}

// ErrUnknownPeer reports a peer id that isn't in the routing table.
// No call in this module returns it: Raft traffic and control-plane
// calls dial addresses directly and do not look ids up in the table.
type ErrUnknownPeer struct {
	ID string
}

func (e *ErrUnknownPeer) Error() string {
	return fmt.Sprintf("transport: unknown peer %q", e.ID)
}

package statemachine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/types"
)

// StateMachine is the write-serialized, read-concurrent adapter
// between committed log entries and the embedded kv engine.
type StateMachine struct {
	mu sync.RWMutex
	kv *kvstore.Store
}

// New wraps an opened kv store.
func New(kv *kvstore.Store) *StateMachine {
	return &StateMachine{kv: kv}
}

// Get reads a key without taking the write lock.
func (sm *StateMachine) Get(key string) ([]byte, bool, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.kv.Get(key)
}

// Apply decodes and applies a single committed command, recording
// appliedIndex in the same underlying transaction as the mutation.
// The return value is the types.ApplyResult handed back through
// raft.Raft.Apply(...).Response().
func (sm *StateMachine) Apply(appliedIndex uint64, cmd types.Command) types.ApplyResult {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch cmd.Op {
	case types.OpPut:
		var p types.PutCommand
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return types.ApplyResult{Err: fmt.Errorf("decode put command: %w", err)}
		}
		if err := sm.kv.ApplyPut(p.Key, p.Value, appliedIndex); err != nil {
			return types.ApplyResult{Err: err}
		}
		return types.ApplyResult{Found: true, Value: p.Value}

	case types.OpDelete:
		var d types.DeleteCommand
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return types.ApplyResult{Err: fmt.Errorf("decode delete command: %w", err)}
		}
		_, found, err := sm.kv.Get(d.Key)
		if err != nil {
			return types.ApplyResult{Err: err}
		}
		if err := sm.kv.ApplyDelete(d.Key, appliedIndex); err != nil {
			return types.ApplyResult{Err: err}
		}
		return types.ApplyResult{Found: found}

	default:
		return types.ApplyResult{Err: fmt.Errorf("unknown command op: %s", cmd.Op)}
	}
}

// ApplyNoop advances appliedIndex for a log entry that carries no
// state-machine command (raft.LogNoop / raft.LogConfiguration).
func (sm *StateMachine) ApplyNoop(appliedIndex uint64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.kv.ApplyNoop(appliedIndex)
}

// Snapshot captures the full keyspace for a Raft snapshot. It holds
// the read lock, which keeps Apply (a write-lock holder) out while
// the keyspace and the applied index are read, so the two agree. The
// returned map is a copy, so later Apply calls do not change it.
func (sm *StateMachine) Snapshot() (map[string][]byte, uint64, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	data, err := sm.kv.Snapshot()
	if err != nil {
		return nil, 0, err
	}
	index, err := sm.kv.LastAppliedIndex()
	if err != nil {
		return nil, 0, err
	}
	return data, index, nil
}

// Restore replaces the keyspace wholesale, as happens after a Raft
// snapshot install.
func (sm *StateMachine) Restore(data map[string][]byte, appliedIndex uint64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.kv.Restore(data, appliedIndex)
}

// LastAppliedIndex reports the last index durably applied, used on
// startup to decide how much of the log still needs replaying.
func (sm *StateMachine) LastAppliedIndex() (uint64, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.kv.LastAppliedIndex()
}

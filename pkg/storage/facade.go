package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/log"
	"github.com/cuemby/raftkv/pkg/logstore"
	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/statemachine"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/hashicorp/raft"
)

// Facade bundles the durable log/stable store and the state machine
// behind the interfaces raft.NewRaft expects. It implements
// raft.FSM directly; its embedded *logstore.Store satisfies
// raft.LogStore and raft.StableStore. Beyond that interface surface,
// it also exposes the compaction/membership-recovery operations
// (GetMembershipConfig, DoLogCompaction, FinalizeSnapshotInstallation,
// CreateSnapshot, GetCurrentSnapshot) as directly callable methods, so
// a periodic compaction ticker or an admin RPC can drive them without
// waiting on hashicorp/raft's own internal snapshot scheduling.
type Facade struct {
	*logstore.Store
	sm        *statemachine.StateMachine
	kv        *kvstore.Store
	snapshots raft.SnapshotStore
	dataDir   string
	selfID    string
	selfAddr  string
}

// Config controls where the facade's two bbolt databases and the
// file-based snapshot store live.
type Config struct {
	DataDir           string
	RetainedSnapshots int
	// SelfID and SelfAddr seed GetMembershipConfig's fallback when
	// neither the log nor a snapshot carries a membership record yet
	// (a brand-new node that has never seen a configuration entry).
	SelfID   string
	SelfAddr string
}

// New opens the log store and kv store under cfg.DataDir and wires up
// a raft.FileSnapshotStore for snapshot persistence.
func New(cfg Config) (*Facade, error) {
	logs, err := logstore.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	kv, err := kvstore.Open(cfg.DataDir)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	retain := cfg.RetainedSnapshots
	if retain <= 0 {
		retain = 3
	}
	snaps, err := raft.NewFileSnapshotStore(filepath.Join(cfg.DataDir, "snapshots"), retain, nil)
	if err != nil {
		logs.Close()
		kv.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &Facade{
		Store:     logs,
		sm:        statemachine.New(kv),
		kv:        kv,
		snapshots: snaps,
		dataDir:   cfg.DataDir,
		selfID:    cfg.SelfID,
		selfAddr:  cfg.SelfAddr,
	}, nil
}

// SnapshotStore exposes the raft.SnapshotStore this facade wires,
// for passing directly to raft.NewRaft.
func (f *Facade) SnapshotStore() raft.SnapshotStore {
	return f.snapshots
}

// Get reads a key directly from the state machine, bypassing Raft.
// Callers needing linearizable reads would have to route through
// Apply or a leader-lease read barrier instead; this module makes no
// such guarantee.
func (f *Facade) Get(key string) ([]byte, bool, error) {
	return f.sm.Get(key)
}

// Close releases both underlying bbolt databases.
func (f *Facade) Close() error {
	kvErr := f.kv.Close()
	logErr := f.Store.Close()
	if kvErr != nil {
		return kvErr
	}
	return logErr
}

// --- raft.FSM ---

func (f *Facade) Apply(l *raft.Log) interface{} {
	if l.Type != raft.LogCommand {
		return nil
	}

	var cmd types.Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return types.ApplyResult{Err: fmt.Errorf("unmarshal command: %w", err)}
	}

	timer := metrics.NewTimer()
	result := f.sm.Apply(l.Index, cmd)
	timer.ObserveDuration(metrics.LogAppendDuration)

	if result.Err != nil {
		logger := log.WithComponent("storage")
		logger.Error().Err(result.Err).
			Uint64("index", l.Index).Str("op", string(cmd.Op)).
			Msg("apply failed")
	}
	return result
}

func (f *Facade) Snapshot() (raft.FSMSnapshot, error) {
	return f.captureSnapshot()
}

func (f *Facade) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var wire wireSnapshot
	if err := json.NewDecoder(rc).Decode(&wire); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	var cfg raft.Configuration
	if len(wire.Configuration) > 0 {
		cfg = raft.DecodeConfiguration(wire.Configuration)
	} else {
		var err error
		cfg, err = f.GetMembershipConfig()
		if err != nil {
			return fmt.Errorf("recover membership for restored snapshot: %w", err)
		}
	}

	return f.FinalizeSnapshotInstallation(wire.Index, wire.Term, nil, "", cfg, wire.Data)
}

// --- maintenance operations ---

// GetMembershipConfig scans the log in reverse for the most recent
// configuration-change entry, falls back to the membership carried by
// the last persisted snapshot if the log has been compacted past it,
// and finally falls back to an initial single-node configuration
// containing only this node.
func (f *Facade) GetMembershipConfig() (raft.Configuration, error) {
	appliedIndex, err := f.sm.LastAppliedIndex()
	if err != nil {
		return raft.Configuration{}, fmt.Errorf("read last applied index: %w", err)
	}

	var found *raft.Configuration
	err = f.Store.ScanReverse(appliedIndex, func(l *raft.Log) (bool, error) {
		if l.Type != raft.LogConfiguration {
			return false, nil
		}
		cfg := raft.DecodeConfiguration(l.Data)
		found = &cfg
		return true, nil
	})
	if err != nil {
		return raft.Configuration{}, fmt.Errorf("scan log for membership: %w", err)
	}
	if found != nil {
		return *found, nil
	}

	meta, err := f.Store.CurrentSnapshot()
	if err != nil {
		return raft.Configuration{}, fmt.Errorf("read current snapshot: %w", err)
	}
	if meta != nil && len(meta.Configuration) > 0 {
		return raft.DecodeConfiguration(meta.Configuration), nil
	}

	return raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(f.selfID), Address: raft.ServerAddress(f.selfAddr), Suffrage: raft.Voter},
		},
	}, nil
}

// GetLogEntries returns the persisted log entries with index in
// [lo, hi), in order; an inverted range returns an empty slice. This
// is the bulk companion to the per-index GetLog the consensus engine
// uses, for callers (compaction, admin introspection, tests) that
// want a window of the log at once.
func (f *Facade) GetLogEntries(lo, hi uint64) ([]*raft.Log, error) {
	return f.Store.Range(lo, hi)
}

// CreateSnapshot opens a fresh sink for the consensus engine (or
// DoLogCompaction) to stream a snapshot into; it has no side effects
// on its own.
func (f *Facade) CreateSnapshot(index, term uint64, configuration raft.Configuration, configurationIndex uint64) (raft.SnapshotSink, error) {
	return f.snapshots.Create(raft.SnapshotVersion(1), index, term, configuration, configurationIndex, nil)
}

// GetCurrentSnapshot returns the persisted metadata of the most recent
// completed snapshot, or nil if none has been taken yet.
func (f *Facade) GetCurrentSnapshot() (*logstore.SnapshotMeta, error) {
	return f.Store.CurrentSnapshot()
}

// captureSnapshot gathers everything a snapshot needs without
// mutating anything: the state machine's keyspace and applied index,
// the term of the entry at that index, and the membership in effect
// as of it.
func (f *Facade) captureSnapshot() (*fsmSnapshot, error) {
	data, index, err := f.sm.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	var term uint64
	if index > 0 {
		var entry raft.Log
		if err := f.Store.GetLog(index, &entry); err == nil {
			term = entry.Term
		} else if err != raft.ErrLogNotFound {
			return nil, fmt.Errorf("read log entry %d: %w", index, err)
		}
	}

	cfg, err := f.GetMembershipConfig()
	if err != nil {
		return nil, fmt.Errorf("recover membership as of %d: %w", index, err)
	}

	return &fsmSnapshot{data: data, index: index, term: term, configuration: cfg, logs: f.Store}, nil
}

// DoLogCompaction captures a snapshot of the current state and
// membership, persists it, then replaces every compacted log entry
// with a single configuration-change entry at the snapshot's index so
// a later GetMembershipConfig scan still finds it once the real
// history behind it is gone.
func (f *Facade) DoLogCompaction() (*logstore.SnapshotMeta, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotCompactionDuration)

	snap, err := f.captureSnapshot()
	if err != nil {
		return nil, err
	}
	if snap.index == 0 {
		return nil, fmt.Errorf("nothing applied yet, nothing to compact")
	}

	sink, err := f.CreateSnapshot(snap.index, snap.term, snap.configuration, 0)
	if err != nil {
		return nil, fmt.Errorf("open snapshot sink: %w", err)
	}
	if err := snap.Persist(sink); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	if err := f.Store.DeleteRange(0, snap.index); err != nil {
		return nil, fmt.Errorf("compact log through %d: %w", snap.index, err)
	}
	cfgBytes := raft.EncodeConfiguration(snap.configuration)
	if err := f.Store.StoreLog(&raft.Log{Index: snap.index, Term: snap.term, Type: raft.LogConfiguration, Data: cfgBytes}); err != nil {
		return nil, fmt.Errorf("insert snapshot pointer at %d: %w", snap.index, err)
	}

	return f.Store.CurrentSnapshot()
}

// FinalizeSnapshotInstallation replaces the compacted portion of the
// log with a single configuration-change entry at index, restores the
// state machine from snapshotData, and persists the resulting
// snapshot metadata. deleteThrough bounds the deletion to entries at
// or below it; nil clears the log entirely (the index-less variant
// used when no prior log survives to bound against, e.g. a brand new
// node installing its very first snapshot).
func (f *Facade) FinalizeSnapshotInstallation(index, term uint64, deleteThrough *uint64, id string, configuration raft.Configuration, snapshotData map[string][]byte) error {
	if deleteThrough != nil {
		if err := f.Store.DeleteRange(0, *deleteThrough); err != nil {
			return fmt.Errorf("delete log through %d: %w", *deleteThrough, err)
		}
	} else {
		first, err := f.Store.FirstIndex()
		if err != nil {
			return fmt.Errorf("read first index: %w", err)
		}
		last, err := f.Store.LastIndex()
		if err != nil {
			return fmt.Errorf("read last index: %w", err)
		}
		if last >= first && last > 0 {
			if err := f.Store.DeleteRange(first, last); err != nil {
				return fmt.Errorf("clear log: %w", err)
			}
		}
	}

	cfgBytes := raft.EncodeConfiguration(configuration)
	if err := f.Store.StoreLog(&raft.Log{Index: index, Term: term, Type: raft.LogConfiguration, Data: cfgBytes}); err != nil {
		return fmt.Errorf("insert snapshot pointer at %d: %w", index, err)
	}

	if err := f.sm.Restore(snapshotData, index); err != nil {
		return fmt.Errorf("restore state machine: %w", err)
	}

	return f.Store.SetCurrentSnapshot(&logstore.SnapshotMeta{
		Index:         index,
		Term:          term,
		ID:            id,
		Configuration: cfgBytes,
	})
}

type wireSnapshot struct {
	Index         uint64            `json:"index"`
	Term          uint64            `json:"term"`
	Configuration []byte            `json:"configuration,omitempty"`
	Data          map[string][]byte `json:"data"`
}

type fsmSnapshot struct {
	data          map[string][]byte
	index         uint64
	term          uint64
	configuration raft.Configuration
	logs          *logstore.Store
}

// Persist writes the snapshot to sink and then records its metadata
// durably. Both must land before returning success: a caller uses the
// return value to know compaction has completed, and a metadata
// record without the data (or vice versa) would leave the node unable
// to resume replication past the snapshot after a restart.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	cfgBytes := raft.EncodeConfiguration(s.configuration)

	err := func() error {
		enc := json.NewEncoder(sink)
		return enc.Encode(wireSnapshot{Index: s.index, Term: s.term, Configuration: cfgBytes, Data: s.data})
	}()
	if err != nil {
		sink.Cancel()
		return err
	}

	if err := s.logs.SetCurrentSnapshot(&logstore.SnapshotMeta{
		Index:         s.index,
		Term:          s.term,
		ID:            sink.ID(),
		Configuration: cfgBytes,
	}); err != nil {
		sink.Cancel()
		return fmt.Errorf("persist snapshot metadata: %w", err)
	}

	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

package logstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketLogs   = []byte("logs")
	bucketStable = []byte("stable")
	bucketMeta   = []byte("meta")
)

var (
	keyCurrentSnapshot = []byte("current_snapshot")
)

// SnapshotMeta records the index/term covered by the most recent
// completed snapshot, so a restart knows how much of the log is
// already compacted without re-reading the snapshot file itself.
type SnapshotMeta struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
	ID    string `json:"id"`
	// Configuration is the raft.Configuration in effect as of Index,
	// encoded with raft.EncodeConfiguration. Carried alongside the
	// snapshot so membership can be recovered from it once the log
	// entries covering that configuration have been compacted away.
	Configuration []byte `json:"configuration,omitempty"`
}

// Store implements raft.LogStore and raft.StableStore over a single
// bbolt database file. Log entries are keyed by big-endian uint64
// index; range scans and FirstIndex/LastIndex depend on byte-lexical
// key order matching numeric index order, which only big-endian
// keys give on little-endian hosts.
type Store struct {
	mu sync.RWMutex
	db *bolt.DB
}

// New opens (creating if absent) the log database under dataDir.
func New(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "raft-log.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLogs, bucketStable, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return b
}

// --- raft.LogStore ---

func (s *Store) FirstIndex() (uint64, error) {
	var index uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		k, _ := c.First()
		if k == nil {
			return nil
		}
		index = binary.BigEndian.Uint64(k)
		return nil
	})
	return index, err
}

func (s *Store) LastIndex() (uint64, error) {
	var index uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		index = binary.BigEndian.Uint64(k)
		return nil
	})
	return index, err
}

func (s *Store) GetLog(index uint64, log *raft.Log) error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLogs).Get(indexKey(index))
		if v == nil {
			return raft.ErrLogNotFound
		}
		return decodeLog(v, log)
	})
}

func (s *Store) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *Store) StoreLogs(logs []*raft.Log) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		for _, log := range logs {
			data, err := encodeLog(log)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(log.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Range returns the log entries with index in [lo, hi), in index
// order. An inverted range (lo >= hi) returns an empty slice. A
// missing index inside the bounds simply isn't returned; a present
// entry that fails to decode fails the whole call, since an
// undecodable entry means on-disk corruption.
func (s *Store) Range(lo, hi uint64) ([]*raft.Log, error) {
	var out []*raft.Log
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.Seek(indexKey(lo)); k != nil; k, v = c.Next() {
			index := binary.BigEndian.Uint64(k)
			if index >= hi {
				break
			}
			log := new(raft.Log)
			if err := decodeLog(v, log); err != nil {
				return fmt.Errorf("decode log entry at index %d: %w", index, err)
			}
			out = append(out, log)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteRange(min, max uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		c := b.Cursor()
		for k, _ := c.Seek(indexKey(min)); k != nil; k, _ = c.Next() {
			index := binary.BigEndian.Uint64(k)
			if index > max {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

type wireLog struct {
	Index      uint64       `json:"index"`
	Term       uint64       `json:"term"`
	Type       raft.LogType `json:"type"`
	Data       []byte       `json:"data"`
	Extensions []byte       `json:"extensions"`
	AppendedAt int64        `json:"appended_at"`
}

func encodeLog(log *raft.Log) ([]byte, error) {
	return json.Marshal(wireLog{
		Index:      log.Index,
		Term:       log.Term,
		Type:       log.Type,
		Data:       log.Data,
		Extensions: log.Extensions,
		AppendedAt: log.AppendedAt.UnixNano(),
	})
}

func decodeLog(data []byte, log *raft.Log) error {
	var w wireLog
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	log.Index = w.Index
	log.Term = w.Term
	log.Type = w.Type
	log.Data = w.Data
	log.Extensions = w.Extensions
	return nil
}

// --- raft.StableStore ---

func (s *Store) Set(key []byte, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStable).Put(key, val)
	})
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStable).Get(key)
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, err
}

func (s *Store) SetUint64(key []byte, val uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, val)
	return s.Set(key, b)
}

func (s *Store) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// --- snapshot metadata ---

// SetCurrentSnapshot persists the metadata of the most recently
// completed snapshot. It returns only after the write commits, so a
// caller can treat success as "compaction is durable".
func (s *Store) SetCurrentSnapshot(meta *SnapshotMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyCurrentSnapshot, data)
	})
}

func (s *Store) CurrentSnapshot() (*SnapshotMeta, error) {
	var meta *SnapshotMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyCurrentSnapshot)
		if v == nil {
			return nil
		}
		meta = &SnapshotMeta{}
		return json.Unmarshal(v, meta)
	})
	return meta, err
}

// ScanReverse walks the log backwards from upTo (or the tail, if upTo
// is 0), calling visit for each entry until it returns stop=true or
// the log is exhausted. A corrupt or undecodable entry fails the scan
// outright rather than silently ending it — an entry that cannot be
// decoded means on-disk corruption, and treating it as end-of-log
// would let a caller fall back to defaults as if nothing had ever
// been logged.
func (s *Store) ScanReverse(upTo uint64, visit func(log *raft.Log) (stop bool, err error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		var k, v []byte
		if upTo == 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(indexKey(upTo))
			if k == nil {
				k, v = c.Last()
			} else if binary.BigEndian.Uint64(k) > upTo {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			var log raft.Log
			if err := decodeLog(v, &log); err != nil {
				return fmt.Errorf("decode log entry at index %d: %w", binary.BigEndian.Uint64(k), err)
			}
			stop, err := visit(&log)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}

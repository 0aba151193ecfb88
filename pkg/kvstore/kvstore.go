package kvstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketKV   = []byte("kv")
	bucketMeta = []byte("meta")
)

var keyAppliedIndex = []byte("last_applied_index")

// Store is a bbolt-backed embedded key/value engine. Every mutating
// call also advances the last-applied-index record in the same
// transaction, so a crash between "data written" and "index advanced"
// cannot happen. Tracking the two in separate stores would let a
// crash between the writes leave the index ahead of, or behind, what
// was actually applied, causing skipped or doubled entries on replay.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the kv database under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "raft-kv.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketKV, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
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

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var val []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v != nil {
			found = true
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, found, err
}

// ApplyPut stores key=value and records appliedIndex atomically.
func (s *Store) ApplyPut(key string, value []byte, appliedIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketKV).Put([]byte(key), value); err != nil {
			return err
		}
		return putAppliedIndex(tx, appliedIndex)
	})
}

// ApplyDelete removes key and records appliedIndex atomically.
func (s *Store) ApplyDelete(key string, appliedIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketKV).Delete([]byte(key)); err != nil {
			return err
		}
		return putAppliedIndex(tx, appliedIndex)
	})
}

// ApplyNoop records appliedIndex without mutating the kv bucket, used
// for no-op log entries raft itself appends (e.g. on leader election).
func (s *Store) ApplyNoop(appliedIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAppliedIndex(tx, appliedIndex)
	})
}

func putAppliedIndex(tx *bolt.Tx, index uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, index)
	return tx.Bucket(bucketMeta).Put(keyAppliedIndex, b)
}

// LastAppliedIndex returns the most recently recorded applied index,
// or 0 if none has been applied yet.
func (s *Store) LastAppliedIndex() (uint64, error) {
	var index uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyAppliedIndex)
		if v != nil {
			index = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return index, err
}

// Snapshot returns a full copy of the kv bucket for Raft snapshotting.
func (s *Store) Snapshot() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

// Restore replaces the kv bucket's contents with data and records
// appliedIndex, atomically.
func (s *Store) Restore(data map[string][]byte, appliedIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketKV); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketKV)
		if err != nil {
			return err
		}
		for k, v := range data {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return putAppliedIndex(tx, appliedIndex)
	})
}

package logstore

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLogsAndGetLog(t *testing.T) {
	s := openTestStore(t)

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
		{Index: 3, Term: 2, Type: raft.LogCommand, Data: []byte("c")},
	}
	require.NoError(t, s.StoreLogs(logs))

	var got raft.Log
	require.NoError(t, s.GetLog(2, &got))
	require.Equal(t, uint64(2), got.Index)
	require.Equal(t, uint64(1), got.Term)
	require.Equal(t, []byte("b"), got.Data)
}

func TestGetLogMissingReturnsErrLogNotFound(t *testing.T) {
	s := openTestStore(t)

	var got raft.Log
	err := s.GetLog(42, &got)
	require.ErrorIs(t, err, raft.ErrLogNotFound)
}

// TestIndexOrderingIsNumericNotByteLexical exercises the fix for the
// native-endian key bug: indexes spanning a byte-length boundary must
// still sort and range-scan numerically.
func TestIndexOrderingIsNumericNotByteLexical(t *testing.T) {
	s := openTestStore(t)

	indexes := []uint64{1, 2, 255, 256, 257, 1 << 32}
	for _, idx := range indexes {
		require.NoError(t, s.StoreLog(&raft.Log{Index: idx, Term: 1, Data: []byte("x")}))
	}

	first, err := s.FirstIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<32), last)
}

func TestRangeReturnsOrderedHalfOpenWindow(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}

	entries, err := s.Range(3, 7)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		require.Equal(t, uint64(3+i), e.Index)
	}
}

func TestRangeWithInvertedBoundsReturnsEmpty(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}

	entries, err := s.Range(4, 2)
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = s.Range(3, 3)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRangeSkipsCompactedPrefix(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}
	require.NoError(t, s.DeleteRange(1, 5))

	entries, err := s.Range(1, 8)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(6), entries[0].Index)
	require.Equal(t, uint64(7), entries[1].Index)
}

func TestDeleteRange(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}

	require.NoError(t, s.DeleteRange(1, 5))

	first, err := s.FirstIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(6), first)

	var got raft.Log
	require.ErrorIs(t, s.GetLog(3, &got), raft.ErrLogNotFound)
	require.NoError(t, s.GetLog(6, &got))
}

func TestStableStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set([]byte("k"), []byte("v")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, s.SetUint64([]byte("n"), 42))
	n, err := s.GetUint64([]byte("n"))
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)
}

func TestGetMissingKeyReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)

	v, err := s.Get([]byte("absent"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestCurrentSnapshotPersists(t *testing.T) {
	s := openTestStore(t)

	none, err := s.CurrentSnapshot()
	require.NoError(t, err)
	require.Nil(t, none)

	meta := &SnapshotMeta{Index: 10, Term: 2, ID: "snap-1"}
	require.NoError(t, s.SetCurrentSnapshot(meta))

	got, err := s.CurrentSnapshot()
	require.NoError(t, err)
	require.Equal(t, meta, got)
}

func TestScanReverseVisitsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}

	var seen []uint64
	err := s.ScanReverse(0, func(log *raft.Log) (bool, error) {
		seen = append(seen, log.Index)
		return len(seen) == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 4, 3}, seen)
}

func TestScanReverseUpToBound(t *testing.T) {
	s := openTestStore(t)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte("x")}))
	}

	var seen []uint64
	err := s.ScanReverse(3, func(log *raft.Log) (bool, error) {
		seen = append(seen, log.Index)
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 2, 1}, seen)
}

package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyPutAndGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ApplyPut("foo", []byte("bar"), 1))

	val, found, err := s.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bar"), val)

	index, err := s.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
}

func TestApplyDeleteRemovesKeyAndAdvancesIndex(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ApplyPut("foo", []byte("bar"), 1))
	require.NoError(t, s.ApplyDelete("foo", 2))

	_, found, err := s.Get("foo")
	require.NoError(t, err)
	require.False(t, found)

	index, err := s.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
}

func TestApplyNoopAdvancesIndexOnly(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ApplyPut("foo", []byte("bar"), 1))
	require.NoError(t, s.ApplyNoop(2))

	val, found, err := s.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bar"), val)

	index, err := s.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)

	val, found, err := s.Get("nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, val)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ApplyPut("a", []byte("1"), 1))
	require.NoError(t, s.ApplyPut("b", []byte("2"), 2))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, snap)

	s2 := openTestStore(t)
	require.NoError(t, s2.Restore(snap, 2))

	val, found, err := s2.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	index, err := s2.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
}

func TestRestoreReplacesExistingContents(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ApplyPut("stale", []byte("x"), 1))
	require.NoError(t, s.Restore(map[string][]byte{"fresh": []byte("y")}, 5))

	_, found, err := s.Get("stale")
	require.NoError(t, err)
	require.False(t, found, "restore should wipe prior contents")

	val, found, err := s.Get("fresh")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("y"), val)
}

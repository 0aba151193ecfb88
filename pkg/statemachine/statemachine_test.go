package statemachine

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStateMachine(t *testing.T) *StateMachine {
	t.Helper()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv)
}

func putCmd(t *testing.T, key string, value []byte) types.Command {
	t.Helper()
	data, err := json.Marshal(types.PutCommand{Key: key, Value: value})
	require.NoError(t, err)
	return types.Command{Op: types.OpPut, Data: data}
}

func deleteCmd(t *testing.T, key string) types.Command {
	t.Helper()
	data, err := json.Marshal(types.DeleteCommand{Key: key})
	require.NoError(t, err)
	return types.Command{Op: types.OpDelete, Data: data}
}

func TestApplyPutStoresValueAndAdvancesIndex(t *testing.T) {
	sm := newTestStateMachine(t)

	result := sm.Apply(1, putCmd(t, "foo", []byte("bar")))
	require.NoError(t, result.Err)
	require.True(t, result.Found)
	require.Equal(t, []byte("bar"), result.Value)

	val, found, err := sm.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bar"), val)

	index, err := sm.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
}

func TestApplyDeleteReportsPriorExistence(t *testing.T) {
	sm := newTestStateMachine(t)

	sm.Apply(1, putCmd(t, "foo", []byte("bar")))

	result := sm.Apply(2, deleteCmd(t, "foo"))
	require.NoError(t, result.Err)
	require.True(t, result.Found)

	_, found, err := sm.Get("foo")
	require.NoError(t, err)
	require.False(t, found)
}

func TestApplyDeleteMissingKeyReportsNotFound(t *testing.T) {
	sm := newTestStateMachine(t)

	result := sm.Apply(1, deleteCmd(t, "nope"))
	require.NoError(t, result.Err)
	require.False(t, result.Found)
}

func TestApplyUnknownOpReturnsErrorWithoutAdvancingIndex(t *testing.T) {
	sm := newTestStateMachine(t)

	sm.Apply(1, putCmd(t, "foo", []byte("bar")))

	result := sm.Apply(2, types.Command{Op: types.Op("bogus")})
	require.Error(t, result.Err)

	index, err := sm.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), index, "a rejected command must not advance the applied index")
}

func TestApplyMalformedPutPayloadReturnsError(t *testing.T) {
	sm := newTestStateMachine(t)

	result := sm.Apply(1, types.Command{Op: types.OpPut, Data: []byte("not json")})
	require.Error(t, result.Err)
}

func TestApplyNoopAdvancesIndexWithoutMutatingKeyspace(t *testing.T) {
	sm := newTestStateMachine(t)

	sm.Apply(1, putCmd(t, "foo", []byte("bar")))
	require.NoError(t, sm.ApplyNoop(2))

	val, found, err := sm.Get("foo")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("bar"), val)

	index, err := sm.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	sm := newTestStateMachine(t)

	sm.Apply(1, putCmd(t, "a", []byte("1")))
	sm.Apply(2, putCmd(t, "b", []byte("2")))

	data, index, err := sm.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(2), index)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, data)

	sm2 := newTestStateMachine(t)
	require.NoError(t, sm2.Restore(data, index))

	val, found, err := sm2.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), val)

	restoredIndex, err := sm2.LastAppliedIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), restoredIndex)
}

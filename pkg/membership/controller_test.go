package membership

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/raftkv/pkg/transport"
)

// fakeRaftDirectory is an in-memory RaftDirectory for exercising
// reconcile/removeDeparted without a real hashicorp/raft instance.
// promoted records ids that moved from nonvoters to voters via
// AddVoter, distinguishing genuine promotions from a brand-new id
// being added straight as a voter (which a correct reconcile never
// does).
type fakeRaftDirectory struct {
	leader    bool
	voters    []string
	nonvoters []string
	added     []string
	promoted  []string
	removed   []string
}

func (f *fakeRaftDirectory) IsLeader() bool { return f.leader }

func (f *fakeRaftDirectory) AddNonvoter(nodeID, address string) error {
	f.added = append(f.added, nodeID)
	f.nonvoters = append(f.nonvoters, nodeID)
	return nil
}

func (f *fakeRaftDirectory) AddVoter(nodeID, address string) error {
	for i, id := range f.nonvoters {
		if id == nodeID {
			f.nonvoters = append(f.nonvoters[:i], f.nonvoters[i+1:]...)
			f.promoted = append(f.promoted, nodeID)
			break
		}
	}
	f.voters = append(f.voters, nodeID)
	return nil
}

func (f *fakeRaftDirectory) RemoveServer(nodeID string) error {
	f.removed = append(f.removed, nodeID)
	for i, id := range f.voters {
		if id == nodeID {
			f.voters = append(f.voters[:i], f.voters[i+1:]...)
			break
		}
	}
	for i, id := range f.nonvoters {
		if id == nodeID {
			f.nonvoters = append(f.nonvoters[:i], f.nonvoters[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRaftDirectory) VoterIDs() ([]string, error) {
	return f.voters, nil
}

func (f *fakeRaftDirectory) NonvoterIDs() ([]string, error) {
	return f.nonvoters, nil
}

func newTestController(selfID string, rt *transport.RoutingTable, raft RaftDirectory) *Controller {
	return New(Config{
		SelfID:  selfID,
		Routing: rt,
		Raft:    raft,
		Log:     zerolog.Nop(),
	})
}

func TestReconcileAdmitsNewNodesAsNonvotersFirst(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1"}}
	c := newTestController("node-1", rt, raft)

	c.reconcile(map[string]string{
		"node-1": "127.0.0.1:8080",
		"node-2": "127.0.0.1:8081",
	})

	require.Equal(t, []string{"node-2"}, raft.added)
	require.Equal(t, []string{"node-2"}, raft.nonvoters)
	require.Equal(t, []string{"node-1"}, raft.voters)
	require.Empty(t, raft.promoted)
}

func TestReconcilePromotesNonvoterOnSubsequentPass(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1"}}
	c := newTestController("node-1", rt, raft)

	next := map[string]string{
		"node-1": "127.0.0.1:8080",
		"node-2": "127.0.0.1:8081",
	}

	c.reconcile(next)
	require.ElementsMatch(t, []string{"node-1"}, raft.voters)
	require.ElementsMatch(t, []string{"node-2"}, raft.nonvoters)

	c.reconcile(next)
	require.ElementsMatch(t, []string{"node-1", "node-2"}, raft.voters)
	require.Empty(t, raft.nonvoters)
	require.Equal(t, []string{"node-2"}, raft.promoted)
}

func TestReconcileDoesNotPromoteNonvoterThatDeparted(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1"}}
	c := newTestController("node-1", rt, raft)

	c.reconcile(map[string]string{
		"node-1": "127.0.0.1:8080",
		"node-2": "127.0.0.1:8081",
	})
	require.Equal(t, []string{"node-2"}, raft.nonvoters)

	// node-2 vanishes before ever catching up.
	c.reconcile(map[string]string{"node-1": "127.0.0.1:8080"})

	require.Empty(t, raft.promoted)
	require.Empty(t, raft.nonvoters)
	require.Equal(t, []string{"node-2"}, raft.removed)
}

func TestReconcileSkipsVoterChangesWhenNotLeader(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	raft := &fakeRaftDirectory{leader: false, voters: []string{"node-1"}}
	c := newTestController("node-1", rt, raft)

	c.reconcile(map[string]string{
		"node-1": "127.0.0.1:8080",
		"node-2": "127.0.0.1:8081",
	})

	require.Empty(t, raft.added)
	// The routing table itself is still updated regardless of leadership.
	_, ok := rt.Lookup("node-2")
	require.True(t, ok)
}

func TestRemoveDepartedDropsVoterBelowQuorumFloorIsSkipped(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	// 3 voters: removing both departed ones would leave 1, and the
	// second removal fails the floor (1 >= 2/2+1=2 is false) -- blocked.
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1", "node-2", "node-3"}}
	c := newTestController("node-1", rt, raft)
	rt.Update(map[string]string{"node-2": "a2", "node-3": "a3"})

	// node-2 and node-3 both vanish from the directory in the same round.
	c.removeDeparted(map[string]string{"node-1": "127.0.0.1:8080"})

	// Removing node-2 leaves {node-1,node-3}: remaining=2, total/2+1=2 -> allowed.
	// Removing node-3 next would leave {node-1}: remaining=1, 2/2+1=2 -> blocked.
	require.Equal(t, []string{"node-2"}, raft.removed)
	require.ElementsMatch(t, []string{"node-1", "node-3"}, raft.voters)
}

func TestRemoveDepartedNeverTouchesSelf(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1"}}
	c := newTestController("node-1", rt, raft)

	c.removeDeparted(map[string]string{})

	require.Empty(t, raft.removed)
}

func TestRemoveDepartedAllowsRemovalAboveQuorumFloor(t *testing.T) {
	rt := transport.NewRoutingTable("node-1", "127.0.0.1:8080")
	// 5 voters, one departs: remaining=4, total/2+1=3 -> allowed.
	raft := &fakeRaftDirectory{leader: true, voters: []string{"node-1", "node-2", "node-3", "node-4", "node-5"}}
	c := newTestController("node-1", rt, raft)

	c.removeDeparted(map[string]string{
		"node-1": "a1", "node-3": "a3", "node-4": "a4", "node-5": "a5",
	})

	require.Equal(t, []string{"node-2"}, raft.removed)
}

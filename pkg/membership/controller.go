// Package membership discovers cluster peers through ZooKeeper and
// reconciles the discovered set against both the Raft voter
// configuration and the transport routing table.
//
// Each node keeps a persistent znode under /raft/<cluster-id> whose
// payload is a JSON-encoded types.DirectoryEntry (node id, transport
// address, registration epoch) rather than the bare address string.
// The controller runs a ChildrenW
// watch loop over that directory and, when this node is the current
// leader, reconciles: new ids are admitted as non-voters, ids that
// survived a full pass are promoted to voters, and departed voters
// are removed only while the remaining set still holds quorum.
package membership

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"

	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

// RaftDirectory is the slice of node orchestration that the
// membership controller drives: adding/removing voters and non-voters
// and reading the current configuration to compute quorum. Implemented
// by pkg/node.Node.
type RaftDirectory interface {
	IsLeader() bool
	AddNonvoter(nodeID, address string) error
	AddVoter(nodeID, address string) error
	RemoveServer(nodeID string) error
	VoterIDs() ([]string, error)
	NonvoterIDs() ([]string, error)
}

const (
	basePath          = "/raft"
	sessionTimeout    = 5 * time.Second
	reconnectInterval = 2 * time.Second
)

// Controller watches a ZooKeeper-backed membership directory for a
// single cluster and reconciles what it sees against Raft.
type Controller struct {
	log zerolog.Logger

	zkServers []string
	clusterID string
	selfID    string
	selfAddr  string

	rt   *transport.RoutingTable
	raft RaftDirectory

	stopCh chan struct{}
}

// Config collects the values New needs to build a Controller.
type Config struct {
	ZKServers []string
	ClusterID string
	SelfID    string
	SelfAddr  string
	Routing   *transport.RoutingTable
	Raft      RaftDirectory
	Log       zerolog.Logger
}

// New builds a membership controller. Run must be called to start the
// registration and watch loop.
func New(cfg Config) *Controller {
	return &Controller{
		log:       cfg.Log,
		zkServers: cfg.ZKServers,
		clusterID: cfg.ClusterID,
		selfID:    cfg.SelfID,
		selfAddr:  cfg.SelfAddr,
		rt:        cfg.Routing,
		raft:      cfg.Raft,
		stopCh:    make(chan struct{}),
	}
}

// Stop ends the watch loop. Run returns at once if it is waiting on a
// watch, and otherwise at its next check before re-arming the watch.
func (c *Controller) Stop() {
	close(c.stopCh)
}

// clusterPath is /raft/<cluster-id>, the parent znode whose children
// are the registered node ids.
func (c *Controller) clusterPath() string {
	return fmt.Sprintf("%s/%s", basePath, c.clusterID)
}

func (c *Controller) nodePath() string {
	return fmt.Sprintf("%s/%s", c.clusterPath(), c.selfID)
}

// Run connects to ZooKeeper, registers this node under the cluster's
// path, then loops on ChildrenW watches, reconciling the routing table
// and (when leader) the Raft voter set on every change. It blocks
// until Stop is called or the ZooKeeper connection is lost hard enough
// that reconnecting is given up on by the caller (Run returns an error
// in that case, and the caller is expected to retry Run itself).
func (c *Controller) Run() error {
	conn, events, err := zk.Connect(c.zkServers, sessionTimeout)
	if err != nil {
		return fmt.Errorf("membership: connect to zookeeper: %w", err)
	}
	defer conn.Close()

	go func() {
		for ev := range events {
			c.log.Debug().Str("state", ev.State.String()).Msg("zookeeper session event")
		}
	}()

	if err := c.register(conn); err != nil {
		return err
	}

	for {
		select {
		case <-c.stopCh:
			return nil
		default:
		}

		children, _, watch, err := conn.ChildrenW(c.clusterPath())
		if err != nil {
			return fmt.Errorf("membership: watch %s: %w", c.clusterPath(), err)
		}

		next := make(map[string]string, len(children))
		for _, child := range children {
			data, _, err := conn.Get(c.clusterPath() + "/" + child)
			if err != nil {
				c.log.Warn().Err(err).Str("node", child).Msg("read membership entry failed")
				continue
			}
			var entry types.DirectoryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				c.log.Warn().Err(err).Str("node", child).Msg("malformed membership entry")
				continue
			}
			next[child] = string(entry.Addr)
		}

		c.reconcile(next)

		select {
		case <-c.stopCh:
			return nil
		case ev := <-watch:
			c.log.Debug().Str("type", ev.Type.String()).Msg("membership directory changed")
		case <-time.After(reconnectInterval):
			// Re-reconcile the same snapshot even without a fresh
			// ZooKeeper event, so a node admitted as a non-voter last
			// pass gets promoted once it has caught up rather than
			// waiting indefinitely for unrelated directory churn.
		}
	}
}

// register creates the znode tree for this node, creating missing
// ancestors first and tolerating a node that is already registered
// (NodeExists — a rejoin after restart, not an error).
func (c *Controller) register(conn *zk.Conn) error {
	for _, path := range []string{basePath, c.clusterPath()} {
		_, err := conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("membership: create %s: %w", path, err)
		}
	}

	payload, err := json.Marshal(types.DirectoryEntry{
		NodeID: types.NodeID(c.selfID),
		Addr:   types.ServerAddress(c.selfAddr),
		Epoch:  time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("membership: encode directory entry: %w", err)
	}

	_, err = conn.Create(c.nodePath(), payload, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("membership: create %s: %w", c.nodePath(), err)
	}
	return nil
}

// reconcile applies a freshly observed directory snapshot: update the
// routing table (additive), then, if this node is leader, admit any
// newly discovered ids as non-voters, promote non-voters admitted on a
// prior pass to full voters once they're still present, and remove
// anything that has disappeared.
//
// New ids are never promoted straight to voter within the same pass
// that discovers them: a brand-new non-voter has not replicated the
// log yet, and counting it toward quorum immediately is the exact
// risk the two-phase admission exists to avoid. It becomes eligible
// for promotion on the following reconcile, whether that is driven by
// the next directory change or by the reconnectInterval fallback tick
// in Run.
func (c *Controller) reconcile(next map[string]string) {
	added := c.rt.Update(next)
	for _, id := range added {
		c.log.Info().Str("node", id).Msg("discovered new membership entry")
	}

	if !c.raft.IsLeader() {
		return
	}

	c.admitNonvoters(added)
	c.promoteCaughtUpNonvoters(next, added)
	c.removeDepartedNonvoters(next)
	c.removeDeparted(next)
}

// admitNonvoters adds each newly discovered id to the Raft
// configuration as a non-voter, letting it catch up on the log before
// it can count toward quorum.
func (c *Controller) admitNonvoters(added []string) {
	for _, id := range added {
		addr, ok := c.rt.Lookup(id)
		if !ok {
			continue
		}
		if err := c.raft.AddNonvoter(id, addr); err != nil {
			c.log.Error().Err(err).Str("node", id).Msg("add non-voter failed")
			metrics.MembershipReconcileTotal.WithLabelValues("add_nonvoter", "error").Inc()
			continue
		}
		c.log.Info().Str("node", id).Msg("admitted as non-voter, catching up")
		metrics.MembershipReconcileTotal.WithLabelValues("add_nonvoter", "ok").Inc()
	}
}

// promoteCaughtUpNonvoters promotes every non-voter already in the
// Raft configuration to a full voter, provided it is still present in
// the directory and wasn't itself admitted this pass.
func (c *Controller) promoteCaughtUpNonvoters(next map[string]string, justAdded []string) {
	skip := make(map[string]bool, len(justAdded))
	for _, id := range justAdded {
		skip[id] = true
	}

	nonvoters, err := c.raft.NonvoterIDs()
	if err != nil {
		c.log.Error().Err(err).Msg("read non-voter configuration failed")
		return
	}

	for _, id := range nonvoters {
		if id == c.selfID || skip[id] {
			continue
		}
		addr, present := next[id]
		if !present {
			continue
		}
		if err := c.raft.AddVoter(id, addr); err != nil {
			c.log.Error().Err(err).Str("node", id).Msg("promote to voter failed")
			metrics.MembershipReconcileTotal.WithLabelValues("promote_voter", "error").Inc()
			continue
		}
		c.log.Info().Str("node", id).Msg("promoted to voter")
		metrics.MembershipReconcileTotal.WithLabelValues("promote_voter", "ok").Inc()
	}
}

// removeDepartedNonvoters drops non-voters that are no longer present
// in the directory. Unlike voter removal, this carries no quorum risk,
// since a non-voter never counts toward quorum.
func (c *Controller) removeDepartedNonvoters(next map[string]string) {
	nonvoters, err := c.raft.NonvoterIDs()
	if err != nil {
		c.log.Error().Err(err).Msg("read non-voter configuration failed")
		return
	}

	for _, id := range nonvoters {
		if id == c.selfID {
			continue
		}
		if _, present := next[id]; present {
			continue
		}
		if err := c.raft.RemoveServer(id); err != nil {
			c.log.Error().Err(err).Str("node", id).Msg("remove non-voter failed")
			metrics.MembershipReconcileTotal.WithLabelValues("remove_nonvoter", "error").Inc()
			continue
		}
		c.rt.Remove(id)
		c.log.Info().Str("node", id).Msg("removed departed non-voter")
		metrics.MembershipReconcileTotal.WithLabelValues("remove_nonvoter", "ok").Inc()
	}
}

// removeDeparted drops voters that are no longer present in the
// directory, but only while doing so leaves at least a majority of
// the remaining voters standing. Without removal, a stale voter
// stays in the configuration forever once its znode disappears
// (e.g. on ZooKeeper session expiry after a crash), eventually
// costing the cluster its quorum.
func (c *Controller) removeDeparted(next map[string]string) {
	voters, err := c.raft.VoterIDs()
	if err != nil {
		c.log.Error().Err(err).Msg("read voter configuration failed")
		return
	}

	total := len(voters)
	for _, id := range voters {
		if id == c.selfID {
			continue
		}
		if _, present := next[id]; present {
			continue
		}

		remaining := total - 1
		if remaining < total/2+1 {
			c.log.Warn().Str("node", id).Msg("skipping removal: would break quorum")
			metrics.MembershipReconcileTotal.WithLabelValues("remove_voter", "blocked_quorum").Inc()
			continue
		}

		if err := c.raft.RemoveServer(id); err != nil {
			c.log.Error().Err(err).Str("node", id).Msg("remove server failed")
			metrics.MembershipReconcileTotal.WithLabelValues("remove_voter", "error").Inc()
			continue
		}
		c.rt.Remove(id)
		total--
		c.log.Info().Str("node", id).Msg("removed departed voter")
		metrics.MembershipReconcileTotal.WithLabelValues("remove_voter", "ok").Inc()
	}
}

package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"google.golang.org/grpc"

	"github.com/cuemby/raftkv/pkg/events"
	"github.com/cuemby/raftkv/pkg/log"
	"github.com/cuemby/raftkv/pkg/membership"
	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/storage"
	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

// Node owns everything a single replica needs: the Raft instance and
// the storage facade backing it, the gRPC transport it and the
// client front door share, the membership controller that keeps the
// routing table and voter set in sync with ZooKeeper, and the
// ambient event/metrics plumbing. It implements the three small
// interfaces the other packages consume (metrics.StatsSource,
// transport.ControlPlaneHandler, membership.RaftDirectory) so none
// of them needs to import this package back.
type Node struct {
	id        string
	bindAddr  string
	dataDir   string
	clusterID string

	facade    *storage.Facade
	raft      *raft.Raft
	transport *transport.Transport
	rt        *transport.RoutingTable

	tokens     *membership.TokenManager
	membership *membership.Controller

	broker         *events.Broker
	collector      *metrics.Collector
	interceptor    grpc.UnaryServerInterceptor
	compactionStop chan struct{}
}

// Config holds the values needed to construct a Node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	ClusterID string
	ZKServers []string
}

// New opens local storage and wires up the ambient plumbing, but does
// not start Raft or membership — call Bootstrap (first node) or
// JoinCluster (every other node) next.
func New(cfg Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	facade, err := storage.New(storage.Config{DataDir: cfg.DataDir, SelfID: cfg.NodeID, SelfAddr: cfg.BindAddr})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	n := &Node{
		id:        cfg.NodeID,
		bindAddr:  cfg.BindAddr,
		dataDir:   cfg.DataDir,
		clusterID: cfg.ClusterID,
		facade:    facade,
		rt:        transport.NewRoutingTable(cfg.NodeID, cfg.BindAddr),
		tokens:    membership.NewTokenManager(),
		broker:    broker,
	}

	n.collector = metrics.NewCollector(n)
	n.collector.Start()

	return n, nil
}

// raftConfig tunes hashicorp/raft for faster failover than its
// defaults assume, which target WAN deployments. Used identically by
// Bootstrap and JoinCluster so every node in a cluster agrees on
// timing.
//
// Defaults: HeartbeatTimeout=1s, ElectionTimeout=1s, LeaderLeaseTimeout=500ms.
// Heartbeats then go out roughly every HeartbeatTimeout/2, and an
// election that starts right after a missed heartbeat completes
// within roughly one more HeartbeatTimeout — comfortably inside a
// 10s failover target with these numbers.
func raftConfig(nodeID string) *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	// Compaction is driven explicitly by the compaction loop below
	// through Facade.DoLogCompaction, not by hashicorp/raft's own
	// threshold-triggered snapshotting, so the two don't race over the
	// same log store. Setting these absurdly high rather than zero
	// keeps raft's internal scheduler from ever being the one to fire.
	cfg.SnapshotThreshold = 1 << 32
	cfg.SnapshotInterval = 24 * time.Hour
	return cfg
}

const (
	compactionCheckInterval = 30 * time.Second
	compactionLogThreshold  = 1024
)

// startCompactionLoop polls, while this node is leader, for enough
// applied-but-uncompacted log growth to be worth a compaction pass,
// and calls Facade.DoLogCompaction when it is.
func (n *Node) startCompactionLoop() {
	n.compactionStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(compactionCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.maybeCompact()
			case <-n.compactionStop:
				return
			}
		}
	}()
}

func (n *Node) maybeCompact() {
	if !n.IsLeader() {
		return
	}

	nodeLog := log.WithComponent("node")

	applied := n.raft.AppliedIndex()
	meta, err := n.facade.GetCurrentSnapshot()
	if err != nil {
		nodeLog.Error().Err(err).Msg("read current snapshot failed")
		return
	}

	var last uint64
	if meta != nil {
		last = meta.Index
	}
	if applied <= last || applied-last < compactionLogThreshold {
		return
	}

	result, err := n.facade.DoLogCompaction()
	if err != nil {
		nodeLog.Error().Err(err).Msg("log compaction failed")
		return
	}

	nodeLog.Info().Uint64("index", result.Index).Msg("compacted log")
	n.broker.Publish(&events.Event{
		Type:     events.EventSnapshotCompacted,
		Message:  fmt.Sprintf("compacted log through index %d", result.Index),
		Metadata: map[string]string{"index": fmt.Sprintf("%d", result.Index)},
	})
}

func (n *Node) startTransport() error {
	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}

	lis, err := net.Listen("tcp", n.bindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.bindAddr, err)
	}

	n.transport = transport.New(addr, lis, n, hclog.NewNullLogger(), n.interceptor)
	return nil
}

// SetInterceptor installs the unary server interceptor applied to the
// control-plane gRPC service, e.g. pkg/api's metrics instrumentation.
// Must be called before Bootstrap or JoinCluster.
func (n *Node) SetInterceptor(i grpc.UnaryServerInterceptor) {
	n.interceptor = i
}

// Bootstrap starts a brand new single-node cluster with this node as
// its only, founding voter.
func (n *Node) Bootstrap() error {
	if err := n.startTransport(); err != nil {
		return err
	}

	cfg := raftConfig(n.id)
	r, err := raft.NewRaft(cfg, n.facade, n.facade.Store, n.facade.Store, n.facade.SnapshotStore(), n.transport.Raft)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: cfg.LocalID, Address: n.transport.Raft.LocalAddr()},
		},
	}
	if err := n.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	n.startCompactionLoop()

	bootstrapLog := log.WithComponent("node")
	bootstrapLog.Info().Str("node_id", n.id).Msg("bootstrapped cluster")
	return nil
}

// JoinCluster starts this node's local Raft instance with an empty
// configuration, then asks leaderAddr's control plane to add it as a
// voter, presenting token if the cluster requires one.
func (n *Node) JoinCluster(ctx context.Context, leaderAddr, token string) error {
	if err := n.startTransport(); err != nil {
		return err
	}

	cfg := raftConfig(n.id)
	r, err := raft.NewRaft(cfg, n.facade, n.facade.Store, n.facade.Store, n.facade.SnapshotStore(), n.transport.Raft)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	n.raft = r

	cp, err := transport.DialControlPlane(leaderAddr)
	if err != nil {
		return fmt.Errorf("dial leader %s: %w", leaderAddr, err)
	}
	defer cp.Close()

	if err := cp.Join(ctx, n.id, n.bindAddr, token); err != nil {
		return fmt.Errorf("join via %s: %w", leaderAddr, err)
	}

	n.startCompactionLoop()

	joinLog := log.WithComponent("node")
	joinLog.Info().Str("node_id", n.id).Str("leader", leaderAddr).Msg("joined cluster")
	return nil
}

// StartMembership launches the ZooKeeper-backed membership controller
// in the background. It keeps retrying Run on failure rather than
// giving up, since a transient ZooKeeper outage shouldn't take a node
// out of future reconciliation; a clean return means Stop was called
// and ends the retry loop.
func (n *Node) StartMembership(zkServers []string) {
	n.membership = membership.New(membership.Config{
		ZKServers: zkServers,
		ClusterID: n.clusterID,
		SelfID:    n.id,
		SelfAddr:  n.bindAddr,
		Routing:   n.rt,
		Raft:      n,
		Log:       log.WithComponent("membership"),
	})

	go func() {
		for {
			err := n.membership.Run()
			if err == nil {
				return
			}
			membershipLog := log.WithComponent("membership")
			membershipLog.Error().Err(err).Msg("membership controller stopped, retrying")
			time.Sleep(2 * time.Second)
		}
	}()
}

// --- membership.RaftDirectory ---

// AddVoter adds nodeID at address as a voting member. Only the
// current leader can do this; hashicorp/raft rejects it otherwise.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", nodeID, err)
	}
	n.broker.Publish(&events.Event{
		Type:      events.EventNodeJoined,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("node %s joined at %s", nodeID, address),
		Metadata:  map[string]string{"node_id": nodeID, "address": address},
	})
	return nil
}

// AddNonvoter admits nodeID at address as a non-voting member. A
// non-voter receives log replication but does not count toward
// quorum, letting it catch up on the log before reconcile promotes it
// to a full voter.
func (n *Node) AddNonvoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := n.raft.AddNonvoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add nonvoter %s: %w", nodeID, err)
	}
	n.broker.Publish(&events.Event{
		Type:      events.EventMembershipChanged,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("node %s admitted as non-voter at %s", nodeID, address),
		Metadata:  map[string]string{"node_id": nodeID, "address": address, "suffrage": "nonvoter"},
	})
	return nil
}

// RemoveServer removes nodeID from the Raft configuration.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server %s: %w", nodeID, err)
	}
	n.broker.Publish(&events.Event{
		Type:      events.EventNodeLeft,
		Timestamp: time.Now(),
		Message:   fmt.Sprintf("node %s removed", nodeID),
		Metadata:  map[string]string{"node_id": nodeID},
	})
	return nil
}

// VoterIDs returns the ids of every voting member in the current
// Raft configuration.
func (n *Node) VoterIDs() ([]string, error) {
	servers, err := n.GetClusterServers()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range servers {
		if s.Suffrage == raft.Voter {
			ids = append(ids, string(s.ID))
		}
	}
	return ids, nil
}

// NonvoterIDs returns the ids of every non-voting member (including
// staging servers) in the current Raft configuration.
func (n *Node) NonvoterIDs() ([]string, error) {
	servers, err := n.GetClusterServers()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range servers {
		if s.Suffrage != raft.Voter {
			ids = append(ids, string(s.ID))
		}
	}
	return ids, nil
}

// GetClusterServers returns the full Raft configuration.
func (n *Node) GetClusterServers() ([]raft.Server, error) {
	if n.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the advertised address of the current leader, or
// empty if none is known.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// RaftStats reports a snapshot of Raft's internal counters, for the
// metrics collector and the health/readiness surface.
func (n *Node) RaftStats() types.RaftStats {
	if n.raft == nil {
		return types.RaftStats{State: raft.Shutdown.String()}
	}
	stats := types.RaftStats{
		State:        n.raft.State().String(),
		Leader:       string(n.raft.Leader()),
		LastLogIndex: n.raft.LastIndex(),
		AppliedIndex: n.raft.AppliedIndex(),
	}
	if servers, err := n.GetClusterServers(); err == nil {
		stats.NumPeers = len(servers)
	}
	return stats
}

// DirectoryNodeCount reports how many nodes the routing table
// currently knows about, including this one.
func (n *Node) DirectoryNodeCount() int {
	return len(n.rt.Snapshot())
}

// GetEventBroker exposes the event broker for subscribers (e.g. the
// client-facing watch surface, if one is added later).
func (n *Node) GetEventBroker() *events.Broker {
	return n.broker
}

// --- transport.ControlPlaneHandler ---

// Join is the inbound side of JoinCluster: invoked (via gRPC) on the
// leader by a node that wants to become a voter. Once any join token
// has been minted on this node, every admission must present a valid
// one; a consumed token cannot be replayed for a second admission.
func (n *Node) Join(ctx context.Context, nodeID, addr, token string) error {
	if !n.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", n.LeaderAddr())
	}
	enforcing := n.tokens.Enforcing()
	if enforcing {
		if err := n.tokens.ValidateToken(token); err != nil {
			return fmt.Errorf("join rejected: %w", err)
		}
	}
	if err := n.AddVoter(nodeID, addr); err != nil {
		return err
	}
	if enforcing {
		n.tokens.RevokeToken(token)
	}
	return nil
}

// GenerateToken mints a join token over the control plane. Delegates
// to GenerateJoinToken, so only the leader can serve it.
func (n *Node) GenerateToken(ctx context.Context, ttl time.Duration) (string, error) {
	tok, err := n.GenerateJoinToken(ttl)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// ClusterInfo reports the current leader and full server list.
func (n *Node) ClusterInfo(ctx context.Context) (types.ClusterInfo, error) {
	servers, err := n.GetClusterServers()
	if err != nil {
		return types.ClusterInfo{}, err
	}

	leaderAddr := n.LeaderAddr()
	out := types.ClusterInfo{
		LeaderAddr: types.ServerAddress(leaderAddr),
	}
	for _, s := range servers {
		suffrage := types.SuffrageVoter
		switch s.Suffrage {
		case raft.Nonvoter:
			suffrage = types.SuffrageNonvoter
		case raft.Staging:
			suffrage = types.SuffrageStaging
		}
		out.Servers = append(out.Servers, types.Server{
			ID:       types.NodeID(s.ID),
			Address:  types.ServerAddress(s.Address),
			Suffrage: suffrage,
		})
		if string(s.Address) == leaderAddr {
			out.LeaderID = types.NodeID(s.ID)
		}
	}
	return out, nil
}

// Get reads a key directly from the local state machine. Reads are
// deliberately not linearizable; a follower may answer with a
// slightly stale value.
func (n *Node) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.facade.Get(key)
}

// Put applies a put command through Raft, returning once it is
// committed to a majority.
func (n *Node) Put(ctx context.Context, key string, value []byte) error {
	return n.apply(types.OpPut, types.PutCommand{Key: key, Value: value})
}

// Delete applies a delete command through Raft.
func (n *Node) Delete(ctx context.Context, key string) error {
	return n.apply(types.OpDelete, types.DeleteCommand{Key: key})
}

func (n *Node) apply(op types.Op, payload interface{}) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}

	cmdData, err := json.Marshal(types.Command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	timer := metrics.NewTimer()
	future := n.raft.Apply(cmdData, 5*time.Second)
	timer.ObserveDuration(metrics.RaftApplyDuration)

	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	if resp, ok := future.Response().(types.ApplyResult); ok && resp.Err != nil {
		return resp.Err
	}
	return nil
}

// GenerateJoinToken mints a token a prospective node presents to the
// leader's Join RPC (see Join) to be admitted. Only the leader issues tokens, so a single source of
// truth for validity lives alongside the cluster's authoritative
// state.
func (n *Node) GenerateJoinToken(ttl time.Duration) (*membership.JoinToken, error) {
	if !n.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return n.tokens.GenerateToken(ttl)
}

// NodeID returns this node's Raft server id.
func (n *Node) NodeID() string { return n.id }

// Shutdown stops membership, Raft, and storage in that order so
// nothing tries to use a closed resource underneath it.
func (n *Node) Shutdown() error {
	if n.compactionStop != nil {
		close(n.compactionStop)
	}
	if n.membership != nil {
		n.membership.Stop()
	}
	if n.collector != nil {
		n.collector.Stop()
	}
	if n.broker != nil {
		n.broker.Stop()
	}

	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			return fmt.Errorf("close transport: %w", err)
		}
	}
	if n.facade != nil {
		if err := n.facade.Close(); err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}
	return nil
}

package metrics

import (
	"time"

	"github.com/cuemby/raftkv/pkg/types"
)

// StatsSource is implemented by pkg/node so the collector can poll
// Raft and membership state without this package importing pkg/node
// (pkg/node already imports pkg/metrics to record ambient metrics).
type StatsSource interface {
	IsLeader() bool
	RaftStats() types.RaftStats
	DirectoryNodeCount() int
}

// Collector periodically copies a StatsSource's state into the
// Prometheus gauges defined in this package.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.RaftStats()
	RaftLogIndex.Set(float64(stats.LastLogIndex))
	RaftAppliedIndex.Set(float64(stats.AppliedIndex))
	RaftPeers.Set(float64(stats.NumPeers))

	MembershipDirectoryNodes.Set(float64(c.source.DirectoryNodeCount()))
}

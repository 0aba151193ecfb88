// Package client is the Go client used by the CLI (cmd/raftkv) to
// talk to a node's control plane. It wraps pkg/transport's
// ControlPlane service with a typed dial/call/Close surface and a
// per-call timeout. Connections are plain insecure gRPC; transit
// encryption is out of scope for this system.
package client

import (
	"context"
	"time"

	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client wraps a connection to one node's control plane.
type Client struct {
	cp *transport.ControlPlaneClient
}

// NewClient dials addr.
func NewClient(addr string) (*Client, error) {
	cp, err := transport.DialControlPlane(addr)
	if err != nil {
		return nil, err
	}
	return &Client{cp: cp}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.cp.Close()
}

// Get reads a key.
func (c *Client) Get(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.cp.Get(ctx, key)
}

// Put writes a key/value pair.
func (c *Client) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.cp.Put(ctx, key, value)
}

// Delete removes a key.
func (c *Client) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.cp.Delete(ctx, key)
}

// GenerateToken asks the node (which must be the leader) to mint a
// join token valid for ttl. Minting the first token switches the
// cluster from open admission to token-gated admission.
func (c *Client) GenerateToken(ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.cp.GenerateToken(ctx, ttl)
}

// ClusterInfo returns the current leader and server list as seen by
// the node this client is connected to.
func (c *Client) ClusterInfo() (types.ClusterInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.cp.ClusterInfo(ctx)
}

// JoinCluster asks the node at addr (expected to be the current
// leader) to add nodeID/bindAddr as a new voter, presenting token.
// The leader only checks the token once one has been minted on it
// (see pkg/membership's TokenManager); an open cluster accepts "".
func JoinCluster(addr, nodeID, bindAddr, token string) error {
	cp, err := transport.DialControlPlane(addr)
	if err != nil {
		return err
	}
	defer cp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return cp.Join(ctx, nodeID, bindAddr, token)
}

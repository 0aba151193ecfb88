package transport

import (
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"google.golang.org/grpc"
)

const (
	// maxConnPool bounds how many tunnel connections NetworkTransport
	// keeps open per peer.
	maxConnPool = 3
	// transportTimeout bounds a single AppendEntries/Vote/
	// InstallSnapshot round trip.
	transportTimeout = 10 * time.Second
)

// Transport bundles the pieces a node needs to both speak Raft's wire
// protocol to its peers and answer the control-plane RPCs (join
// forwarding, client read/write front door) on the same listening
// socket. One *grpc.Server serves both the Tunnel and ControlPlane
// services; hashicorp/raft only ever sees the StreamLayer side of it.
type Transport struct {
	Raft   *raft.NetworkTransport
	server *grpc.Server
	sl     *StreamLayer
}

// New builds the transport for a node bound to addr (its own
// advertised Raft/control-plane address) and starts serving it with
// lis. The caller owns lis's lifecycle up to this call; Close stops
// the gRPC server, which in turn closes lis.
func New(addr net.Addr, lis net.Listener, cp ControlPlaneHandler, logger hclog.Logger, interceptor grpc.UnaryServerInterceptor) *Transport {
	sl := NewStreamLayer(addr)

	nt := raft.NewNetworkTransportWithLogger(sl, maxConnPool, transportTimeout, logger)

	var opts []grpc.ServerOption
	if interceptor != nil {
		opts = append(opts, grpc.UnaryInterceptor(interceptor))
	}
	gs := grpc.NewServer(opts...)
	RegisterTunnel(gs, sl)
	RegisterControlPlane(gs, cp)

	t := &Transport{Raft: nt, server: gs, sl: sl}

	go func() {
		_ = gs.Serve(lis)
	}()

	return t
}

// Close stops accepting new RPCs and tears down the Raft transport.
func (t *Transport) Close() error {
	t.server.GracefulStop()
	return t.Raft.Close()
}

// LocalAddr returns the address this transport advertises to peers.
func (t *Transport) LocalAddr() raft.ServerAddress {
	return t.Raft.LocalAddr()
}

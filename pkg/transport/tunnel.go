package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
)

const tunnelMethod = "/raftkv.transport.Tunnel/Stream"

// tunnelServiceDesc (below) describes the single bidirectional-streaming
// RPC the gRPC tunnel uses. There is no .proto file behind this — the
// service is hand-assembled against grpc.ServiceDesc/grpc.StreamDesc
// directly, the same shape protoc-gen-go-grpc would produce. The
// payload is a raw byte stream, not messages, so codegen would buy
// nothing here.

// tunnelHandlerType is the interface grpc.Server.RegisterService checks
// the handler implementation against. The tunnel handler asserts the
// concrete *StreamLayer type itself (see tunnelStreamHandler), so this
// exists only to satisfy RegisterService's reflect-based check.
type tunnelHandlerType interface{}

var tunnelServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftkv.transport.Tunnel",
	HandlerType: (*tunnelHandlerType)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       tunnelStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func tunnelStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	sl, ok := srv.(*StreamLayer)
	if !ok {
		return fmt.Errorf("transport: tunnel handler bound to unexpected type %T", srv)
	}

	remote := rawAddr("unknown")
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = rawAddr(p.Addr.String())
	}

	conn := &streamConn{
		stream: stream,
		local:  sl.addr,
		remote: remote,
		done:   make(chan struct{}),
	}

	select {
	case sl.acceptCh <- conn:
	case <-sl.closeCh:
		return nil
	}

	<-conn.done
	return nil
}

// StreamLayer implements raft.StreamLayer by tunneling its byte
// stream through the Tunnel gRPC service above. It is handed directly
// to raft.NewNetworkTransportWithLogger in place of a bare TCP
// listener.
type StreamLayer struct {
	addr     net.Addr
	acceptCh chan net.Conn
	closeCh  chan struct{}
	closeOne sync.Once
}

// NewStreamLayer creates a stream layer advertising addr as its local
// address. The caller is responsible for registering it with a
// *grpc.Server (see RegisterTunnel) and serving that server on addr.
func NewStreamLayer(addr net.Addr) *StreamLayer {
	return &StreamLayer{
		addr:     addr,
		acceptCh: make(chan net.Conn),
		closeCh:  make(chan struct{}),
	}
}

// RegisterTunnel wires the Tunnel service into a gRPC server that is
// (or will be) serving this stream layer's address.
func RegisterTunnel(s *grpc.Server, sl *StreamLayer) {
	s.RegisterService(&tunnelServiceDesc, sl)
}

func (s *StreamLayer) Accept() (net.Conn, error) {
	select {
	case c := <-s.acceptCh:
		return c, nil
	case <-s.closeCh:
		return nil, fmt.Errorf("transport: stream layer closed")
	}
}

func (s *StreamLayer) Close() error {
	s.closeOne.Do(func() { close(s.closeCh) })
	return nil
}

func (s *StreamLayer) Addr() net.Addr { return s.addr }

// Dial opens a new gRPC connection to address and starts a Tunnel
// stream on it, returning the stream wrapped as a net.Conn. Transport
// security is out of scope for this system, so this always dials with
// insecure credentials.
func (s *StreamLayer) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	dialCtx, dialCancel := context.WithTimeout(context.Background(), timeout)
	defer dialCancel()

	conn, err := grpc.DialContext(dialCtx, string(address),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", address, err)
	}

	// The stream outlives the dial timeout: its context is canceled by
	// Close, not when this call returns, or the tunnel would be torn
	// down underneath NetworkTransport's pooled connection.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	clientStream, err := conn.NewStream(streamCtx, &tunnelServiceDesc.Streams[0], tunnelMethod)
	if err != nil {
		streamCancel()
		conn.Close()
		return nil, fmt.Errorf("open tunnel stream to %s: %w", address, err)
	}

	return &streamConn{
		stream: clientStream,
		local:  s.addr,
		remote: rawAddr(string(address)),
		done:   make(chan struct{}),
		onClose: func() error {
			_ = clientStream.CloseSend()
			streamCancel()
			return conn.Close()
		},
	}, nil
}

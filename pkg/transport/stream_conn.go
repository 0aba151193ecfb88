package transport

import (
	"net"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// grpcDuplexStream is the subset of grpc.ServerStream/grpc.ClientStream
// that streamConn needs. Both satisfy it with identical signatures,
// so one adapter serves either side of the tunnel.
type grpcDuplexStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// streamConn adapts one gRPC bidirectional-stream call into a
// net.Conn, so hashicorp/raft's NetworkTransport (which only wants a
// byte stream) can run over it without knowing the transport beneath
// is gRPC rather than a bare TCP socket.
type streamConn struct {
	stream grpcDuplexStream
	local  net.Addr
	remote net.Addr

	mu      sync.Mutex
	readBuf []byte

	done      chan struct{}
	closeOnce sync.Once
	onClose   func() error
}

func (c *streamConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.readBuf) == 0 {
		var msg wrapperspb.BytesValue
		if err := c.stream.RecvMsg(&msg); err != nil {
			return 0, err
		}
		c.readBuf = msg.Value
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *streamConn) Write(p []byte) (int, error) {
	msg := &wrapperspb.BytesValue{Value: append([]byte(nil), p...)}
	if err := c.stream.SendMsg(msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			err = c.onClose()
		}
	})
	return err
}

func (c *streamConn) LocalAddr() net.Addr  { return c.local }
func (c *streamConn) RemoteAddr() net.Addr { return c.remote }

// Deadlines aren't meaningful for a message-oriented gRPC stream in
// the way they are for a raw socket; NetworkTransport relies on its
// own per-call timeouts (via context, at Dial time) rather than conn
// deadlines for the request/response RPCs it issues, so these are
// no-ops rather than plumbing SetDeadline through to the stream.
func (c *streamConn) SetDeadline(time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(time.Time) error { return nil }

type rawAddr string

func (a rawAddr) Network() string { return "tunnel" }
func (a rawAddr) String() string  { return string(a) }

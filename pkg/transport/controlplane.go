package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cuemby/raftkv/pkg/types"
)

// ControlPlaneHandler is implemented by pkg/node.Node. It covers the
// calls that aren't mediated by hashicorp raft's own Configuration
// machinery: join forwarding to the current leader, cluster
// introspection, and the client-facing read/write front door.
type ControlPlaneHandler interface {
	Join(ctx context.Context, nodeID, addr, token string) error
	GenerateToken(ctx context.Context, ttl time.Duration) (string, error)
	ClusterInfo(ctx context.Context) (types.ClusterInfo, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var controlPlaneServiceDesc = grpc.ServiceDesc{
	ServiceName: "raftkv.transport.ControlPlane",
	HandlerType: (*ControlPlaneHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: cpJoinHandler},
		{MethodName: "GenerateToken", Handler: cpGenerateTokenHandler},
		{MethodName: "ClusterInfo", Handler: cpClusterInfoHandler},
		{MethodName: "Get", Handler: cpGetHandler},
		{MethodName: "Put", Handler: cpPutHandler},
		{MethodName: "Delete", Handler: cpDeleteHandler},
	},
}

// RegisterControlPlane wires the ControlPlane service into s.
func RegisterControlPlane(s *grpc.Server, h ControlPlaneHandler) {
	s.RegisterService(&controlPlaneServiceDesc, h)
}

type joinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
	Token  string `json:"token,omitempty"`
}

type tokenRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type getRequest struct {
	Key string `json:"key"`
}

type getResponse struct {
	Value []byte `json:"value"`
	Found bool   `json:"found"`
}

type putRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type deleteRequest struct {
	Key string `json:"key"`
}

func decodeInto(dec func(interface{}) error, v interface{}) (*wrapperspb.BytesValue, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(in.Value, v); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return in, nil
}

func encodeReply(v interface{}) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return &wrapperspb.BytesValue{Value: data}, nil
}

func cpJoinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	var req joinRequest
	if _, err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		if err := h.Join(ctx, req.NodeID, req.Addr, req.Token); err != nil {
			return nil, err
		}
		return encodeReply(struct{}{})
	}
	if interceptor == nil {
		return run(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/Join"}
	return interceptor(ctx, &req, info, run)
}

func cpGenerateTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	var req tokenRequest
	if _, err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		token, err := h.GenerateToken(ctx, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return encodeReply(tokenResponse{Token: token})
	}
	if interceptor == nil {
		return run(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/GenerateToken"}
	return interceptor(ctx, &req, info, run)
}

func cpClusterInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		info, err := h.ClusterInfo(ctx)
		if err != nil {
			return nil, err
		}
		return encodeReply(info)
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/ClusterInfo"}
	return interceptor(ctx, in, info, run)
}

func cpGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	var req getRequest
	if _, err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		value, found, err := h.Get(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return encodeReply(getResponse{Value: value, Found: found})
	}
	if interceptor == nil {
		return run(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/Get"}
	return interceptor(ctx, &req, info, run)
}

func cpPutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	var req putRequest
	if _, err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		if err := h.Put(ctx, req.Key, req.Value); err != nil {
			return nil, err
		}
		return encodeReply(struct{}{})
	}
	if interceptor == nil {
		return run(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/Put"}
	return interceptor(ctx, &req, info, run)
}

func cpDeleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	h := srv.(ControlPlaneHandler)
	var req deleteRequest
	if _, err := decodeInto(dec, &req); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, _ interface{}) (interface{}, error) {
		if err := h.Delete(ctx, req.Key); err != nil {
			return nil, err
		}
		return encodeReply(struct{}{})
	}
	if interceptor == nil {
		return run(ctx, &req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.ControlPlane/Delete"}
	return interceptor(ctx, &req, info, run)
}

// ControlPlaneClient is the client-side counterpart, dialing a single
// peer and invoking the hand-rolled methods above. Used by pkg/client
// (the external CLI front door) and by pkg/node's JoinCluster, which
// sends a Join to the leader. Nothing forwards writes through it.
type ControlPlaneClient struct {
	conn *grpc.ClientConn
}

// DialControlPlane opens an insecure gRPC connection to addr for use
// with the ControlPlane service. Encryption in transit is out of
// scope for this system.
func DialControlPlane(addr string) (*ControlPlaneClient, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &ControlPlaneClient{conn: conn}, nil
}

func (c *ControlPlaneClient) Close() error { return c.conn.Close() }

func (c *ControlPlaneClient) call(ctx context.Context, method string, req, reply interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	in := &wrapperspb.BytesValue{Value: data}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(out.Value, reply)
}

func (c *ControlPlaneClient) Join(ctx context.Context, nodeID, addr, token string) error {
	return c.call(ctx, "/raftkv.transport.ControlPlane/Join", joinRequest{NodeID: nodeID, Addr: addr, Token: token}, nil)
}

func (c *ControlPlaneClient) GenerateToken(ctx context.Context, ttl time.Duration) (string, error) {
	var resp tokenResponse
	req := tokenRequest{TTLSeconds: int64(ttl / time.Second)}
	if err := c.call(ctx, "/raftkv.transport.ControlPlane/GenerateToken", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *ControlPlaneClient) ClusterInfo(ctx context.Context) (types.ClusterInfo, error) {
	var info types.ClusterInfo
	err := c.call(ctx, "/raftkv.transport.ControlPlane/ClusterInfo", struct{}{}, &info)
	return info, err
}

func (c *ControlPlaneClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var resp getResponse
	if err := c.call(ctx, "/raftkv.transport.ControlPlane/Get", getRequest{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *ControlPlaneClient) Put(ctx context.Context, key string, value []byte) error {
	return c.call(ctx, "/raftkv.transport.ControlPlane/Put", putRequest{Key: key, Value: value}, nil)
}

func (c *ControlPlaneClient) Delete(ctx context.Context, key string) error {
	return c.call(ctx, "/raftkv.transport.ControlPlane/Delete", deleteRequest{Key: key}, nil)
}

// DefaultDialTimeout bounds how long a control-plane call waits to
// connect before giving up.
const DefaultDialTimeout = 10 * time.Second

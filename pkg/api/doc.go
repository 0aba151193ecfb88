// Package api carries this node's externally-facing observability
// surface: an HTTP server exposing /health, /ready, and /metrics
// (HealthServer), and a gRPC unary interceptor that instruments every
// control-plane RPC with Prometheus counters and histograms
// (MetricsInterceptor).
//
// The client-facing Get/Put/Delete/Join/ClusterInfo RPCs themselves
// live in pkg/transport rather than here, since they share a
// listener, wire framing, and hand-rolled grpc.ServiceDesc plumbing
// with the Raft tunnel. This package only wraps that service with
// cross-cutting concerns pkg/node feeds into when building its
// transport (see node.Node.SetInterceptor).
package api

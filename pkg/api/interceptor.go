package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/cuemby/raftkv/pkg/metrics"
)

// MetricsInterceptor records a request count and duration for every
// control-plane RPC, labeled by method name and outcome. The method
// label is the trailing component of FullMethod, so dashboards see
// "Get" rather than "/raftkv.transport.ControlPlane/Get".
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		result := "ok"
		if err != nil {
			result = status.Code(err).String()
		}
		metrics.APIRequestsTotal.WithLabelValues(method, result).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

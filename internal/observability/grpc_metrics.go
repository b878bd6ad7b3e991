package observability

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPC kinds used as the "type" label.
const (
	rpcUnary        = "unary"
	rpcServerStream = "stream"
)

// GRPCCollector counts and times the RPCs served by satsim.
type GRPCCollector struct {
	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewGRPCCollector registers the RPC metrics on reg.
func NewGRPCCollector(reg prometheus.Registerer) (*GRPCCollector, error) {
	reg, _ = registererAndGatherer(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Handled RPCs by service, method, type and status code.",
	}, []string{"service", "method", "type", "code"}), "grpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "RPC handling time in seconds. Streams are timed until they close.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"service", "method", "type"}), "grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &GRPCCollector{RPCRequests: requests, RPCDurations: durations}, nil
}

func (c *GRPCCollector) observe(fullMethod, kind string, started time.Time, err error) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	c.RPCRequests.WithLabelValues(service, method, kind, status.Code(err).String()).Inc()
	c.RPCDurations.WithLabelValues(service, method, kind).Observe(time.Since(started).Seconds())
}

// UnaryServerInterceptor records unary RPCs.
func (c *GRPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		var method string
		if info != nil {
			method = info.FullMethod
		}
		c.observe(method, rpcUnary, started, err)
		return resp, err
	}
}

// StreamServerInterceptor records streaming RPCs such as health Watch.
func (c *GRPCCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		started := time.Now()
		err := handler(srv, ss)
		var method string
		if info != nil {
			method = info.FullMethod
		}
		c.observe(method, rpcServerStream, started, err)
		return err
	}
}

// SplitMethod splits "/package.Service/Method" into the fully qualified
// service and the method. Missing parts read "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || strings.Contains(method, "/") {
		return "unknown", "unknown"
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

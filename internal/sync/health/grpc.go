package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/taskhive/syncd/internal/sync/metrics"
)

// GRPCProber probes a gRPC-fronted backend through the standard health
// service. Session validity rides on the connection's per-RPC credentials:
// an Unauthenticated/PermissionDenied status means the backend is up but the
// session is not.
type GRPCProber struct {
	conn     *grpc.ClientConn
	client   grpc_health_v1.HealthClient
	deadline time.Duration
}

// NewGRPCProber creates a prober for the given endpoint. The connection is
// lazy; the first probe pays the dial cost inside its own deadline.
func NewGRPCProber(endpoint string, deadline time.Duration) (*GRPCProber, error) {
	target := endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProber{
		conn:     conn,
		client:   grpc_health_v1.NewHealthClient(conn),
		deadline: deadline,
	}, nil
}

func (p *GRPCProber) Probe(ctx context.Context) Result {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	resp, err := p.client.Check(probeCtx, &grpc_health_v1.HealthCheckRequest{})

	var result Result
	switch {
	case err != nil:
		switch status.Code(err) {
		case codes.Unauthenticated, codes.PermissionDenied:
			result = ResultUnauthenticated
		default:
			result = ResultUnreachable
		}
	case resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING:
		result = ResultAuthenticated
	default:
		result = ResultUnreachable
	}

	metrics.ProbeDuration.WithLabelValues(string(result)).Observe(time.Since(start).Seconds())
	return result
}

// Close releases the underlying connection.
func (p *GRPCProber) Close() error {
	return p.conn.Close()
}

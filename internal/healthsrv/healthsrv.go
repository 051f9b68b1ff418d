// Package healthsrv runs a gRPC server exposing the standard
// grpc.health.v1.Health service, pre-compiled in
// google.golang.org/grpc/health so no protoc step is needed. It reports
// NOT_SERVING until the pipeline signals its first processed frame, then
// SERVING for the remainder of the process lifetime.
package healthsrv

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
	"github.com/banshee-data/lidar2d-fusion/internal/taskctx"
)

// Server wraps a grpc.Server registered with the health service under
// the empty service name, reporting for the process as a whole.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listen     string
}

// New creates a health server bound to listen (e.g. ":9090"), not yet
// serving. It reports NOT_SERVING until MarkServing is called.
func New(listen string) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, h)

	return &Server{grpcServer: g, health: h, listen: listen}
}

// MarkServing flips the reported status to SERVING. Intended to be wired
// as the pipeline's "first frame processed" readiness hook.
func (s *Server) MarkServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Run listens and serves until ctx is cancelled, then stops the server
// and returns taskctx.ErrCancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("healthsrv: listen on %s: %w", s.listen, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		<-errCh
		return taskctx.FromContext(ctx)
	case err := <-errCh:
		if err != nil {
			monitoring.Logf("healthsrv: serve on %s exited: %v", s.listen, err)
		}
		return err
	}
}

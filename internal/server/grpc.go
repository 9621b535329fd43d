package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthSyncInterval is how often task liveness is copied into gRPC health.
const HealthSyncInterval = 250 * time.Millisecond

// HealthServiceName is the gRPC health service name of a kernel task.
func HealthServiceName(task string) string {
	return "lot." + task
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the health service and reflection, and returns the server
// ready to serve.
func (s *Server) NewGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
	)

	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	s.syncHealth()
	return srv
}

// SyncHealth keeps gRPC health in step with task liveness until ctx is
// done, then marks every service NOT_SERVING.
func (s *Server) SyncHealth(ctx context.Context) {
	ticker := time.NewTicker(HealthSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.syncHealth()
		}
	}
}

// syncHealth sets lot.<task> for each task, and the overall service ""
// to NOT_SERVING while any task is stalled.
func (s *Server) syncHealth() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, e := range s.kernel.Liveness.Roster() {
		st := healthpb.HealthCheckResponse_SERVING
		if e.Stalled {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
		}
		s.health.SetServingStatus(HealthServiceName(e.Task), st)
	}
	s.health.SetServingStatus("", overall)
}

package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient queries the gRPC health service of a running lotd.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthClient connects to the given gRPC address and returns a client.
func NewHealthClient(addr string) (*HealthClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &HealthClient{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
	}, nil
}

func (c *HealthClient) Close() error {
	return c.conn.Close()
}

// Check returns the health of one service. The empty name is the whole
// kernel; "lot.<task>" is a single task.
func (c *HealthClient) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("health check %q: %w", service, err)
	}
	return resp, nil
}

// CheckAll checks the overall service and each named service, in order.
// The first entry of the result is the overall status.
func (c *HealthClient) CheckAll(ctx context.Context, services []string) ([]ServiceHealth, error) {
	out := make([]ServiceHealth, 0, len(services)+1)
	for _, name := range append([]string{""}, services...) {
		resp, err := c.Check(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, ServiceHealth{Service: name, Response: resp})
	}
	return out, nil
}

// ServiceHealth pairs a service name with its health response.
type ServiceHealth struct {
	Service  string
	Response *healthpb.HealthCheckResponse
}

// Serving reports whether the service is SERVING.
func (s ServiceHealth) Serving() bool {
	return s.Response.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

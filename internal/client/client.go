// Package client talks to a running lotd: the HTTP status API for status
// and events, and gRPC for per-task health.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/lotgate/internal/kernel"
)

// StatusClient is what the lotd CLI commands use to read a running kernel.
// It is implemented by HTTPClient.
type StatusClient interface {
	Status(ctx context.Context) (*kernel.Status, error)
	Health(ctx context.Context) (*Health, error)
	StreamEvents(ctx context.Context, topics []string, fn func(Event) error) error
	Close() error
}

// Health is the answer of GET /v1/health.
type Health struct {
	Status  string   `json:"status"`
	Stalled []string `json:"stalled,omitempty"`
}

// OK reports whether every task is beating.
func (h *Health) OK() bool { return h.Status == "ok" }

// Event is one server-sent event. ID is zero for the initial status
// snapshot, which is not replayable.
type Event struct {
	ID    uint64
	Topic string
	Data  json.RawMessage
}

// Package server exposes a running kernel to operators: an HTTP status API
// with an event stream and simulator panel, and gRPC health per task.
package server

import (
	"log/slog"

	"google.golang.org/grpc/health"

	"github.com/alfredjeanlab/lotgate/internal/hw/sim"
	"github.com/alfredjeanlab/lotgate/internal/kernel"
)

// Config wires a Server.
type Config struct {
	Kernel *kernel.Kernel
	// Hub must be among the kernel's publishers for the event stream to carry
	// anything.
	Hub *Hub
	// Board enables the simulator panel. Nil on real hardware.
	Board     *sim.Board
	AuthToken string
	Logger    *slog.Logger
}

// Server serves status for one kernel.
type Server struct {
	kernel *kernel.Kernel
	hub    *Hub
	board  *sim.Board
	token  string
	logger *slog.Logger
	health *health.Server
}

// New returns a server for cfg.Kernel. A nil Hub gets an empty one.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		kernel: cfg.Kernel,
		hub:    hub,
		board:  cfg.Board,
		token:  cfg.AuthToken,
		logger: logger,
		health: health.NewServer(),
	}
}

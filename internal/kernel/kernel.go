// Package kernel wires the parking control tasks together and runs them.
//
// The sensor publisher, scan unit, both gate controllers, serial bridge and
// display arbiter each run as a periodic task. They share state only through
// mailboxes, latches and the bounded claim queue built here.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/display"
	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/gate"
	"github.com/alfredjeanlab/lotgate/internal/hw"
	"github.com/alfredjeanlab/lotgate/internal/liveness"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/scan"
	"github.com/alfredjeanlab/lotgate/internal/sensor"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

// Defaults for zero Config fields.
const (
	DefaultPollInterval   = 20 * time.Millisecond
	DefaultRenderInterval = 50 * time.Millisecond
	DefaultClaimQueue     = 8
	DefaultStallThreshold = time.Second
)

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("kernel: invalid config")

// Config describes the hardware and timing of one kernel.
type Config struct {
	Board       hw.Board
	Link        io.ReadWriter
	Credentials model.CredentialTable

	PollInterval   time.Duration
	RenderInterval time.Duration
	Dwell          int
	// ClaimQueue is the claim queue depth; it must hold more than one claim.
	ClaimQueue     int
	StallThreshold time.Duration

	Publisher events.Publisher
	Logger    *slog.Logger
}

// Kernel owns every control task.
type Kernel struct {
	cfg    Config
	logger *slog.Logger

	Sensors  *sensor.Publisher
	Scan     *scan.Unit
	Gates    map[model.GateID]*gate.Controller
	Display  *display.Arbiter
	Bridge   *serial.Bridge
	Liveness *liveness.Tracker

	claims chan model.GateClaim
	tasks  []task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and wires the tasks. Nothing runs until Start.
func New(cfg Config) (*Kernel, error) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RenderInterval == 0 {
		cfg.RenderInterval = DefaultRenderInterval
	}
	if cfg.Dwell == 0 {
		cfg.Dwell = display.DefaultDwell
	}
	if cfg.ClaimQueue == 0 {
		cfg.ClaimQueue = DefaultClaimQueue
	}
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if cfg.Credentials == nil {
		cfg.Credentials = model.DefaultCredentials
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case cfg.Link == nil:
		return nil, fmt.Errorf("%w: no serial link", ErrInvalidConfig)
	case cfg.Board.Presence == nil || cfg.Board.Display == nil || cfg.Board.Reader == nil:
		return nil, fmt.Errorf("%w: board is missing presence, reader or display", ErrInvalidConfig)
	case cfg.ClaimQueue < 2:
		return nil, fmt.Errorf("%w: claim queue depth %d, need at least 2", ErrInvalidConfig, cfg.ClaimQueue)
	case cfg.PollInterval < 0 || cfg.RenderInterval < 0 || cfg.Dwell < 0:
		return nil, fmt.Errorf("%w: negative interval or dwell", ErrInvalidConfig)
	}
	for _, g := range model.Gates {
		if cfg.Board.Actuators[g] == nil {
			return nil, fmt.Errorf("%w: no actuator for %s gate", ErrInvalidConfig, g)
		}
	}

	k := &Kernel{
		cfg:      cfg,
		logger:   logger,
		Gates:    make(map[model.GateID]*gate.Controller, len(model.Gates)),
		Liveness: liveness.New(),
		claims:   make(chan model.GateClaim, cfg.ClaimQueue),
	}

	k.Sensors = sensor.NewPublisher(cfg.Board, logger.With("task", "sensors"))
	k.Display = display.NewArbiter(display.Config{
		Display: cfg.Board.Display,
		Slots:   k.Sensors.Slots(),
		Dwell:   cfg.Dwell,
		Logger:  logger.With("task", "display"),
	})

	grants := make(map[model.GateID]*mailbox.Latch, len(model.Gates))
	auth := make(map[model.GateID]*mailbox.Latch, len(model.Gates))
	for _, g := range model.Gates {
		grants[g] = &mailbox.Latch{}
		auth[g] = &mailbox.Latch{}
		k.Gates[g] = gate.New(gate.Config{
			Gate:             g,
			RequiresFreeSlot: g == model.GateEntry,
			Slots:            k.Sensors.Slots(),
			Sensors:          k.Sensors.GateSensors(),
			Auth:             auth[g],
			Actuator:         cfg.Board.Actuators[g],
			Reader:           cfg.Board.Reader,
			Publisher:        cfg.Publisher,
			Logger:           logger.With("task", "gate"),
		})
	}

	k.Scan = scan.NewUnit(scan.Config{
		Slots:       k.Sensors.Slots(),
		Sensors:     k.Sensors.GateSensors(),
		Scans:       k.Sensors.Scans(),
		Grants:      grants,
		Claims:      k.claims,
		SendTimeout: cfg.PollInterval,
		HoldLimit:   cfg.PollInterval,
		Display:     k.Display,
		Publisher:   cfg.Publisher,
		Logger:      logger.With("task", "scan"),
	})

	k.Bridge = serial.NewBridge(serial.Config{
		Link:        cfg.Link,
		Claims:      k.claims,
		Slots:       k.Sensors.Slots(),
		Credentials: cfg.Credentials,
		Targets:     serial.Targets{Grants: grants, Auth: auth, Display: k.Display},
		Publisher:   cfg.Publisher,
		Logger:      logger.With("task", "serial"),
	})

	k.tasks = k.buildTasks()
	for _, t := range k.tasks {
		k.Liveness.Register(t.name)
	}
	return k, nil
}

// Cycle runs every task once, in data-flow order. Tests and the simulator
// use it to step the kernel deterministically.
func (k *Kernel) Cycle(ctx context.Context) {
	for _, t := range k.tasks {
		t.step(ctx)
		k.Liveness.Beat(t.name)
	}
}

// ClaimQueue reports the number of queued claims and the queue capacity.
func (k *Kernel) ClaimQueue() (queued, capacity int) {
	return len(k.claims), cap(k.claims)
}

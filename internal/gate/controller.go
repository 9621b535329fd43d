// Package gate runs the barrier state machine of one gate.
//
// A Controller combines a control mode (auto or manual) with a barrier
// position. The manual switch toggles the mode on every level change; in
// auto mode the barrier follows presence sensors and authorization grants.
// The entry and exit gates share this code and differ only in whether a free
// slot is required before opening.
package gate

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/hw"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// CacheClearer forgets the last card read so a resting tag is reported again.
type CacheClearer interface {
	ClearCache()
}

// Config wires a Controller.
type Config struct {
	Gate model.GateID

	// RequiresFreeSlot blocks auto opening while the lot is full.
	RequiresFreeSlot bool

	Slots   *mailbox.Mailbox[model.SlotSnapshot]
	Sensors *mailbox.Mailbox[model.GateSensorSnapshot]

	// Auth is signalled once per authorization grant for this gate.
	Auth *mailbox.Latch

	Actuator  hw.Actuator
	Reader    CacheClearer
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Controller is the per-gate control task.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	state      model.GateState
	lastSwitch bool
	primed     bool

	states *mailbox.Mailbox[model.GateState]
}

// New returns a controller in auto mode with the barrier closed.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With("gate", cfg.Gate),
		state:  model.GateState{Gate: cfg.Gate, Mode: model.ModeAuto, Barrier: model.BarrierClosed},
		states: mailbox.New[model.GateState](),
	}
	c.states.Publish(c.state)
	return c
}

// Name identifies the task.
func (c *Controller) Name() string { return "gate." + string(c.cfg.Gate) }

// State is the latest published gate state.
func (c *Controller) State() *mailbox.Mailbox[model.GateState] { return c.states }

// Step evaluates one cycle and commands the actuator.
func (c *Controller) Step(ctx context.Context) {
	sensors, _ := c.cfg.Sensors.Peek()
	slots, _ := c.cfg.Slots.Peek()

	prev := c.state
	reason := c.evaluate(sensors, slots)

	switch c.state.Barrier {
	case model.BarrierOpen:
		c.cfg.Actuator.Open()
	default:
		c.cfg.Actuator.Close()
	}

	if c.state != prev {
		c.states.Publish(c.state)
		c.logger.Info("gate changed", "mode", c.state.Mode, "barrier", c.state.Barrier, "reason", reason)
		if err := c.cfg.Publisher.Publish(ctx, events.TopicGateChanged, events.GateChanged{
			State:  c.state,
			Reason: reason,
		}); err != nil {
			c.logger.Warn("failed to publish gate change", "error", err)
		}
	}
}

// evaluate advances the state machine and returns why it changed, if it did.
func (c *Controller) evaluate(sensors model.GateSensorSnapshot, slots model.SlotSnapshot) string {
	g := c.cfg.Gate
	level := sensors.Switch(g)
	if !c.primed {
		c.lastSwitch = level
		c.primed = true
	}

	// A grant is good for exactly one evaluation, whatever the mode.
	granted := c.cfg.Auth != nil && c.cfg.Auth.TryConsume()

	if level != c.lastSwitch {
		c.lastSwitch = level
		c.state.Mode = c.state.Mode.Toggle()
		if c.state.Mode == model.ModeManual {
			c.state.Barrier = c.state.Barrier.Flip()
		}
		return "switch"
	}

	if c.state.Mode == model.ModeManual {
		return ""
	}

	if c.state.Barrier == model.BarrierOpen {
		if sensors.Clear(g) {
			c.state.Barrier = model.BarrierClosed
			c.clearCache()
			return "passed"
		}
		return ""
	}

	roomy := !c.cfg.RequiresFreeSlot || slots.HasFreeSlot()
	if roomy && sensors.Front(g) && granted {
		c.state.Barrier = model.BarrierOpen
		return "granted"
	}
	c.clearCache()
	return ""
}

func (c *Controller) clearCache() {
	if c.cfg.Reader != nil {
		c.cfg.Reader.ClearCache()
	}
}

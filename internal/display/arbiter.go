// Package display decides what the character display shows each render cycle.
//
// Three kinds of content compete for the screen. An authorization result
// beats the scanning indicator, which beats the idle occupancy view. A
// result or scanning frame stays up for a fixed number of render cycles,
// after which the screen is cleared and the occupancy view returns.
package display

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/lotgate/internal/hw"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// DefaultDwell is how many render cycles a transient frame stays up.
const DefaultDwell = 100

// Fixed display texts.
const (
	TextScanning      = "Scanning..."
	TextInvalidCard   = "Invalid card"
	TextRequestFailed = "Request failed"
)

// Kind classifies a frame.
type Kind string

const (
	KindIdle     Kind = "idle"
	KindScanning Kind = "scanning"
	KindResult   Kind = "result"
)

// Frame is the content currently committed to the display.
type Frame struct {
	Kind      Kind               `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Result    model.AuthResult   `json:"result,omitempty"`
	Remaining int                `json:"remaining,omitempty"`
	Occupancy model.SlotSnapshot `json:"occupancy"`
}

// Greeting renders the grant message for gate g.
func Greeting(g model.GateID, name string) string {
	word := "Hi"
	if g == model.GateExit {
		word = "Bye"
	}
	if name == "" {
		return word + " !"
	}
	return word + " " + name + " !"
}

// MessageFor renders the text shown for result r with the given user name.
func MessageFor(r model.AuthResult, name string) string {
	switch r {
	case model.AuthEntryGranted:
		return Greeting(model.GateEntry, name)
	case model.AuthExitGranted:
		return Greeting(model.GateExit, name)
	case model.AuthEntryDenied, model.AuthExitDenied:
		return TextInvalidCard
	case model.AuthRequestFailed:
		return TextRequestFailed
	case model.AuthChecking:
		return TextScanning
	}
	return ""
}

// Config wires an Arbiter.
type Config struct {
	Display hw.Display
	Slots   *mailbox.Mailbox[model.SlotSnapshot]
	// Dwell is the transient frame lifetime in render cycles.
	Dwell  int
	Logger *slog.Logger
}

// Arbiter is the display task.
type Arbiter struct {
	cfg    Config
	logger *slog.Logger

	results  *mailbox.Mailbox[model.AuthResult]
	names    *mailbox.Mailbox[string]
	scanning mailbox.Latch

	// frameMu is held while a frame is chosen and drawn, so the display
	// never shows a partially written frame.
	frameMu   sync.Mutex
	frame     Frame
	name      string
	idleDrawn bool
}

// NewArbiter returns an arbiter showing the idle view.
func NewArbiter(cfg Config) *Arbiter {
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultDwell
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		cfg:     cfg,
		logger:  logger,
		results: mailbox.New[model.AuthResult](),
		names:   mailbox.New[string](),
		frame:   Frame{Kind: KindIdle},
	}
}

// Name identifies the task.
func (a *Arbiter) Name() string { return "display" }

// ShowResult queues an authorization result for display.
func (a *Arbiter) ShowResult(r model.AuthResult) {
	if r == model.AuthNone {
		return
	}
	if r == model.AuthChecking {
		a.RequestScanning()
		return
	}
	a.results.Publish(r)
}

// SetUser records the name to greet on the next grant.
func (a *Arbiter) SetUser(name string) { a.names.Publish(name) }

// RequestScanning asks for the scanning indicator. Ignored while any
// transient frame is up.
func (a *Arbiter) RequestScanning() { a.scanning.Signal() }

// Frame returns the frame currently on the display.
func (a *Arbiter) Frame() Frame {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	return a.frame
}

// Step runs one render cycle.
func (a *Arbiter) Step(_ context.Context) {
	slots, _ := a.cfg.Slots.Peek()

	a.frameMu.Lock()
	defer a.frameMu.Unlock()

	if r, ok := a.results.TryTake(); ok {
		// A name that arrived before the result belongs to it.
		a.name, _ = a.names.TryTake()
		a.show(Frame{Kind: KindResult, Result: r, Text: MessageFor(r, a.name), Remaining: a.cfg.Dwell})
		a.scanning.TryConsume()
		return
	}

	if a.frame.Kind != KindIdle {
		a.fillLateName()
		a.frame.Remaining--
		if a.frame.Remaining > 0 {
			a.scanning.TryConsume()
			return
		}
		a.cfg.Display.Clear()
		a.frame = Frame{Kind: KindIdle}
		a.idleDrawn = false
		a.name = ""
	}

	if a.scanning.TryConsume() {
		a.show(Frame{Kind: KindScanning, Text: TextScanning, Remaining: a.cfg.Dwell})
		return
	}

	if !a.idleDrawn || !slots.Equal(a.frame.Occupancy) {
		a.cfg.Display.RenderOccupancy(slots.Slice())
		a.frame = Frame{Kind: KindIdle, Occupancy: slots}
		a.idleDrawn = true
	}
}

// fillLateName redraws a nameless greeting once the name turns up.
func (a *Arbiter) fillLateName() {
	if a.frame.Kind != KindResult || !a.frame.Result.Granted() || a.name != "" {
		return
	}
	name, ok := a.names.TryTake()
	if !ok || name == "" {
		return
	}
	a.name = name
	a.frame.Text = MessageFor(a.frame.Result, name)
	a.cfg.Display.PrintLine(a.frame.Text)
}

func (a *Arbiter) show(f Frame) {
	a.cfg.Display.Clear()
	a.cfg.Display.PrintLine(f.Text)
	a.frame = f
	a.idleDrawn = false
	a.logger.Debug("display frame", "kind", f.Kind, "text", f.Text)
}

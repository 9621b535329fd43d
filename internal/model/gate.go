package model

import "fmt"

// GateID names one of the two physical gates.
type GateID string

const (
	GateEntry GateID = "entry"
	GateExit  GateID = "exit"
)

// Gates lists both gates in a fixed order.
var Gates = [...]GateID{GateEntry, GateExit}

// String returns the string representation of the gate.
func (g GateID) String() string {
	return string(g)
}

// IsValid checks whether the gate is a known value.
func (g GateID) IsValid() bool {
	switch g {
	case GateEntry, GateExit:
		return true
	}
	return false
}

// Side returns the single-letter code used on the serial link:
// "R" for the entry gate, "L" for the exit gate.
func (g GateID) Side() string {
	if g == GateExit {
		return "L"
	}
	return "R"
}

// ParseSide maps a serial-link side letter back to a gate.
func ParseSide(s string) (GateID, error) {
	switch s {
	case "R":
		return GateEntry, nil
	case "L":
		return GateExit, nil
	}
	return "", fmt.Errorf("unknown gate side %q", s)
}

// Mode is a gate's control mode.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeManual {
		return ModeAuto
	}
	return ModeManual
}

// Barrier is the commanded position of a gate arm.
type Barrier string

const (
	BarrierClosed Barrier = "closed"
	BarrierOpen   Barrier = "open"
)

// String returns the string representation of the barrier.
func (b Barrier) String() string {
	return string(b)
}

// Flip returns the opposite barrier position.
func (b Barrier) Flip() Barrier {
	if b == BarrierOpen {
		return BarrierClosed
	}
	return BarrierOpen
}

// GateState is the observable state of one gate controller.
type GateState struct {
	Gate    GateID  `json:"gate"`
	Mode    Mode    `json:"mode"`
	Barrier Barrier `json:"barrier"`
}

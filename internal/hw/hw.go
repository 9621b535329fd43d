// Package hw declares the hardware capabilities the control kernel consumes.
// Drivers live outside this module; the kernel only sees these interfaces.
// An in-memory implementation for development and tests is in hw/sim.
package hw

import "github.com/alfredjeanlab/lotgate/internal/model"

// PresenceArray reads the infrared presence sensors. Reads have no side
// effects and are safe to call from several goroutines.
type PresenceArray interface {
	SlotCount() int
	IsSlotOccupied(index int) bool
	IsEntryFrontDetected() bool
	IsEntryBackDetected() bool
	IsExitFrontDetected() bool
	IsExitBackDetected() bool
}

// Switch is a gate's manual toggle switch; only its level is observable.
type Switch interface {
	Level() bool
}

// Reader is the RFID reader. PollForScan reports the provisioned index of a
// freshly identified tag. A tag resting on the reader is reported once and
// then suppressed until ClearCache is called.
type Reader interface {
	PollForScan() (cardIndex int, ok bool)
	ClearCache()
}

// Actuator drives a gate arm. Both commands are idempotent and report
// nothing back.
type Actuator interface {
	Open()
	Close()
}

// Display is the character display.
type Display interface {
	RenderOccupancy(occupied []bool)
	PrintLine(text string)
	Clear()
}

// LightSensor reports ambient darkness.
type LightSensor interface {
	IsDark() bool
}

// Lamp is the indicator lamp switched by the light sensor.
type Lamp interface {
	Set(on bool)
}

// Board bundles every device the kernel drives. Light and Lamp are optional.
type Board struct {
	Presence  PresenceArray
	Switches  map[model.GateID]Switch
	Reader    Reader
	Actuators map[model.GateID]Actuator
	Display   Display
	Light     LightSensor
	Lamp      Lamp
}

// Front reads the front presence sensor of gate g.
func Front(p PresenceArray, g model.GateID) bool {
	if g == model.GateExit {
		return p.IsExitFrontDetected()
	}
	return p.IsEntryFrontDetected()
}

// Back reads the back presence sensor of gate g.
func Back(p PresenceArray, g model.GateID) bool {
	if g == model.GateExit {
		return p.IsExitBackDetected()
	}
	return p.IsEntryBackDetected()
}

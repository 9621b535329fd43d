package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxSlots is the widest slot field a SlotSnapshot can hold.
const MaxSlots = 64

// SlotSnapshot is the occupancy of every parking slot at one instant, packed
// one bit per slot (bit i = slot i occupied). Values are immutable.
type SlotSnapshot struct {
	bits uint64
	n    uint8
}

// NewSlotSnapshot packs occupancy flags in slot-index order. It panics if
// more than MaxSlots flags are given.
func NewSlotSnapshot(occupied []bool) SlotSnapshot {
	if len(occupied) > MaxSlots {
		panic(fmt.Sprintf("model: %d slots exceeds MaxSlots", len(occupied)))
	}
	s := SlotSnapshot{n: uint8(len(occupied))}
	for i, o := range occupied {
		if o {
			s.bits |= 1 << uint(i)
		}
	}
	return s
}

// SlotSnapshotFromBits builds a snapshot of n slots from a packed field.
// Bits above n are ignored.
func SlotSnapshotFromBits(bits uint64, n int) SlotSnapshot {
	if n < 0 || n > MaxSlots {
		panic(fmt.Sprintf("model: invalid slot count %d", n))
	}
	mask := uint64(1)<<uint(n) - 1
	if n == MaxSlots {
		mask = ^uint64(0)
	}
	return SlotSnapshot{bits: bits & mask, n: uint8(n)}
}

// Len returns the number of slots.
func (s SlotSnapshot) Len() int { return int(s.n) }

// Bits returns the packed field.
func (s SlotSnapshot) Bits() uint64 { return s.bits }

// Occupied reports whether slot i is occupied. Out-of-range slots read false.
func (s SlotSnapshot) Occupied(i int) bool {
	if i < 0 || i >= int(s.n) {
		return false
	}
	return s.bits&(1<<uint(i)) != 0
}

// Free returns the number of unoccupied slots.
func (s SlotSnapshot) Free() int {
	free := 0
	for i := 0; i < int(s.n); i++ {
		if !s.Occupied(i) {
			free++
		}
	}
	return free
}

// HasFreeSlot reports whether at least one slot is unoccupied.
func (s SlotSnapshot) HasFreeSlot() bool {
	return s.Free() > 0
}

// Slice unpacks the snapshot in slot-index order.
func (s SlotSnapshot) Slice() []bool {
	out := make([]bool, s.n)
	for i := range out {
		out[i] = s.Occupied(i)
	}
	return out
}

// Equal reports whether two snapshots describe the same slots.
func (s SlotSnapshot) Equal(o SlotSnapshot) bool {
	return s == o
}

// String renders the snapshot as 0/1 digits in slot-index order.
func (s SlotSnapshot) String() string {
	var b strings.Builder
	for i := 0; i < int(s.n); i++ {
		if s.Occupied(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// MarshalJSON encodes the snapshot for the status API and event bus.
func (s SlotSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Occupied []bool `json:"occupied"`
		Free     int    `json:"free"`
	}{s.Slice(), s.Free()})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *SlotSnapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Occupied []bool `json:"occupied"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Occupied) > MaxSlots {
		return fmt.Errorf("slot snapshot: %d slots exceeds %d", len(raw.Occupied), MaxSlots)
	}
	*s = NewSlotSnapshot(raw.Occupied)
	return nil
}

// GateSensorSnapshot packs both gates' presence sensors and switch levels
// into one field so a single publish carries a consistent view.
//
// Layout, three bits per gate (entry at bit 0, exit at bit 3):
//
//	+0 front presence
//	+1 back presence
//	+2 manual switch level
type GateSensorSnapshot uint8

const (
	bitFront = iota
	bitBack
	bitSwitch
	bitsPerGate
)

func gateShift(g GateID) uint {
	if g == GateExit {
		return bitsPerGate
	}
	return 0
}

// With returns a copy with the given gate's three readings replaced.
func (s GateSensorSnapshot) With(g GateID, front, back, sw bool) GateSensorSnapshot {
	shift := gateShift(g)
	s &^= GateSensorSnapshot(0b111 << shift)
	if front {
		s |= 1 << (shift + bitFront)
	}
	if back {
		s |= 1 << (shift + bitBack)
	}
	if sw {
		s |= 1 << (shift + bitSwitch)
	}
	return s
}

func (s GateSensorSnapshot) bit(g GateID, b uint) bool {
	return s&(1<<(gateShift(g)+b)) != 0
}

// Front reports the gate's front presence sensor.
func (s GateSensorSnapshot) Front(g GateID) bool { return s.bit(g, bitFront) }

// Back reports the gate's back presence sensor.
func (s GateSensorSnapshot) Back(g GateID) bool { return s.bit(g, bitBack) }

// Switch reports the raw level of the gate's manual switch.
func (s GateSensorSnapshot) Switch(g GateID) bool { return s.bit(g, bitSwitch) }

// Clear reports whether both presence sensors of the gate read false.
func (s GateSensorSnapshot) Clear(g GateID) bool {
	return !s.Front(g) && !s.Back(g)
}

// MarshalJSON encodes the per-gate readings.
func (s GateSensorSnapshot) MarshalJSON() ([]byte, error) {
	type reading struct {
		Front  bool `json:"front"`
		Back   bool `json:"back"`
		Switch bool `json:"switch"`
	}
	out := make(map[GateID]reading, len(Gates))
	for _, g := range Gates {
		out[g] = reading{s.Front(g), s.Back(g), s.Switch(g)}
	}
	return json.Marshal(out)
}

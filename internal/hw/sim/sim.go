// Package sim is an in-memory parking board. Every device of hw.Board is
// backed by plain state that tests and the simulator panel can set and read.
package sim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alfredjeanlab/lotgate/internal/hw"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Board implements every hw interface. Safe for concurrent use.
type Board struct {
	mu sync.Mutex

	slots    []bool
	front    map[model.GateID]bool
	back     map[model.GateID]bool
	switches map[model.GateID]bool
	barriers map[model.GateID]model.Barrier
	commands map[model.GateID]int
	dark     bool
	lamp     bool

	// reader
	taps      []int
	tag       int
	tagPlaced bool
	tagCached bool
	clears    int

	// display
	screen  Screen
	history []string
	watch   map[chan Screen]struct{}
}

// Screen is what the display currently shows.
type Screen struct {
	Occupancy []bool `json:"occupancy,omitempty"`
	Line      string `json:"line,omitempty"`
}

// String renders the screen the way the history log records it.
func (s Screen) String() string {
	if s.Line != "" {
		return "line:" + s.Line
	}
	if s.Occupancy != nil {
		return "occupancy:" + model.NewSlotSnapshot(s.Occupancy).String()
	}
	return "blank"
}

// New returns a board with n empty slots, both gates closed and clear.
func New(n int) *Board {
	b := &Board{
		slots:    make([]bool, n),
		front:    make(map[model.GateID]bool),
		back:     make(map[model.GateID]bool),
		switches: make(map[model.GateID]bool),
		barriers: make(map[model.GateID]model.Barrier),
		commands: make(map[model.GateID]int),
		watch:    make(map[chan Screen]struct{}),
	}
	for _, g := range model.Gates {
		b.barriers[g] = model.BarrierClosed
	}
	return b
}

// HW returns the board wired as an hw.Board.
func (b *Board) HW() hw.Board {
	return hw.Board{
		Presence: b,
		Switches: map[model.GateID]hw.Switch{
			model.GateEntry: gateSwitch{b, model.GateEntry},
			model.GateExit:  gateSwitch{b, model.GateExit},
		},
		Reader: b,
		Actuators: map[model.GateID]hw.Actuator{
			model.GateEntry: gateActuator{b, model.GateEntry},
			model.GateExit:  gateActuator{b, model.GateExit},
		},
		Display: b,
		Light:   b,
		Lamp:    b,
	}
}

// --- Inputs ---

// SetSlot marks slot i occupied or free.
func (b *Board) SetSlot(i int, occupied bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= 0 && i < len(b.slots) {
		b.slots[i] = occupied
	}
}

// SetSlots replaces all slot readings. Extra values are ignored.
func (b *Board) SetSlots(occupied ...bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.slots, occupied)
}

// SetPresence sets a gate's front and back sensors.
func (b *Board) SetPresence(g model.GateID, front, back bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.front[g] = front
	b.back[g] = back
}

// SetSwitch sets the level of a gate's manual switch.
func (b *Board) SetSwitch(g model.GateID, level bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switches[g] = level
}

// FlipSwitch inverts the level of a gate's manual switch.
func (b *Board) FlipSwitch(g model.GateID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.switches[g] = !b.switches[g]
}

// SetDark sets the light sensor reading.
func (b *Board) SetDark(dark bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dark = dark
}

// Tap queues a one-shot read of card index, as if a tag were swiped past
// the reader. It is reported on the next poll regardless of the cache.
func (b *Board) Tap(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, index)
}

// PlaceTag rests a tag on the reader. It is reported once, then again after
// every ClearCache, until RemoveTag.
func (b *Board) PlaceTag(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tag = index
	b.tagPlaced = true
	b.tagCached = false
}

// RemoveTag lifts the resting tag off the reader.
func (b *Board) RemoveTag() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tagPlaced = false
	b.tagCached = false
}

// --- hw.PresenceArray ---

func (b *Board) SlotCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

func (b *Board) IsSlotOccupied(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return i >= 0 && i < len(b.slots) && b.slots[i]
}

func (b *Board) IsEntryFrontDetected() bool { return b.readFront(model.GateEntry) }
func (b *Board) IsEntryBackDetected() bool  { return b.readBack(model.GateEntry) }
func (b *Board) IsExitFrontDetected() bool  { return b.readFront(model.GateExit) }
func (b *Board) IsExitBackDetected() bool   { return b.readBack(model.GateExit) }

func (b *Board) readFront(g model.GateID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.front[g]
}

func (b *Board) readBack(g model.GateID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.back[g]
}

// --- hw.Reader ---

func (b *Board) PollForScan() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.taps) > 0 {
		idx := b.taps[0]
		b.taps = b.taps[1:]
		return idx, true
	}
	if b.tagPlaced && !b.tagCached {
		b.tagCached = true
		return b.tag, true
	}
	return 0, false
}

func (b *Board) ClearCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tagCached = false
	b.clears++
}

// CacheClears reports how many times ClearCache was called.
func (b *Board) CacheClears() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clears
}

// --- hw.LightSensor / hw.Lamp ---

func (b *Board) IsDark() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dark
}

func (b *Board) Set(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lamp = on
}

// LampOn reports the lamp state.
func (b *Board) LampOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lamp
}

// --- Actuators ---

// Barrier returns the last commanded position of a gate arm.
func (b *Board) Barrier(g model.GateID) model.Barrier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.barriers[g]
}

// Commands returns how many actuator commands a gate has received.
func (b *Board) Commands(g model.GateID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commands[g]
}

func (b *Board) command(g model.GateID, pos model.Barrier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.barriers[g] = pos
	b.commands[g]++
}

type gateActuator struct {
	b *Board
	g model.GateID
}

func (a gateActuator) Open()  { a.b.command(a.g, model.BarrierOpen) }
func (a gateActuator) Close() { a.b.command(a.g, model.BarrierClosed) }

type gateSwitch struct {
	b *Board
	g model.GateID
}

func (s gateSwitch) Level() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.switches[s.g]
}

// --- hw.Display ---

func (b *Board) RenderOccupancy(occupied []bool) {
	b.show(Screen{Occupancy: append([]bool(nil), occupied...)})
}

func (b *Board) PrintLine(text string) {
	b.show(Screen{Line: text})
}

func (b *Board) Clear() {
	b.show(Screen{})
}

func (b *Board) show(s Screen) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screen = s
	b.history = append(b.history, s.String())
	for ch := range b.watch {
		select {
		case ch <- s:
		default:
			// Drop if the watcher is slow.
		}
	}
}

// Screen returns what the display currently shows.
func (b *Board) Screen() Screen {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screen
}

// History returns every display write so far, oldest first.
func (b *Board) History() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.history...)
}

// Shown reports whether text was ever printed as a display line.
func (b *Board) Shown(text string) bool {
	want := "line:" + text
	for _, h := range b.History() {
		if h == want {
			return true
		}
	}
	return false
}

// WatchScreen returns a channel receiving every display write. Call the
// returned function to stop watching.
func (b *Board) WatchScreen() (<-chan Screen, func()) {
	ch := make(chan Screen, 16)
	b.mu.Lock()
	b.watch[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watch, ch)
			b.mu.Unlock()
		})
	}
}

// --- Simulator commands ---

// Command is one simulator panel instruction.
type Command struct {
	Op    string       `json:"op"` // slot | presence | switch | tap | place | remove | dark
	Gate  model.GateID `json:"gate,omitempty"`
	Index int          `json:"index,omitempty"`
	Value bool         `json:"value,omitempty"`
	Front bool         `json:"front,omitempty"`
	Back  bool         `json:"back,omitempty"`
}

// Apply executes a simulator command against the board.
func (b *Board) Apply(c Command) error {
	switch strings.ToLower(c.Op) {
	case "slot":
		if c.Index < 0 || c.Index >= b.SlotCount() {
			return fmt.Errorf("slot %d out of range", c.Index)
		}
		b.SetSlot(c.Index, c.Value)
	case "presence":
		if !c.Gate.IsValid() {
			return fmt.Errorf("unknown gate %q", c.Gate)
		}
		b.SetPresence(c.Gate, c.Front, c.Back)
	case "switch":
		if !c.Gate.IsValid() {
			return fmt.Errorf("unknown gate %q", c.Gate)
		}
		b.FlipSwitch(c.Gate)
	case "tap":
		b.Tap(c.Index)
	case "place":
		b.PlaceTag(c.Index)
	case "remove":
		b.RemoveTag()
	case "dark":
		b.SetDark(c.Value)
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

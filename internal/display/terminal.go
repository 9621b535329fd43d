package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/ui"
)

// Terminal is an hw.Display that writes each frame as one line of text.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal returns a display writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) RenderOccupancy(occupied []bool) {
	s := model.NewSlotSnapshot(occupied)
	t.write(fmt.Sprintf("%s %s", ui.RenderSlots(occupied), ui.RenderMuted(fmt.Sprintf("%d free", s.Free()))))
}

func (t *Terminal) PrintLine(text string) {
	t.write(ui.RenderAccent(text))
}

// Clear is a no-op; every frame starts on a fresh line.
func (t *Terminal) Clear() {}

func (t *Terminal) write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, line)
}

package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent   = 74  // blue
	colorCmd      = 250 // light gray
	colorMuted    = 245 // medium gray
	colorFree     = 114 // green
	colorOccupied = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderSlot returns the glyph for one parking slot.
func RenderSlot(occupied bool) string {
	if occupied {
		return paint(colorOccupied, "■")
	}
	return paint(colorFree, "□")
}

// RenderSlots draws a whole row of slots, slot 0 first.
func RenderSlots(occupied []bool) string {
	var out string
	for _, o := range occupied {
		out += RenderSlot(o)
	}
	return out
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

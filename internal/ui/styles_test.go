package ui

import "testing"

func TestRenderSlots_NoColor(t *testing.T) {
	ForceNoColor()
	if got := RenderSlots([]bool{true, false, true}); got != "■□■" {
		t.Errorf("RenderSlots = %q", got)
	}
	if got := RenderAccent("lot"); got != "lot" {
		t.Errorf("RenderAccent with no color = %q", got)
	}
}

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alfredjeanlab/lotgate/internal/display"
	"github.com/alfredjeanlab/lotgate/internal/kernel"
	"github.com/alfredjeanlab/lotgate/internal/liveness"
	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
	"github.com/alfredjeanlab/lotgate/internal/ui"
)

func TestFormatEvent(t *testing.T) {
	ui.ForceNoColor()
	for _, tc := range []struct {
		topic string
		data  string
		want  string
	}{
		{"lot.slots.changed", `{"slots":{"occupied":[true,false,true],"free":1},"wire":"1,0,1"}`, "■□■ 1 free"},
		{"lot.gate.changed", `{"state":{"gate":"exit","mode":"manual","barrier":"open"},"reason":"switch"}`, "exit gate manual open (switch)"},
		{"lot.auth.result", `{"result":"entry-granted","gate":"entry"}`, "entry gate entry-granted"},
		{"lot.auth.result", `{"result":"checking"}`, "checking"},
		{"lot.auth.user", `{"name":"Alice"}`, `user "Alice"`},
		{"lot.claim.dropped", `{"claim":{"id":"clm-1","gate":"entry","card_index":2}}`, "entry gate claim clm-1 dropped"},
		{"lot.task.recovered", `{"task":"serial"}`, "serial recovered"},
		{"lot.gate.claimed", `{"claim":{"id":"clm-9","gate":"exit","card_index":3},"card":"E3-9A-66-10"}`, "exit gate claimed by card 3 (E3-9A-66-10) clm-9"},
		{"lot.auth.result", `{"result":"bogus"}`, `{"result":"bogus"}`},
		{"other.topic", `{"x":1}`, `{"x":1}`},
	} {
		if got := formatEvent(tc.topic, []byte(tc.data)); got != tc.want {
			t.Errorf("formatEvent(%s, %s) = %q, want %q", tc.topic, tc.data, got, tc.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	ui.ForceNoColor()
	st := &kernel.Status{
		Slots: model.NewSlotSnapshot([]bool{true, false, false, true}),
		Free:  2,
		Gates: []kernel.GateStatus{
			{GateState: model.GateState{Gate: model.GateEntry, Mode: model.ModeAuto, Barrier: model.BarrierClosed}, Eligible: true},
			{GateState: model.GateState{Gate: model.GateExit, Mode: model.ModeManual, Barrier: model.BarrierOpen}},
		},
		Display:       display.Frame{Kind: display.KindResult, Text: "Hi Alice !"},
		ClaimsQueued:  1,
		ClaimQueueCap: 8,
		ClaimsIssued:  5,
		Link:          serial.Stats{CardsSent: 5, StatesSent: 2},
		Tasks:         []liveness.Entry{{Task: "serial", Beats: 10}, {Task: "display", Beats: 4, Stalled: true}},
	}

	var buf bytes.Buffer
	printStatus(&buf, st)
	out := buf.String()
	for _, want := range []string{
		"Slots:    ■□□■ 2 free",
		"Entry:    auto closed eligible",
		"Exit:     manual open\n",
		`Display:  result "Hi Alice !"`,
		"Claims:   1/8 queued, 5 issued, 0 dropped",
		"Link:     5 cards, 2 states sent",
		"Health:   degraded",
		"display  4      0.00s  stalled",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNATSSubject(t *testing.T) {
	for in, want := range map[string]string{
		"lot.gate.*":        "lot.gate.>",
		"lot.*":             "lot.>",
		"lot.slots.changed": "lot.slots.changed",
	} {
		if got := natsSubject(in); got != want {
			t.Errorf("natsSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestColorizeHelpOutput_KeepsText(t *testing.T) {
	ui.ForceNoColor()
	in := "Services:\n  serve       Run the control kernel\n"
	if got := colorizeHelpOutput(in); got != in {
		t.Errorf("colorizeHelpOutput without color changed text:\n%q", got)
	}
}

func TestColorizeHelpOutput_StylesEnvVars(t *testing.T) {
	if got := reEnvVar.FindAllString("With LOT_LINK unset, LOT_AUTHSVC_ADDR is used.", -1); len(got) != 2 || got[0] != "LOT_LINK" || got[1] != "LOT_AUTHSVC_ADDR" {
		t.Errorf("env vars = %v", got)
	}
}

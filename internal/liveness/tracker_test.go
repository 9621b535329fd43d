package liveness

import (
	"sync"
	"testing"
	"time"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := New()
	tr.now = c.Now
	return tr, c
}

func TestBeat_BasicTracking(t *testing.T) {
	tr, c := newTestTracker()
	tr.Beat("scan")
	c.Advance(10 * time.Millisecond)
	tr.Beat("scan")
	tr.Beat("gate.entry")
	tr.Beat("")

	roster := tr.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(roster))
	}
	if roster[0].Task != "gate.entry" || roster[1].Task != "scan" {
		t.Errorf("roster not sorted by name: %v", roster)
	}
	if roster[1].Beats != 2 {
		t.Errorf("scan beats = %d, want 2", roster[1].Beats)
	}
	if !roster[1].LastBeat.After(roster[1].FirstBeat) {
		t.Error("last beat should be after first beat")
	}
}

func TestSweep_StallsSilentTasksOnly(t *testing.T) {
	tr, c := newTestTracker()
	var stalled []string
	cfg := (&ReaperConfig{
		StallThreshold: 100 * time.Millisecond,
		OnStall:        func(task string, _ time.Time) { stalled = append(stalled, task) },
	}).withDefaults()

	tr.Beat("sensors")
	tr.Beat("display")
	c.Advance(150 * time.Millisecond)
	tr.Beat("display")

	tr.sweep(cfg)
	if len(stalled) != 1 || stalled[0] != "sensors" {
		t.Fatalf("stalled = %v, want [sensors]", stalled)
	}
	if !tr.Stalled("sensors") || tr.Stalled("display") {
		t.Error("Stalled reports wrong tasks")
	}
	if tr.Healthy() {
		t.Error("tracker with a stalled task reported healthy")
	}

	// A second sweep does not report the same task again.
	tr.sweep(cfg)
	if len(stalled) != 1 {
		t.Errorf("task reported stalled twice: %v", stalled)
	}
}

func TestRegister_NeverBeatingTaskStalls(t *testing.T) {
	tr, c := newTestTracker()
	tr.Register("serial")
	c.Advance(2 * time.Second)
	tr.sweep((&ReaperConfig{}).withDefaults())
	if !tr.Stalled("serial") {
		t.Error("registered task that never beat should stall")
	}
	if roster := tr.Roster(); roster[0].Beats != 0 {
		t.Errorf("beats = %d, want 0", roster[0].Beats)
	}
}

func TestBeat_RecoversStalledTask(t *testing.T) {
	tr, c := newTestTracker()
	recovered := make(chan string, 1)
	tr.cfg = (&ReaperConfig{OnRecover: func(task string) { recovered <- task }}).withDefaults()

	tr.Beat("scan")
	c.Advance(5 * time.Second)
	tr.sweep(tr.cfg)
	if !tr.Stalled("scan") {
		t.Fatal("scan should be stalled")
	}

	tr.Beat("scan")
	select {
	case got := <-recovered:
		if got != "scan" {
			t.Errorf("recovered %q, want scan", got)
		}
	default:
		t.Fatal("OnRecover not called")
	}
	if !tr.Healthy() {
		t.Error("tracker should be healthy after recovery")
	}
}

func TestStartReaper_StopsCleanly(t *testing.T) {
	tr := New()
	tr.StartReaper(&ReaperConfig{SweepInterval: time.Millisecond, StallThreshold: time.Hour})
	tr.Beat("scan")
	time.Sleep(5 * time.Millisecond)
	tr.Stop()
	tr.Stop() // idempotent
	if tr.Stalled("scan") {
		t.Error("scan should not stall within an hour threshold")
	}
}

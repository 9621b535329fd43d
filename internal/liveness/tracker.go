// Package liveness tracks heartbeats from the kernel's control tasks.
//
// Each task beats once per cycle. A background reaper marks a task stalled
// when it has been silent for longer than the stall threshold, and the next
// beat from that task marks it recovered. The gRPC health service and the
// status API read their answers from here.
package liveness

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is one task's heartbeat state.
type Entry struct {
	Task      string    `json:"task"`
	LastBeat  time.Time `json:"last_beat"`
	FirstBeat time.Time `json:"first_beat"`
	IdleSecs  float64   `json:"idle_secs"`
	Beats     int64     `json:"beats"`
	Stalled   bool      `json:"stalled,omitempty"`
	StalledAt time.Time `json:"stalled_at,omitempty"`
}

// ReaperConfig configures the background stall detector.
type ReaperConfig struct {
	// StallThreshold is how long a task may stay silent before it is stalled.
	// Default: 1 second.
	StallThreshold time.Duration

	// SweepInterval is how often the reaper scans for stalled tasks.
	// Default: 250 milliseconds.
	SweepInterval time.Duration

	// OnStall is called for each task newly marked stalled, outside the lock.
	OnStall func(task string, lastBeat time.Time)

	// OnRecover is called when a stalled task beats again, outside the lock.
	OnRecover func(task string)
}

func (c *ReaperConfig) withDefaults() *ReaperConfig {
	out := ReaperConfig{}
	if c != nil {
		out = *c
	}
	if out.StallThreshold == 0 {
		out.StallThreshold = time.Second
	}
	if out.SweepInterval == 0 {
		out.SweepInterval = 250 * time.Millisecond
	}
	return &out
}

// Tracker holds the heartbeat state of every registered task.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*taskState
	cfg   *ReaperConfig
	now   func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type taskState struct {
	firstBeat time.Time
	lastBeat  time.Time
	beats     int64
	stalled   bool
	stalledAt time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		tasks: make(map[string]*taskState),
		cfg:   (*ReaperConfig)(nil).withDefaults(),
		now:   time.Now,
	}
}

// Register adds a task that has not beaten yet, so that a task which never
// starts is still caught by the reaper.
func (t *Tracker) Register(task string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[task]; !ok {
		t.tasks[task] = &taskState{lastBeat: now}
	}
}

// Beat records a heartbeat from task.
func (t *Tracker) Beat(task string) {
	if task == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	state, ok := t.tasks[task]
	if !ok {
		state = &taskState{}
		t.tasks[task] = state
	}
	if state.firstBeat.IsZero() {
		state.firstBeat = now
	}
	recovered := state.stalled
	state.stalled = false
	state.stalledAt = time.Time{}
	state.lastBeat = now
	state.beats++
	onRecover := t.cfg.OnRecover
	t.mu.Unlock()

	if recovered {
		slog.Info("liveness: task recovered", "task", task)
		if onRecover != nil {
			onRecover(task)
		}
	}
}

// Roster returns every task sorted by name.
func (t *Tracker) Roster() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.tasks))
	for name, state := range t.tasks {
		entries = append(entries, Entry{
			Task:      name,
			LastBeat:  state.lastBeat,
			FirstBeat: state.firstBeat,
			IdleSecs:  now.Sub(state.lastBeat).Seconds(),
			Beats:     state.beats,
			Stalled:   state.stalled,
			StalledAt: state.stalledAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Task < entries[j].Task })
	return entries
}

// Stalled reports whether task is currently stalled. Unknown tasks are not.
func (t *Tracker) Stalled(task string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tasks[task]
	return ok && s.stalled
}

// Healthy reports whether no task is stalled.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.tasks {
		if s.stalled {
			return false
		}
	}
	return true
}

// StartReaper launches the background stall detector. Call Stop to shut
// it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	cfg = cfg.withDefaults()
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("liveness: reaper started",
		"stall_threshold", cfg.StallThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.now()

	type stalledTask struct {
		name     string
		lastBeat time.Time
	}
	var newlyStalled []stalledTask

	t.mu.Lock()
	for name, state := range t.tasks {
		if state.stalled {
			continue
		}
		if now.Sub(state.lastBeat) > cfg.StallThreshold {
			state.stalled = true
			state.stalledAt = now
			newlyStalled = append(newlyStalled, stalledTask{name: name, lastBeat: state.lastBeat})
		}
	}
	t.mu.Unlock()

	for _, s := range newlyStalled {
		slog.Warn("liveness: task stalled",
			"task", s.name,
			"last_beat", s.lastBeat,
			"threshold", cfg.StallThreshold)
		if cfg.OnStall != nil {
			cfg.OnStall(s.name, s.lastBeat)
		}
	}
}

package kernel

import (
	"context"
	"io"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/liveness"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// task is one periodic control loop.
type task struct {
	name     string
	interval time.Duration
	step     func(ctx context.Context)
}

func (k *Kernel) buildTasks() []task {
	poll, render := k.cfg.PollInterval, k.cfg.RenderInterval
	tasks := []task{
		{name: k.Sensors.Name(), interval: poll, step: func(context.Context) { k.Sensors.Step() }},
		{name: k.Scan.Name(), interval: poll, step: func(ctx context.Context) { k.Scan.Step(ctx) }},
	}
	for _, g := range model.Gates {
		c := k.Gates[g]
		tasks = append(tasks, task{name: c.Name(), interval: poll, step: c.Step})
	}
	tasks = append(tasks,
		task{name: k.Bridge.Name(), interval: poll, step: k.bridgeStep()},
		task{name: k.Display.Name(), interval: render, step: k.Display.Step},
	)
	return tasks
}

// bridgeStep logs link write failures once per outage rather than every cycle.
func (k *Kernel) bridgeStep() func(ctx context.Context) {
	failing := false
	return func(ctx context.Context) {
		err := k.Bridge.Step(ctx)
		switch {
		case err != nil && !failing:
			k.logger.Error("serial link write failed", "err", err)
			failing = true
		case err == nil && failing:
			k.logger.Info("serial link writes recovered")
			failing = false
		}
	}
}

// Start launches every task, the inbound link reader and the stall reaper.
// Call Stop to shut them down.
func (k *Kernel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	k.Liveness.StartReaper(&liveness.ReaperConfig{
		StallThreshold: k.cfg.StallThreshold,
		OnStall: func(name string, lastBeat time.Time) {
			k.publish(ctx, events.TopicTaskStalled, events.TaskStalled{Task: name, LastBeat: lastBeat})
		},
		OnRecover: func(name string) {
			k.publish(ctx, events.TopicTaskRecovered, events.TaskRecovered{Task: name})
		},
	})

	for _, t := range k.tasks {
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			k.run(ctx, t)
		}()
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		if err := k.Bridge.ReadLoop(ctx); err != nil && ctx.Err() == nil {
			k.logger.Error("serial link read loop ended", "err", err)
		}
	}()

	k.logger.Info("kernel started",
		"tasks", len(k.tasks),
		"poll_interval", k.cfg.PollInterval,
		"render_interval", k.cfg.RenderInterval,
		"claim_queue", cap(k.claims))
}

// Stop cancels every task and waits for them to return. A link that is an
// io.Closer is closed to unblock the reader.
func (k *Kernel) Stop() {
	if k.cancel != nil {
		k.cancel()
	}
	if c, ok := k.cfg.Link.(io.Closer); ok {
		if err := c.Close(); err != nil {
			k.logger.Warn("closing serial link", "err", err)
		}
	}
	k.wg.Wait()
	k.Liveness.Stop()
}

func (k *Kernel) run(ctx context.Context, t task) {
	// Run once immediately so every mailbox has a value before the first tick.
	t.step(ctx)
	k.Liveness.Beat(t.name)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.step(ctx)
			k.Liveness.Beat(t.name)
		}
	}
}

func (k *Kernel) publish(ctx context.Context, topic string, event any) {
	if err := k.cfg.Publisher.Publish(ctx, topic, event); err != nil {
		k.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

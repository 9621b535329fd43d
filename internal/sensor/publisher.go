// Package sensor polls every physical input once per cycle and publishes
// the readings as immutable snapshots.
package sensor

import (
	"log/slog"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/hw"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Publisher is the only writer of the slot, gate-sensor and scan mailboxes.
type Publisher struct {
	board  hw.Board
	logger *slog.Logger
	now    func() time.Time

	slots *mailbox.Mailbox[model.SlotSnapshot]
	gates *mailbox.Mailbox[model.GateSensorSnapshot]
	scans *mailbox.Mailbox[model.ScanEvent]

	scanSeq uint64
}

// NewPublisher returns a publisher reading from board.
func NewPublisher(board hw.Board, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		board:  board,
		logger: logger,
		now:    time.Now,
		slots:  mailbox.New[model.SlotSnapshot](),
		gates:  mailbox.New[model.GateSensorSnapshot](),
		scans:  mailbox.New[model.ScanEvent](),
	}
}

// Slots is the latest slot occupancy.
func (p *Publisher) Slots() *mailbox.Mailbox[model.SlotSnapshot] { return p.slots }

// GateSensors is the latest presence and switch readings of both gates.
func (p *Publisher) GateSensors() *mailbox.Mailbox[model.GateSensorSnapshot] { return p.gates }

// Scans holds the most recent fresh tap. It is only ever peeked; consumers
// track which Seq they have already handled.
func (p *Publisher) Scans() *mailbox.Mailbox[model.ScanEvent] { return p.scans }

// Name identifies the task.
func (p *Publisher) Name() string { return "sensors" }

// Step polls all sensors once.
func (p *Publisher) Step() {
	p.slots.Publish(ReadSlots(p.board.Presence))
	p.gates.Publish(ReadGates(p.board))

	if p.board.Reader != nil {
		if idx, ok := p.board.Reader.PollForScan(); ok {
			p.scanSeq++
			p.scans.Publish(model.ScanEvent{CardIndex: idx, Seq: p.scanSeq, At: p.now()})
			p.logger.Debug("card read", "card_index", idx, "seq", p.scanSeq)
		}
	}

	if p.board.Light != nil && p.board.Lamp != nil {
		p.board.Lamp.Set(p.board.Light.IsDark())
	}
}

// ReadSlots samples every slot sensor into one snapshot.
func ReadSlots(p hw.PresenceArray) model.SlotSnapshot {
	n := p.SlotCount()
	if n > model.MaxSlots {
		n = model.MaxSlots
	}
	var bits uint64
	for i := 0; i < n; i++ {
		if p.IsSlotOccupied(i) {
			bits |= 1 << uint(i)
		}
	}
	return model.SlotSnapshotFromBits(bits, n)
}

// ReadGates samples both gates' presence sensors and switch levels.
func ReadGates(b hw.Board) model.GateSensorSnapshot {
	var s model.GateSensorSnapshot
	for _, g := range model.Gates {
		level := false
		if sw, ok := b.Switches[g]; ok && sw != nil {
			level = sw.Level()
		}
		s = s.With(g, hw.Front(b.Presence, g), hw.Back(b.Presence, g), level)
	}
	return s
}

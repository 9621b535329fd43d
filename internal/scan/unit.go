// Package scan decides which gate, if any, may claim the card most recently
// read by the shared RFID reader.
//
// The reader sits between both gates. Each cycle the Unit looks at the front
// presence sensors and per-gate eligibility, then either claims the pending
// scan for one gate, discards it, or leaves it pending. A gate stays claimed
// from the moment a claim is issued (or a grant is observed) until both of
// its presence sensors read false, so a grant can never be applied to a car
// that arrived after the one that tapped.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/idgen"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Action is what Decide wants done with a pending scan.
type Action int

const (
	// Hold leaves the scan pending for a later cycle.
	Hold Action = iota
	// Discard drops the scan without effect.
	Discard
	// Claim hands the scan to Decision.Gate.
	Claim
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Discard:
		return "discard"
	case Claim:
		return "claim"
	}
	return "unknown"
}

// Decision is the result of Decide.
type Decision struct {
	Action Action
	Gate   model.GateID
}

// Eligibility records which gates may receive the next claim.
type Eligibility struct {
	Entry bool `json:"entry"`
	Exit  bool `json:"exit"`
}

// Of returns the eligibility of gate g.
func (e Eligibility) Of(g model.GateID) bool {
	if g == model.GateExit {
		return e.Exit
	}
	return e.Entry
}

// Decide arbitrates one pending scan.
//
// With a single front sensor active, that gate is the candidate. With both
// active the exit gate wins unless only the entry gate is eligible. With none
// active the scan is held, unless the lot is full, in which case it is
// dropped. Unit bounds a hold to its HoldLimit. An entry candidate is
// dropped while the lot has no free slot.
func Decide(sensors model.GateSensorSnapshot, slots model.SlotSnapshot, e Eligibility) Decision {
	entryFront := sensors.Front(model.GateEntry)
	exitFront := sensors.Front(model.GateExit)

	var candidate model.GateID
	switch {
	case entryFront && exitFront:
		switch {
		case e.Exit:
			candidate = model.GateExit
		case e.Entry:
			candidate = model.GateEntry
		default:
			return Decision{Action: Discard}
		}
	case entryFront:
		if !e.Entry {
			return Decision{Action: Discard}
		}
		candidate = model.GateEntry
	case exitFront:
		if !e.Exit {
			return Decision{Action: Discard}
		}
		candidate = model.GateExit
	default:
		if !slots.HasFreeSlot() {
			return Decision{Action: Discard}
		}
		return Decision{Action: Hold}
	}

	if candidate == model.GateEntry && !slots.HasFreeSlot() {
		return Decision{Action: Discard}
	}
	return Decision{Action: Claim, Gate: candidate}
}

// ScanningRequester is told when a claim has gone out so it can show a
// scanning indicator.
type ScanningRequester interface {
	RequestScanning()
}

// Outcome summarizes one Step.
type Outcome int

const (
	OutcomeIdle Outcome = iota // no unhandled scan
	OutcomeHeld
	OutcomeDiscarded
	OutcomeClaimed
	OutcomeDropped // claim queue stayed full
)

// Config wires a Unit to its inputs and outputs.
type Config struct {
	Slots   *mailbox.Mailbox[model.SlotSnapshot]
	Sensors *mailbox.Mailbox[model.GateSensorSnapshot]
	Scans   *mailbox.Mailbox[model.ScanEvent]

	// Grants are signalled when an authorization grant arrives for a gate.
	Grants map[model.GateID]*mailbox.Latch

	// Claims is the bounded outbound claim queue.
	Claims chan<- model.GateClaim

	// SendTimeout bounds how long Step waits on a full claim queue.
	SendTimeout time.Duration

	// HoldLimit is how long a scan read with no car at either gate stays
	// pending. Older scans are discarded so a later car cannot inherit them.
	// Zero means DefaultHoldLimit.
	HoldLimit time.Duration

	Display   ScanningRequester
	Publisher events.Publisher
	Logger    *slog.Logger
}

// DefaultHoldLimit is one default poll interval.
const DefaultHoldLimit = 20 * time.Millisecond

// Unit is the scan decision task.
type Unit struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	handledSeq uint64

	mu      sync.Mutex
	claimed map[model.GateID]bool

	claimsIssued  atomic.Uint64
	claimsDropped atomic.Uint64
}

// NewUnit returns a Unit with both gates eligible.
func NewUnit(cfg Config) *Unit {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.HoldLimit <= 0 {
		cfg.HoldLimit = DefaultHoldLimit
	}
	return &Unit{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		claimed: make(map[model.GateID]bool),
	}
}

// Name identifies the task.
func (u *Unit) Name() string { return "scan" }

// Eligibility returns the current per-gate eligibility.
func (u *Unit) Eligibility() Eligibility {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Eligibility{Entry: !u.claimed[model.GateEntry], Exit: !u.claimed[model.GateExit]}
}

// ClaimsIssued reports how many claims reached the queue.
func (u *Unit) ClaimsIssued() uint64 { return u.claimsIssued.Load() }

// ClaimsDropped reports how many claims were lost to a full queue.
func (u *Unit) ClaimsDropped() uint64 { return u.claimsDropped.Load() }

// Step runs one arbitration cycle.
func (u *Unit) Step(ctx context.Context) Outcome {
	sensors, _ := u.cfg.Sensors.Peek()
	slots, _ := u.cfg.Slots.Peek()

	u.updateEligibility(sensors)

	ev, ok := u.cfg.Scans.Peek()
	if !ok || ev.Seq <= u.handledSeq {
		return OutcomeIdle
	}

	d := Decide(sensors, slots, u.Eligibility())
	switch d.Action {
	case Hold:
		if u.now().Sub(ev.At) <= u.cfg.HoldLimit {
			return OutcomeHeld
		}
		u.handledSeq = ev.Seq
		u.logger.Debug("stale scan discarded", "card_index", ev.CardIndex, "seq", ev.Seq, "age", u.now().Sub(ev.At))
		return OutcomeDiscarded
	case Discard:
		u.handledSeq = ev.Seq
		u.logger.Debug("scan discarded", "card_index", ev.CardIndex, "seq", ev.Seq)
		return OutcomeDiscarded
	}

	u.handledSeq = ev.Seq
	id, err := idgen.Generate()
	if err != nil {
		u.logger.Warn("claim id generation failed", "err", err)
	}
	claim := model.GateClaim{ID: id, Gate: d.Gate, CardIndex: ev.CardIndex, At: u.now()}

	u.setClaimed(d.Gate, true)
	if !u.send(ctx, claim) {
		u.setClaimed(d.Gate, false)
		u.claimsDropped.Add(1)
		u.logger.Error("claim queue full, claim dropped",
			"claim_id", claim.ID, "gate", claim.Gate, "card_index", claim.CardIndex)
		if err := u.cfg.Publisher.Publish(ctx, events.TopicClaimDropped, events.ClaimDropped{Claim: claim}); err != nil {
			u.logger.Warn("failed to publish claim drop", "error", err)
		}
		return OutcomeDropped
	}
	u.claimsIssued.Add(1)
	u.logger.Info("scan claimed", "claim_id", claim.ID, "gate", claim.Gate, "card_index", claim.CardIndex)

	if u.cfg.Display != nil {
		u.cfg.Display.RequestScanning()
	}
	return OutcomeClaimed
}

// updateEligibility applies grants first and sensor clearing second, so a
// gate whose sensors are already clear becomes eligible in the same cycle.
func (u *Unit) updateEligibility(sensors model.GateSensorSnapshot) {
	for _, g := range model.Gates {
		if l := u.cfg.Grants[g]; l != nil && l.TryConsume() {
			u.setClaimed(g, true)
		}
		if sensors.Clear(g) {
			u.setClaimed(g, false)
		}
	}
}

func (u *Unit) setClaimed(g model.GateID, v bool) {
	u.mu.Lock()
	u.claimed[g] = v
	u.mu.Unlock()
}

func (u *Unit) send(ctx context.Context, c model.GateClaim) bool {
	select {
	case u.cfg.Claims <- c:
		return true
	default:
	}
	if u.cfg.SendTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(u.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case u.cfg.Claims <- c:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

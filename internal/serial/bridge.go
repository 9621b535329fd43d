package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// ResultSink receives authorization results and user names for display.
type ResultSink interface {
	ShowResult(r model.AuthResult)
	SetUser(name string)
}

// Targets are the kernel inputs an inbound result updates.
type Targets struct {
	// Grants feed the scan unit's eligibility.
	Grants map[model.GateID]*mailbox.Latch
	// Auth feed the gate controllers.
	Auth    map[model.GateID]*mailbox.Latch
	Display ResultSink
}

// Config wires a Bridge.
type Config struct {
	Link        io.ReadWriter
	Claims      <-chan model.GateClaim
	Slots       *mailbox.Mailbox[model.SlotSnapshot]
	Credentials model.CredentialTable
	Targets     Targets
	Publisher   events.Publisher
	Logger      *slog.Logger
}

// Bridge is the kernel end of the serial link. Step writes outbound lines;
// ReadLoop routes inbound lines.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	// last STATE written; owned by Step
	lastState model.SlotSnapshot
	stateSent bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts link traffic.
type Stats struct {
	CardsSent    uint64 `json:"cards_sent"`
	StatesSent   uint64 `json:"states_sent"`
	LinesRead    uint64 `json:"lines_read"`
	LinesIgnored uint64 `json:"lines_ignored"`
}

// NewBridge returns a bridge over cfg.Link.
func NewBridge(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	return &Bridge{cfg: cfg, logger: logger}
}

// Name identifies the task.
func (b *Bridge) Name() string { return "serial" }

// Stats returns a copy of the traffic counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Bridge) count(f func(*Stats)) {
	b.statsMu.Lock()
	f(&b.stats)
	b.statsMu.Unlock()
}

// Step drains every queued claim to the link, then sends STATE if the
// occupancy changed since the last one sent. It never blocks on the queue.
func (b *Bridge) Step(ctx context.Context) error {
	for {
		select {
		case c := <-b.cfg.Claims:
			if err := b.SendClaim(ctx, c); err != nil {
				return err
			}
		default:
			_, err := b.SyncState(ctx)
			return err
		}
	}
}

// SendClaim writes the CARD line for claim c.
func (b *Bridge) SendClaim(ctx context.Context, c model.GateClaim) error {
	cred, ok := b.cfg.Credentials.Lookup(c.CardIndex)
	if !ok {
		b.logger.Warn("claim for unknown card index", "claim_id", c.ID, "card_index", c.CardIndex)
		return nil
	}
	if err := b.writeLine(FormatCard(c.Gate, cred.UID)); err != nil {
		return fmt.Errorf("sending card: %w", err)
	}
	b.count(func(s *Stats) { s.CardsSent++ })
	b.logger.Info("card sent", "claim_id", c.ID, "gate", c.Gate, "card", cred.UID)
	b.publish(ctx, events.TopicGateClaimed, events.GateClaimed{Claim: c, Card: cred.UID})
	return nil
}

// SyncState sends STATE when the latest occupancy differs from the last one
// sent. The first snapshot is always sent. It reports whether a line went out.
func (b *Bridge) SyncState(ctx context.Context) (bool, error) {
	s, ok := b.cfg.Slots.Peek()
	if !ok || (b.stateSent && s.Equal(b.lastState)) {
		return false, nil
	}
	line := FormatState(s)
	if err := b.writeLine(line); err != nil {
		return false, fmt.Errorf("sending state: %w", err)
	}
	b.lastState = s
	b.stateSent = true
	b.count(func(st *Stats) { st.StatesSent++ })
	b.logger.Debug("state sent", "state", line)
	b.publish(ctx, events.TopicSlotsChanged, events.SlotsChanged{Slots: s, Wire: StateCSV(s)})
	return true, nil
}

// ReadLoop reads inbound lines until the link fails or ctx is done. Close
// the link to unblock a pending read.
func (b *Bridge) ReadLoop(ctx context.Context) error {
	sc := bufio.NewScanner(b.cfg.Link)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.HandleLine(ctx, sc.Text()); err != nil {
			b.count(func(s *Stats) { s.LinesIgnored++ })
			b.logger.Debug("inbound line ignored", "err", err)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading link: %w", err)
	}
	return ctx.Err()
}

// HandleLine routes one inbound line. Lines that fail to parse, or carry an
// outbound-only label, change nothing and return an error.
func (b *Bridge) HandleLine(ctx context.Context, line string) error {
	b.count(func(s *Stats) { s.LinesRead++ })
	m, err := ParseLine(line)
	if err != nil {
		return err
	}
	switch m.Label {
	case LabelUser:
		name := truncateUser(m.Value)
		if b.cfg.Targets.Display != nil {
			b.cfg.Targets.Display.SetUser(name)
		}
		b.publish(ctx, events.TopicUserNamed, events.UserNamed{Name: name})
		return nil
	case LabelResult:
		r, err := ParseResult(m.Value)
		if err != nil {
			return err
		}
		b.applyResult(ctx, r)
		return nil
	}
	return fmt.Errorf("%w: %s is outbound only", ErrUnknownLabel, m.Label)
}

func (b *Bridge) applyResult(ctx context.Context, r model.AuthResult) {
	g, _ := r.Gate()
	if r.Granted() {
		if l := b.cfg.Targets.Grants[g]; l != nil {
			l.Signal()
		}
		if l := b.cfg.Targets.Auth[g]; l != nil {
			l.Signal()
		}
	}
	if b.cfg.Targets.Display != nil {
		b.cfg.Targets.Display.ShowResult(r)
	}
	b.logger.Info("authorization result", "result", r, "gate", g)
	b.publish(ctx, events.TopicAuthResult, events.AuthResult{Result: r, Gate: g})
}

func (b *Bridge) writeLine(line string) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := io.WriteString(b.cfg.Link, line+"\n")
	return err
}

func (b *Bridge) publish(ctx context.Context, topic string, event any) {
	if err := b.cfg.Publisher.Publish(ctx, topic, event); err != nil {
		b.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

package serial

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// fakeLink reads from a fixed script and records writes.
type fakeLink struct {
	in  *strings.Reader
	mu  sync.Mutex
	out bytes.Buffer
}

func newFakeLink(script string) *fakeLink { return &fakeLink{in: strings.NewReader(script)} }

func (l *fakeLink) Read(p []byte) (int, error) { return l.in.Read(p) }

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

func (l *fakeLink) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := strings.TrimSuffix(l.out.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type fakeSink struct {
	results []model.AuthResult
	users   []string
}

func (f *fakeSink) ShowResult(r model.AuthResult) { f.results = append(f.results, r) }
func (f *fakeSink) SetUser(name string)           { f.users = append(f.users, name) }

type bridgeRig struct {
	link   *fakeLink
	claims chan model.GateClaim
	slots  *mailbox.Mailbox[model.SlotSnapshot]
	grants map[model.GateID]*mailbox.Latch
	auth   map[model.GateID]*mailbox.Latch
	sink   *fakeSink
	rec    *events.Recorder
	bridge *Bridge
}

func newBridgeRig(script string) *bridgeRig {
	r := &bridgeRig{
		link:   newFakeLink(script),
		claims: make(chan model.GateClaim, 4),
		slots:  mailbox.New[model.SlotSnapshot](),
		grants: map[model.GateID]*mailbox.Latch{model.GateEntry: {}, model.GateExit: {}},
		auth:   map[model.GateID]*mailbox.Latch{model.GateEntry: {}, model.GateExit: {}},
		sink:   &fakeSink{},
		rec:    &events.Recorder{},
	}
	r.bridge = NewBridge(Config{
		Link:        r.link,
		Claims:      r.claims,
		Slots:       r.slots,
		Credentials: model.DefaultCredentials,
		Targets:     Targets{Grants: r.grants, Auth: r.auth, Display: r.sink},
		Publisher:   r.rec,
	})
	return r
}

func TestBridge_StateSentOnlyOnChange(t *testing.T) {
	r := newBridgeRig("")
	ctx := context.Background()

	// Nothing published yet: nothing sent.
	if sent, _ := r.bridge.SyncState(ctx); sent {
		t.Fatal("STATE sent before any snapshot")
	}

	s := model.NewSlotSnapshot([]bool{true, false, true, false, false, false})
	r.slots.Publish(s)
	if sent, err := r.bridge.SyncState(ctx); !sent || err != nil {
		t.Fatalf("first snapshot: sent=%v err=%v", sent, err)
	}
	r.slots.Publish(model.NewSlotSnapshot([]bool{true, false, true, false, false, false}))
	if sent, _ := r.bridge.SyncState(ctx); sent {
		t.Error("identical snapshot re-sent")
	}
	r.slots.Publish(model.NewSlotSnapshot([]bool{true, false, true, false, false, true}))
	if sent, _ := r.bridge.SyncState(ctx); !sent {
		t.Error("changed snapshot not sent")
	}

	want := []string{"STATE:0,0,0,1,0,1", "STATE:1,0,0,1,0,1"}
	if got := r.link.lines(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if got := len(r.rec.Topic(events.TopicSlotsChanged)); got != 2 {
		t.Errorf("slots events = %d, want 2", got)
	}
}

func TestBridge_EmptyLotStillSendsFirstState(t *testing.T) {
	r := newBridgeRig("")
	r.slots.Publish(model.NewSlotSnapshot(make([]bool, 6)))
	if err := r.bridge.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.link.lines(); len(got) != 1 || got[0] != "STATE:0,0,0,0,0,0" {
		t.Errorf("lines = %v", got)
	}
}

func TestBridge_StepDrainsClaimsInOrder(t *testing.T) {
	r := newBridgeRig("")
	r.claims <- model.GateClaim{ID: "clm-a", Gate: model.GateEntry, CardIndex: 2}
	r.claims <- model.GateClaim{ID: "clm-b", Gate: model.GateExit, CardIndex: 0}
	r.claims <- model.GateClaim{ID: "clm-c", Gate: model.GateExit, CardIndex: 42}

	if err := r.bridge.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := []string{"CARD:R:E3-9A-66-10", "CARD:L:6D-E2-D7-21"}
	if got := r.link.lines(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if len(r.claims) != 0 {
		t.Errorf("claims left in queue: %d", len(r.claims))
	}
	if st := r.bridge.Stats(); st.CardsSent != 2 {
		t.Errorf("CardsSent = %d, want 2", st.CardsSent)
	}
	claimed := r.rec.Topic(events.TopicGateClaimed)
	if len(claimed) != 2 || claimed[0].(events.GateClaimed).Claim.ID != "clm-a" {
		t.Errorf("claimed events = %v", claimed)
	}
}

func TestBridge_GrantSignalsLatchesAndDisplay(t *testing.T) {
	r := newBridgeRig("")
	ctx := context.Background()

	if err := r.bridge.HandleLine(ctx, "USER:Alice"); err != nil {
		t.Fatal(err)
	}
	if err := r.bridge.HandleLine(ctx, "CHECKING-RESULT:1"); err != nil {
		t.Fatal(err)
	}

	if !r.grants[model.GateEntry].TryConsume() || !r.auth[model.GateEntry].TryConsume() {
		t.Error("entry latches not signalled")
	}
	if r.grants[model.GateExit].IsSet() || r.auth[model.GateExit].IsSet() {
		t.Error("exit latches signalled for an entry grant")
	}
	if len(r.sink.users) != 1 || r.sink.users[0] != "Alice" {
		t.Errorf("users = %v", r.sink.users)
	}
	if len(r.sink.results) != 1 || r.sink.results[0] != model.AuthEntryGranted {
		t.Errorf("results = %v", r.sink.results)
	}
}

func TestBridge_NonGrantsOnlyReachDisplay(t *testing.T) {
	for _, code := range []string{"0", "2", "3", "5"} {
		t.Run(code, func(t *testing.T) {
			r := newBridgeRig("")
			if err := r.bridge.HandleLine(context.Background(), "CHECKING-RESULT:"+code); err != nil {
				t.Fatal(err)
			}
			for _, g := range model.Gates {
				if r.grants[g].IsSet() || r.auth[g].IsSet() {
					t.Errorf("latch for %s signalled on code %s", g, code)
				}
			}
			if len(r.sink.results) != 1 {
				t.Errorf("display results = %v", r.sink.results)
			}
		})
	}
}

func TestBridge_ReadLoopIgnoresGarbage(t *testing.T) {
	script := strings.Join([]string{
		"garbage",
		"PING:1",
		"STATE:1,0",
		"CHECKING-RESULT:9",
		"USER:Bob",
		"CHECKING-RESULT:4",
		"",
	}, "\n")
	r := newBridgeRig(script)

	done := make(chan error, 1)
	go func() { done <- r.bridge.ReadLoop(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ReadLoop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop did not finish at EOF")
	}

	st := r.bridge.Stats()
	if st.LinesRead != 6 || st.LinesIgnored != 4 {
		t.Errorf("stats = %+v, want 6 read / 4 ignored", st)
	}
	if !r.auth[model.GateExit].IsSet() {
		t.Error("exit grant not delivered")
	}
	if len(r.sink.users) != 1 || r.sink.users[0] != "Bob" {
		t.Errorf("users = %v", r.sink.users)
	}
}

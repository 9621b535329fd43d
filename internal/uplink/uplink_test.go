package uplink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

// recordingHandler captures the last request and returns a canned response.
type recordingHandler struct {
	mu          sync.Mutex
	method      string
	path        string
	query       string
	body        string
	contentType string
	pings       int

	statusCode   int
	responseBody string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.URL.Path == PathHealth {
		h.pings++
		w.WriteHeader(http.StatusOK)
		return
	}
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	data, _ := io.ReadAll(r.Body)
	h.body = string(data)

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	}
	_, _ = w.Write([]byte(h.responseBody))
}

func (h *recordingHandler) pingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings
}

func newTestBridge(t *testing.T, h http.Handler) (*Bridge, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	link := &bytes.Buffer{}
	return New(Config{Link: link, ServiceURL: srv.URL + "/"}), link
}

var card3 = model.UID{0xE3, 0x9A, 0x66, 0x10}

func TestCheckCard_Granted(t *testing.T) {
	h := &recordingHandler{responseBody: `{"message":"success","info":"Alice Nguyen Long"}`}
	b, link := newTestBridge(t, h)

	if err := b.CheckCard(context.Background(), model.GateEntry, card3); err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodGet || h.path != PathLinkedCard {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.query != "card_id=E3-9A-66-10&gate_pos=R" {
		t.Errorf("query = %q", h.query)
	}
	if got, want := link.String(), "USER:Alice Nguyen L\nCHECKING-RESULT:1\n"; got != want {
		t.Errorf("link = %q, want %q", got, want)
	}
	if st := b.Stats(); st.Cards != 1 || st.Granted != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCheckCard_Denials(t *testing.T) {
	tests := []struct {
		name   string
		gate   model.GateID
		status int
		want   string
	}{
		{"entry not found", model.GateEntry, http.StatusNotFound, "CHECKING-RESULT:0\n"},
		{"exit unprocessable", model.GateExit, http.StatusUnprocessableEntity, "CHECKING-RESULT:3\n"},
		{"exit forbidden", model.GateExit, http.StatusForbidden, "CHECKING-RESULT:3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{statusCode: tt.status, responseBody: `{"message":"no"}`}
			b, link := newTestBridge(t, h)
			if err := b.CheckCard(context.Background(), tt.gate, card3); err != nil {
				t.Fatal(err)
			}
			if link.String() != tt.want {
				t.Errorf("link = %q, want %q", link.String(), tt.want)
			}
			if strings.Contains(link.String(), "USER:") {
				t.Error("denial carried a user line")
			}
		})
	}
}

func TestCheckCard_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	link := &bytes.Buffer{}
	b := New(Config{Link: link, ServiceURL: srv.URL})
	b.ready.Store(true)

	if err := b.CheckCard(context.Background(), model.GateExit, card3); err != nil {
		t.Fatal(err)
	}
	if link.String() != "CHECKING-RESULT:5\n" {
		t.Errorf("link = %q", link.String())
	}
	if b.Ready() {
		t.Error("transport failure should clear readiness")
	}
}

func TestCheckCard_UnreadableGrant(t *testing.T) {
	b, link := newTestBridge(t, &recordingHandler{responseBody: `not json`})
	if err := b.CheckCard(context.Background(), model.GateEntry, card3); err != nil {
		t.Fatal(err)
	}
	if link.String() != "CHECKING-RESULT:5\n" {
		t.Errorf("link = %q", link.String())
	}
}

func TestPushState(t *testing.T) {
	h := &recordingHandler{statusCode: http.StatusNoContent}
	b, link := newTestBridge(t, h)

	if err := b.HandleLine(context.Background(), "STATE:0,0,0,1,0,1\r"); err != nil {
		t.Fatal(err)
	}
	if h.method != http.MethodPut || h.path != PathParkingSlots {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("content type = %q", h.contentType)
	}
	if h.body != `{"states":"0,0,0,1,0,1"}` {
		t.Errorf("body = %s", h.body)
	}
	if link.Len() != 0 {
		t.Errorf("state push wrote to the link: %q", link.String())
	}
}

func TestHandleLine_RejectsInboundLabels(t *testing.T) {
	b, _ := newTestBridge(t, &recordingHandler{})
	for _, line := range []string{"USER:Alice", "CHECKING-RESULT:1"} {
		if err := b.HandleLine(context.Background(), line); !errors.Is(err, serial.ErrUnknownLabel) {
			t.Errorf("%s: err = %v, want ErrUnknownLabel", line, err)
		}
	}
	if err := b.HandleLine(context.Background(), "CARD:X:00"); !errors.Is(err, serial.ErrMalformed) {
		t.Errorf("bad card: err = %v, want ErrMalformed", err)
	}
}

func TestPingOnce_ResetsAfterMaxFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	b := New(Config{Link: &bytes.Buffer{}, ServiceURL: srv.URL})

	for i := 1; i < MaxFailedPings; i++ {
		b.pingOnce(context.Background())
		if b.failedPings != i {
			t.Fatalf("after %d failures counter = %d", i, b.failedPings)
		}
	}
	b.pingOnce(context.Background())
	if b.failedPings != 0 {
		t.Errorf("counter = %d after reaching the limit, want reset", b.failedPings)
	}
	if b.Ready() {
		t.Error("unreachable service reported ready")
	}
	if st := b.Stats(); st.PingErrors != MaxFailedPings {
		t.Errorf("ping errors = %d", st.PingErrors)
	}
}

func TestPing_AnyStatusIsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	b := New(Config{Link: &bytes.Buffer{}, ServiceURL: srv.URL})
	b.pingOnce(context.Background())
	if !b.Ready() {
		t.Error("a service that answers should be ready")
	}
}

func TestRun_RelaysOverLink(t *testing.T) {
	h := &recordingHandler{responseBody: `{"info":"Bob"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	kernelEnd, bridgeEnd := serial.Pipe()
	defer kernelEnd.Close()
	b := New(Config{Link: bridgeEnd, ServiceURL: srv.URL, PingInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	go func() { _, _ = io.WriteString(kernelEnd, "CARD:L:E3-9A-66-10\n") }()
	rd := bufio.NewReader(kernelEnd)
	for _, want := range []string{"USER:Bob\n", "CHECKING-RESULT:4\n"} {
		got, err := rd.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("line = %q, want %q", got, want)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for !b.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never became ready")
		}
		time.Sleep(time.Millisecond)
	}
	if h.pingCount() == 0 {
		t.Error("no health pings")
	}

	cancel()
	bridgeEnd.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/hw/sim"
	"github.com/alfredjeanlab/lotgate/internal/kernel"
	"github.com/alfredjeanlab/lotgate/internal/liveness"
	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

type testServer struct {
	srv     *Server
	hub     *Hub
	board   *sim.Board
	kernel  *kernel.Kernel
	handler http.Handler
}

// newTestServer builds a server over a kernel on a simulated board. The far
// end of the serial link is drained and never answers.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	board := sim.New(6)
	board.SetSlots(true, false, true, false, false, false)

	local, remote := serial.Pipe()
	go func() { _, _ = io.Copy(io.Discard, remote) }()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	hub := NewHub()
	k, err := kernel.New(kernel.Config{
		Board:     board.HW(),
		Link:      local,
		Dwell:     3,
		Publisher: events.Multi(&events.NoopPublisher{}, hub),
	})
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	k.Cycle(context.Background())

	srv := New(Config{Kernel: k, Hub: hub, Board: board})
	return &testServer{srv: srv, hub: hub, board: board, kernel: k, handler: srv.NewHTTPHandler()}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// stallAll starts a reaper that stalls every task, since none of them beat.
func (ts *testServer) stallAll(t *testing.T) {
	t.Helper()
	ts.kernel.Liveness.StartReaper(&liveness.ReaperConfig{
		StallThreshold: time.Millisecond,
		SweepInterval:  time.Millisecond,
	})
	t.Cleanup(ts.kernel.Liveness.Stop)
	deadline := time.Now().Add(2 * time.Second)
	for ts.kernel.Liveness.Healthy() {
		if time.Now().After(deadline) {
			t.Fatal("tasks never stalled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusOK || len(resp.Stalled) != 0 {
		t.Errorf("health = %+v", resp)
	}

	ts.stallAll(t)
	rec = ts.get(t, "/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stalled status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusDegraded || len(resp.Stalled) != 6 {
		t.Errorf("stalled health = %+v", resp)
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get(t, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st kernel.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, rec.Body.String())
	}
	if st.Free != 4 || st.Slots.String() != "101000" {
		t.Errorf("slots = %s free = %d", st.Slots, st.Free)
	}
	if len(st.Gates) != 2 || st.Gates[1].Gate != model.GateExit || st.Gates[1].Barrier != model.BarrierClosed {
		t.Errorf("gates = %+v", st.Gates)
	}
	if st.Link.StatesSent != 1 {
		t.Errorf("states sent = %d", st.Link.StatesSent)
	}
}

func TestAuthTokenGuardsStatus(t *testing.T) {
	ts := newTestServer(t)
	handler := New(Config{Kernel: ts.kernel, AuthToken: "s3cret"}).NewHTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d", rec.Code)
	}
}

func TestSimSocketOnlyWithBoard(t *testing.T) {
	ts := newTestServer(t)
	handler := New(Config{Kernel: ts.kernel}).NewHTTPHandler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sim/ws", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("sim panel on real hardware = %d, want 404", rec.Code)
	}
}

func TestSimSocket_DrivesBoard(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/sim/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first SimMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "screen" || first.Screen == nil {
		t.Fatalf("first message = %+v, want current screen", first)
	}

	// Each command is answered; screens may arrive in between.
	expect := func(want SimMessage) {
		t.Helper()
		for {
			var msg SimMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatal(err)
			}
			if msg.Type == "screen" {
				continue
			}
			if msg.Type != want.Type || msg.Op != want.Op || (want.Error != "" && !strings.Contains(msg.Error, want.Error)) {
				t.Fatalf("reply = %+v, want %+v", msg, want)
			}
			return
		}
	}

	if err := conn.WriteJSON(sim.Command{Op: "slot", Index: 5, Value: true}); err != nil {
		t.Fatal(err)
	}
	expect(SimMessage{Type: "ack", Op: "slot"})
	if !ts.board.IsSlotOccupied(5) {
		t.Error("slot command not applied")
	}

	if err := conn.WriteJSON(sim.Command{Op: "presence", Gate: "side"}); err != nil {
		t.Fatal(err)
	}
	expect(SimMessage{Type: "error", Op: "presence", Error: "unknown gate"})

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	expect(SimMessage{Type: "error", Error: "invalid command"})

	// Display writes reach the panel.
	ts.board.PrintLine("Hi Alice !")
	for {
		var msg SimMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type == "screen" && msg.Screen.Line == "Hi Alice !" {
			break
		}
	}
}

func TestGRPCHealth(t *testing.T) {
	ts := newTestServer(t)
	grpcSrv := ts.srv.NewGRPCServer()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(lis) }()
	defer grpcSrv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %v", got)
	}
	if got := check(HealthServiceName("gate.entry")); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("gate.entry = %v", got)
	}

	ts.stallAll(t)
	ctx, cancel := context.WithCancel(context.Background())
	go ts.srv.SyncHealth(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for check("") != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("overall health never went NOT_SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := check(HealthServiceName("serial")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("serial = %v", got)
	}
}

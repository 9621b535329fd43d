package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/mailbox"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// pollInterval is the kernel's default cycle; one Step must fit inside it.
const pollInterval = 20 * time.Millisecond

func TestPipe_SlowRemoteDoesNotStallStep(t *testing.T) {
	kernelEnd, bridgeEnd := Pipe()
	defer kernelEnd.Close()
	defer bridgeEnd.Close()

	claims := make(chan model.GateClaim, 4)
	slots := mailbox.New[model.SlotSnapshot]()
	b := NewBridge(Config{
		Link:        kernelEnd,
		Claims:      claims,
		Slots:       slots,
		Credentials: model.DefaultCredentials,
	})

	// The remote takes one line, then stalls as if waiting on an HTTP call.
	got := make(chan string, 4)
	go func() {
		r := bufio.NewReader(bridgeEnd)
		for first := true; ; first = false {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			got <- line
			if first {
				time.Sleep(500 * time.Millisecond)
			}
		}
	}()

	ctx := context.Background()
	claims <- model.GateClaim{ID: "clm-a", Gate: model.GateEntry, CardIndex: 2}
	if err := b.Step(ctx); err != nil {
		t.Fatalf("first Step: %v", err)
	}
	select {
	case line := <-got:
		if line != "CARD:R:E3-9A-66-10\n" {
			t.Fatalf("first line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote never read the CARD line")
	}

	slots.Publish(model.NewSlotSnapshot([]bool{true, false, true, false, false, false}))
	start := time.Now()
	if err := b.Step(ctx); err != nil {
		t.Fatalf("second Step: %v", err)
	}
	if took := time.Since(start); took > pollInterval {
		t.Errorf("Step took %v while the remote was busy, want under %v", took, pollInterval)
	}

	select {
	case line := <-got:
		if line != "STATE:0,0,0,1,0,1\n" {
			t.Errorf("second line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("STATE line never delivered")
	}
}

func TestPipe_CloseEndsBothDirections(t *testing.T) {
	kernelEnd, bridgeEnd := Pipe()

	if _, err := io.WriteString(kernelEnd, "STATE:0,0\n"); err != nil {
		t.Fatal(err)
	}
	kernelEnd.Close()

	// Buffered bytes still arrive, then EOF.
	data, err := io.ReadAll(bridgeEnd)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "STATE:0,0\n" {
		t.Errorf("data = %q", data)
	}
	if _, err := bridgeEnd.Write([]byte("USER:x\n")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after peer close: err = %v, want ErrClosedPipe", err)
	}
}

func TestPipe_CloseUnblocksPendingRead(t *testing.T) {
	kernelEnd, bridgeEnd := Pipe()
	defer bridgeEnd.Close()

	done := make(chan error, 1)
	go func() {
		_, err := kernelEnd.Read(make([]byte, 8))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	kernelEnd.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("err = %v, want EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
}

func TestOpen_EmptyTarget(t *testing.T) {
	if _, err := Open(context.Background(), "", DefaultBaud); err == nil {
		t.Error("expected an error for an empty target")
	}
}

func TestOpen_MissingDevice(t *testing.T) {
	if _, err := Open(context.Background(), "/dev/lotgate-no-such-port", DefaultBaud); err == nil {
		t.Error("expected an error for a missing device")
	}
}

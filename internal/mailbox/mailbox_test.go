package mailbox

import (
	"sync"
	"testing"
)

func TestMailbox_EmptyByDefault(t *testing.T) {
	var m Mailbox[int]
	if _, ok := m.Peek(); ok {
		t.Fatal("Peek on empty mailbox returned ok")
	}
	if _, ok := m.TryTake(); ok {
		t.Fatal("TryTake on empty mailbox returned ok")
	}
}

func TestMailbox_LatestValueWins(t *testing.T) {
	m := New[string]()
	m.Publish("a")
	m.Publish("b")
	m.Publish("c")

	got, ok := m.Peek()
	if !ok || got != "c" {
		t.Fatalf("Peek = %q, %v; want %q, true", got, ok, "c")
	}
	if m.Overwrites() != 2 {
		t.Errorf("Overwrites = %d, want 2", m.Overwrites())
	}
}

func TestMailbox_PeekDoesNotConsume(t *testing.T) {
	m := New[int]()
	m.Publish(7)
	for i := 0; i < 3; i++ {
		if v, ok := m.Peek(); !ok || v != 7 {
			t.Fatalf("Peek #%d = %d, %v; want 7, true", i, v, ok)
		}
	}
}

func TestMailbox_TryTakeConsumes(t *testing.T) {
	m := New[int]()
	m.Publish(42)

	v, ok := m.TryTake()
	if !ok || v != 42 {
		t.Fatalf("TryTake = %d, %v; want 42, true", v, ok)
	}
	if _, ok := m.TryTake(); ok {
		t.Fatal("second TryTake returned ok")
	}
	if _, ok := m.Peek(); ok {
		t.Fatal("Peek after TryTake returned ok")
	}
}

func TestMailbox_TakenValueIsNotAnOverwrite(t *testing.T) {
	m := New[int]()
	m.Publish(1)
	m.TryTake()
	m.Publish(2)
	if m.Overwrites() != 0 {
		t.Errorf("Overwrites = %d, want 0", m.Overwrites())
	}
}

func TestMailbox_PeekSeqAdvancesOnPublish(t *testing.T) {
	m := New[int]()
	m.Publish(5)
	_, s1, _ := m.PeekSeq()
	_, s2, _ := m.PeekSeq()
	if s1 != s2 {
		t.Fatalf("seq changed without publish: %d -> %d", s1, s2)
	}
	m.Publish(5)
	_, s3, _ := m.PeekSeq()
	if s3 == s2 {
		t.Fatalf("seq did not advance on publish of identical value")
	}
}

func TestMailbox_ConcurrentPublishAndTake(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Publish(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.TryTake()
			m.Peek()
		}
	}()
	wg.Wait()
}

func TestLatch_SignalIsIdempotent(t *testing.T) {
	var l Latch
	l.Signal()
	l.Signal()
	if !l.TryConsume() {
		t.Fatal("TryConsume after Signal returned false")
	}
	if l.TryConsume() {
		t.Fatal("second TryConsume returned true")
	}
}

func TestLatch_IsSetDoesNotConsume(t *testing.T) {
	var l Latch
	if l.IsSet() {
		t.Fatal("zero latch reports set")
	}
	l.Signal()
	if !l.IsSet() || !l.IsSet() {
		t.Fatal("IsSet should stay true until consumed")
	}
	if !l.TryConsume() {
		t.Fatal("TryConsume returned false")
	}
}

func TestLatch_SingleConsumerWins(t *testing.T) {
	var l Latch
	l.Signal()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryConsume() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

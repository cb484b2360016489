package hub

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeInterrupter struct {
	mu     sync.Mutex
	called int
}

func (f *fakeInterrupter) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	f.called++
	f.mu.Unlock()
	return nil
}

func TestAttachDetach(t *testing.T) {
	h := NewHub()
	ep := h.Attach("p1")
	if h.EndpointCount("p1") != 1 {
		t.Fatalf("expected 1 endpoint, got %d", h.EndpointCount("p1"))
	}
	h.Detach("p1", ep)
	if h.EndpointCount("p1") != 0 {
		t.Fatalf("expected 0 endpoints, got %d", h.EndpointCount("p1"))
	}
	// double detach must not panic
	h.Detach("p1", ep)
}

func TestBroadcastReachesAllEndpoints(t *testing.T) {
	h := NewHub()
	a := h.Attach("p1")
	b := h.Attach("p1")
	other := h.Attach("p2")

	h.Broadcast("p1", []byte("hello"))

	for _, ep := range []*Endpoint{a, b} {
		select {
		case msg := <-ep.Send:
			if string(msg) != "hello" {
				t.Fatalf("unexpected payload: %s", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("endpoint did not receive broadcast")
		}
	}
	select {
	case msg := <-other.Send:
		t.Fatalf("unrelated conversation received %s", msg)
	default:
	}
}

func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	slow := &Endpoint{ID: "slow", Send: make(chan []byte, 1)}
	h.mu.Lock()
	h.get("p1").endpoints[slow.ID] = slow
	h.mu.Unlock()

	h.Broadcast("p1", []byte("one"))
	// buffer now full; this must not block
	done := make(chan struct{})
	go func() {
		h.Broadcast("p1", []byte("two"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on full endpoint buffer")
	}
}

func TestUpstreamSessionRoundTrip(t *testing.T) {
	h := NewHub()
	if got := h.UpstreamSession("p1"); got != "" {
		t.Fatalf("expected empty handle, got %q", got)
	}
	h.SetUpstreamSession("p1", "sess-abc")
	if got := h.UpstreamSession("p1"); got != "sess-abc" {
		t.Fatalf("expected sess-abc, got %q", got)
	}
	h.SetUpstreamSession("p1", "")
	if got := h.UpstreamSession("p1"); got != "" {
		t.Fatalf("expected cleared handle, got %q", got)
	}
}

func TestCancelOnlyWhenExecuting(t *testing.T) {
	h := NewHub()
	if exec := h.RequestCancel("p1"); exec != nil {
		t.Fatal("cancel with nothing in flight should return nil")
	}
	if h.CancelRequested("p1") {
		t.Fatal("cancel flag must not be set with nothing in flight")
	}

	fi := &fakeInterrupter{}
	if !h.BeginExecution("p1", fi) {
		t.Fatal("BeginExecution failed")
	}
	exec := h.RequestCancel("p1")
	if exec == nil {
		t.Fatal("expected interrupter while executing")
	}
	if !h.CancelRequested("p1") {
		t.Fatal("cancel flag should be set")
	}

	h.EndExecution("p1")
	if h.CancelRequested("p1") {
		t.Fatal("cancel flag must be cleared when execution ends")
	}
	if h.Executing("p1") {
		t.Fatal("executing should be false after EndExecution")
	}
}

func TestBeginExecutionRejectsConcurrent(t *testing.T) {
	h := NewHub()
	fi := &fakeInterrupter{}
	if !h.BeginExecution("p1", fi) {
		t.Fatal("first BeginExecution failed")
	}
	if h.BeginExecution("p1", fi) {
		t.Fatal("second BeginExecution should be rejected")
	}
	h.EndExecution("p1")
	if !h.BeginExecution("p1", fi) {
		t.Fatal("BeginExecution after EndExecution failed")
	}
}

func TestEnqueueRunsSerially(t *testing.T) {
	h := NewHub()
	var mu sync.Mutex
	order := []int{}
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		if !h.Enqueue("p1", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	wg.Wait()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("jobs did not run in order: %v", order)
	}
}

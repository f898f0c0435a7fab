package throttle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGuardInterval(t *testing.T) {
	clk := newClock()
	g := NewGuard(time.Second)
	g.now = clk.now

	if !g.Allow(1) {
		t.Fatal("first interaction must pass")
	}
	clk.advance(500 * time.Millisecond)
	if g.Allow(1) {
		t.Fatal("second interaction inside the interval must be rejected")
	}
	// The rejection did not move the window: 1s after the first accept passes.
	clk.advance(500 * time.Millisecond)
	if !g.Allow(1) {
		t.Fatal("interaction after the interval must pass")
	}
}

func TestGuardUsersAreIndependent(t *testing.T) {
	clk := newClock()
	g := NewGuard(time.Minute)
	g.now = clk.now

	if !g.Allow(1) || !g.Allow(2) {
		t.Fatal("different users must not share a window")
	}
	if g.Allow(1) {
		t.Fatal("user 1 is throttled")
	}
}

func TestGuardDisabled(t *testing.T) {
	g := NewGuard(0)
	for i := 0; i < 3; i++ {
		if !g.Allow(1) {
			t.Fatal("zero interval disables throttling")
		}
	}
}

func TestGuardPrune(t *testing.T) {
	clk := newClock()
	g := NewGuard(time.Second)
	g.now = clk.now

	g.Allow(1)
	clk.advance(2 * time.Hour)
	g.Allow(2)

	if n := g.Prune(time.Hour); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if g.Len() != 1 {
		t.Fatalf("tracked %d, want 1", g.Len())
	}
}

func TestCommandGateSingleFlight(t *testing.T) {
	gate := NewCommandGate(0)

	var executions atomic.Int32
	started := make(chan struct{})
	finish := make(chan struct{})

	release, err := gate.Acquire(1)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	go func() {
		defer release()
		executions.Add(1)
		close(started)
		<-finish
	}()
	<-started

	if _, err := gate.Acquire(1); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second acquire while running: %v", err)
	}
	if r, err := gate.Acquire(2); err != nil {
		t.Fatalf("other user must not be blocked: %v", err)
	} else {
		r()
	}

	close(finish)
	deadline := time.Now().Add(time.Second)
	for {
		r, err := gate.Acquire(1)
		if err == nil {
			r()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gate was not released: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if executions.Load() != 1 {
		t.Fatalf("executions = %d, want 1", executions.Load())
	}
}

func TestCommandGateInterval(t *testing.T) {
	clk := newClock()
	gate := NewCommandGate(10 * time.Second)
	gate.now = clk.now

	release, err := gate.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()

	clk.advance(5 * time.Second)
	if _, err := gate.Acquire(1); !errors.Is(err, ErrThrottled) {
		t.Fatalf("inside interval: %v", err)
	}
	clk.advance(5 * time.Second)
	if _, err := gate.Acquire(1); err != nil {
		t.Fatalf("after interval: %v", err)
	}
}

func TestCommandGateConcurrentAcquire(t *testing.T) {
	gate := NewCommandGate(time.Minute)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gate.Acquire(42); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if admitted.Load() != 1 {
		t.Fatalf("admitted %d requests, want exactly 1", admitted.Load())
	}
}

func TestCommandGatePruneSkipsInFlight(t *testing.T) {
	clk := newClock()
	gate := NewCommandGate(time.Second)
	gate.now = clk.now

	_, _ = gate.Acquire(1)
	r, _ := gate.Acquire(2)
	r()
	clk.advance(time.Hour)

	if n := gate.Prune(time.Minute); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
}

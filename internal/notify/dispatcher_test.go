package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dmvwatch/pkg/logx"
)

type countingChannel struct {
	name     string
	calls    atomic.Int32
	failures int32 // first N sends fail
}

func (c *countingChannel) Name() string     { return c.name }
func (c *countingChannel) Configured() bool { return true }

func (c *countingChannel) Send(ctx context.Context, ev Event) error {
	n := c.calls.Add(1)
	if n <= c.failures {
		return errors.New("transient")
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatcherDeliversQueuedSends(t *testing.T) {
	d := NewDispatcher(DispatchConfig{Workers: 2, QueueSize: 16, RatePerSec: 100}, logx.Nop())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	ch := &countingChannel{name: "fake"}
	for i := 0; i < 5; i++ {
		if err := d.Enqueue(ch, Event{Office: "Cary", Signature: "sig"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		sent, _, _ := d.Stats()
		return sent == 5
	})
	if got := ch.calls.Load(); got != 5 {
		t.Fatalf("channel saw %d sends, want 5", got)
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	d := NewDispatcher(DispatchConfig{
		Workers:    1,
		QueueSize:  4,
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  5 * time.Millisecond,
	}, logx.Nop())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	ch := &countingChannel{name: "flaky", failures: 2}
	if err := d.Enqueue(ch, Event{Office: "Cary"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		sent, _, _ := d.Stats()
		return sent == 1
	})
	if got := ch.calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts (2 failures + success), got %d", got)
	}
	if _, failed, _ := d.Stats(); failed != 0 {
		t.Fatalf("transient failure counted as permanent: %d", failed)
	}
}

func TestDispatcherCountsPermanentFailure(t *testing.T) {
	d := NewDispatcher(DispatchConfig{
		Workers:    1,
		QueueSize:  4,
		RatePerSec: 100,
		RetryMax:   1,
		RetryBase:  time.Millisecond,
	}, logx.Nop())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	ch := &countingChannel{name: "down", failures: 100}
	if err := d.Enqueue(ch, Event{Office: "Cary"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, failed, _ := d.Stats()
		return failed == 1
	})
	if got := ch.calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestEnqueueFailsWhenQueueFull(t *testing.T) {
	// No Start: nothing drains the queue.
	d := NewDispatcher(DispatchConfig{Workers: 1, QueueSize: 1, RatePerSec: 1}, logx.Nop())
	d.mu.Lock()
	d.queue = make(chan job, 1)
	d.accepting = true
	d.mu.Unlock()

	ch := &countingChannel{name: "fake"}
	if err := d.Enqueue(ch, Event{Office: "A"}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := d.Enqueue(ch, Event{Office: "B"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Enqueue = %v, want ErrQueueFull", err)
	}
	if _, _, dropped := d.Stats(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestEnqueueAfterStopReturnsErrStopped(t *testing.T) {
	d := NewDispatcher(DispatchConfig{Workers: 1, QueueSize: 4, RatePerSec: 100}, logx.Nop())
	d.Start(context.Background())
	d.Stop(context.Background())

	if err := d.Enqueue(&countingChannel{name: "fake"}, Event{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestStopDrainsPendingSends(t *testing.T) {
	d := NewDispatcher(DispatchConfig{Workers: 1, QueueSize: 16, RatePerSec: 1000}, logx.Nop())
	d.Start(context.Background())

	ch := &countingChannel{name: "fake"}
	for i := 0; i < 8; i++ {
		if err := d.Enqueue(ch, Event{Office: "Cary"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(stopCtx)

	sent, _, _ := d.Stats()
	if sent != 8 {
		t.Fatalf("Stop drained %d of 8 sends", sent)
	}
}

func TestShutdownAccountsForEveryQueuedSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(DispatchConfig{Workers: 1, QueueSize: 32, RatePerSec: 1}, logx.Nop())
	d.Start(ctx)

	ch := &countingChannel{name: "fake"}
	for i := 0; i < 10; i++ {
		if err := d.Enqueue(ch, Event{Office: "Cary"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	cancel()
	d.Stop(context.Background())

	sent, failed, dropped := d.Stats()
	if total := sent + failed + dropped; total != 10 {
		t.Fatalf("sent=%d failed=%d dropped=%d, total %d of 10 enqueued unaccounted", sent, failed, dropped, total)
	}
	if dropped == 0 {
		t.Fatal("cancelled backlog should surface as dropped, not disappear")
	}
}

func TestEnqueueConcurrentWithStopIsSafe(t *testing.T) {
	d := NewDispatcher(DispatchConfig{Workers: 1, QueueSize: 4, RatePerSec: 1000}, logx.Nop())
	d.Start(context.Background())

	ch := &countingChannel{name: "fake"}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := d.Enqueue(ch, Event{Office: "Cary"})
				if errors.Is(err, ErrStopped) {
					return
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	d.Stop(context.Background())
	wg.Wait()

	sent, _, dropped := d.Stats()
	if sent == 0 && dropped == 0 {
		t.Fatal("no send was ever processed")
	}
}

func TestRetryDelayBackoffAndCap(t *testing.T) {
	cfg := DispatchConfig{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
	// First attempt stays near the base (jitter 0.7..1.3).
	d := retryDelay(cfg, 1)
	if d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("attempt 1 delay %v outside jitter band", d)
	}
}

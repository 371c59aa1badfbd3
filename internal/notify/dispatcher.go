package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dmvwatch/internal/runtime/supervisor"
	"dmvwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

const sendTimeout = 15 * time.Second

// DispatchConfig controls the worker pool. Zero values get safe defaults.
type DispatchConfig struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c *DispatchConfig) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
}

type job struct {
	ch Channel
	ev Event
}

// Dispatcher is the async delivery pipeline: bounded queue + fixed worker
// pool + token-bucket rate limit + per-send retry with backoff.
//
// The scheduler's mark-seen decision happens before Enqueue; a failed or
// dropped send is logged but never mutates stored state, so the guarantee
// stays "at most once per TTL window" rather than exactly-once.
type Dispatcher struct {
	log     logx.Logger
	cfg     DispatchConfig
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     chan job
	sup       *supervisor.Supervisor
	accepting bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func NewDispatcher(cfg DispatchConfig, log logx.Logger) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return
	}

	d.queue = make(chan job, d.cfg.QueueSize)
	d.accepting = true
	d.sup = supervisor.New(ctx, supervisor.WithLogger(d.log))

	q := d.queue
	for i := 0; i < d.cfg.Workers; i++ {
		name := fmt.Sprintf("sender.%d", i)
		d.sup.Go(name, func(ctx context.Context) error {
			d.workerLoop(ctx, q)
			return nil
		})
	}
}

// Stop blocks new enqueues and drains the queue until ctx expires.
// Whatever the workers could not deliver is counted as dropped, so no
// queued send ever vanishes without a trace.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q := d.queue
	sup := d.sup
	if q == nil {
		d.mu.Unlock()
		return
	}
	d.accepting = false
	d.queue = nil
	d.sup = nil
	d.mu.Unlock()

	close(q)
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Timed out draining: force workers down.
		sup.Cancel()
	}
	for j := range q {
		d.dropJob(j, "undelivered at shutdown")
	}
}

// Enqueue schedules one send. Returns ErrQueueFull when the queue is
// saturated (the event is dropped and counted, never blocks an iteration).
// The lock covers the queue send so a racing Stop cannot close the channel
// between the check and the send.
func (d *Dispatcher) Enqueue(ch Channel, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.accepting || d.queue == nil {
		return ErrStopped
	}
	select {
	case d.queue <- job{ch: ch, ev: ev}:
		return nil
	default:
		d.dropJob(job{ch: ch, ev: ev}, "queue full")
		return ErrQueueFull
	}
}

// Stats reports delivered / permanently-failed / dropped counts.
func (d *Dispatcher) Stats() (sent, failed, dropped uint64) {
	return d.sent.Load(), d.failed.Load(), d.dropped.Load()
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			d.abandon(q)
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			d.sendWithRetry(ctx, j)
		}
	}
}

// abandon empties whatever is queued at cancellation time so undelivered
// sends are counted instead of vanishing.
func (d *Dispatcher) abandon(q <-chan job) {
	for {
		select {
		case j, ok := <-q:
			if !ok {
				return
			}
			d.dropJob(j, "worker context cancelled")
		default:
			return
		}
	}
}

func (d *Dispatcher) dropJob(j job, reason string) {
	d.dropped.Add(1)
	d.log.Warn("notification dropped",
		logx.String("channel", j.ch.Name()),
		logx.String("office", j.ev.Office),
		logx.String("reason", reason))
}

// sendWithRetry is the per-send error boundary: every failure is logged
// with channel context and never propagates past the worker.
func (d *Dispatcher) sendWithRetry(ctx context.Context, j job) {
	maxAttempts := 1 + d.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			d.dropJob(j, "rate limiter interrupted")
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := j.ch.Send(callCtx, j.ev)
		cancel()
		if err == nil {
			d.sent.Add(1)
			d.log.Debug("notification sent",
				logx.String("channel", j.ch.Name()),
				logx.String("office", j.ev.Office),
				logx.Int("attempt", attempt))
			return
		}
		lastErr = err
		d.log.Debug("notification send failed",
			logx.String("channel", j.ch.Name()),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(d.cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			d.dropJob(j, "retry interrupted")
			return
		}
	}

	d.failed.Add(1)
	d.log.Error("notification delivery failed",
		logx.String("channel", j.ch.Name()),
		logx.String("office", j.ev.Office),
		logx.String("recipient", j.ev.Recipient),
		logx.Err(lastErr))
}

// retryDelay: exponential backoff with 0.7..1.3 jitter, capped.
func retryDelay(cfg DispatchConfig, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}

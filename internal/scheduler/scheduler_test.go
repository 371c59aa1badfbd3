package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/config"
	"dmvwatch/internal/notify"
	"dmvwatch/internal/state"
	"dmvwatch/internal/subscriptions"
	"dmvwatch/pkg/logx"
)

type fakeChecker struct {
	fn func(ctx context.Context, office checker.Office) (checker.Result, error)
}

func (f *fakeChecker) Check(ctx context.Context, office checker.Office) (checker.Result, error) {
	return f.fn(ctx, office)
}

type fakeChannel struct {
	name string
}

func (f *fakeChannel) Name() string                                 { return f.name }
func (f *fakeChannel) Configured() bool                             { return true }
func (f *fakeChannel) Send(ctx context.Context, ev notify.Event) error { return nil }

type recordedSend struct {
	channel   string
	office    string
	recipient string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sends []recordedSend
}

func (f *fakeDispatcher) Enqueue(ch notify.Channel, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, recordedSend{channel: ch.Name(), office: ev.Office, recipient: ev.Recipient})
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeDispatcher) byChannel() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, s := range f.sends {
		out[s.channel]++
	}
	return out
}

func testConfig(t *testing.T, offices ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	for _, name := range offices {
		cfg.Offices = append(cfg.Offices, config.OfficeConfig{Name: name})
	}
	cfg.Settings.CheckIntervalSeconds = 1
	cfg.Settings.MaxConcurrentChecks = 2
	cfg.Settings.StateTTLHours = 12
	return cfg
}

func newTestScheduler(t *testing.T, cfg *config.Config, chk checker.Checker, disp Dispatcher, enabled bool) (*Scheduler, *state.Store) {
	t.Helper()
	seen := state.Open(filepath.Join(t.TempDir(), "state.json"), cfg.Settings.StateTTLHours, logx.Nop())
	subs := subscriptions.Open(filepath.Join(t.TempDir(), "subscriptions.json"), logx.Nop())
	s := New(Deps{
		Config:   cfg,
		Checker:  chk,
		Seen:     seen,
		Subs:     subs,
		Dispatch: disp,
		Channels: Channels{
			Discord:  &fakeChannel{name: "discord"},
			Telegram: &fakeChannel{name: "telegram"},
			Email:    &fakeChannel{name: "email"},
		},
		NotificationsEnabled: enabled,
		Log:                  logx.Nop(),
	})
	return s, seen
}

func availableResult(office checker.Office, slots ...checker.Slot) checker.Result {
	return checker.Result{Office: office, Available: true, Slots: slots}
}

func TestRunOnceCompletesSingleIteration(t *testing.T) {
	cfg := testConfig(t, "Cary", "Durham")
	var calls atomic.Int32
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		calls.Add(1)
		return checker.Result{Office: office}, nil
	}}
	disp := &fakeDispatcher{}
	s, _ := newTestScheduler(t, cfg, chk, disp, true)

	if err := s.Run(context.Background(), true); err != nil {
		t.Fatalf("Run(once): %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 probes, got %d", got)
	}
	snap := s.Latest()
	if len(snap.Results) != 2 {
		t.Fatalf("snapshot has %d results, want 2", len(snap.Results))
	}
	if snap.At.IsZero() {
		t.Fatal("snapshot timestamp not set")
	}
}

func TestConcurrencyStaysBounded(t *testing.T) {
	cfg := testConfig(t, "A", "B", "C", "D", "E", "F")
	cfg.Settings.MaxConcurrentChecks = 2

	var inflight, peak atomic.Int32
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return checker.Result{Office: office}, nil
	}}
	s, _ := newTestScheduler(t, cfg, chk, &fakeDispatcher{}, true)

	if err := s.Run(context.Background(), true); err != nil {
		t.Fatalf("Run(once): %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("observed %d concurrent probes, bound is 2", p)
	}
}

func TestProbeFailureIsolatedPerOffice(t *testing.T) {
	cfg := testConfig(t, "Broken", "Cary")
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		if office.Name == "Broken" {
			return checker.Result{}, errors.New("timeout")
		}
		return availableResult(office, checker.Slot{Date: "2026-09-01", Time: "9:00 AM"}), nil
	}}
	disp := &fakeDispatcher{}
	s, _ := newTestScheduler(t, cfg, chk, disp, true)

	if err := s.Run(context.Background(), true); err != nil {
		t.Fatalf("Run(once): %v", err)
	}

	snap := s.Latest()
	if len(snap.Results) != 1 || snap.Results[0].Office != "Cary" {
		t.Fatalf("failed office should be excluded from snapshot: %+v", snap.Results)
	}
	for _, send := range disp.sends {
		if send.office == "Broken" {
			t.Fatal("dispatched a notification for a failed probe")
		}
	}
	if disp.count() == 0 {
		t.Fatal("healthy office produced no dispatch")
	}
}

func TestChannelScopedDedup(t *testing.T) {
	cfg := testConfig(t, "Cary")
	cfg.Notifiers.Email.Enabled = true
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		return availableResult(office, checker.Slot{Date: "2026-09-01", Time: "9:00 AM"}), nil
	}}
	disp := &fakeDispatcher{}
	s, _ := newTestScheduler(t, cfg, chk, disp, true)
	_ = s.subs.Set("a@example.com", []string{"Cary"})
	_ = s.subs.Set("b@example.com", []string{"Cary"})

	s.runIteration(context.Background())

	got := disp.byChannel()
	if got["discord"] != 1 {
		t.Fatalf("discord sends = %d, want 1", got["discord"])
	}
	if got["email"] != 2 {
		t.Fatalf("email sends = %d, want 2 (one per subscriber)", got["email"])
	}

	// The same signature inside the TTL window produces nothing new on
	// any channel or for any recipient.
	s.runIteration(context.Background())
	if disp.count() != 3 {
		t.Fatalf("repeat iteration added sends: total %d, want 3", disp.count())
	}
}

func TestNoNotifySkipsDedupAndDispatch(t *testing.T) {
	cfg := testConfig(t, "Cary")
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		return availableResult(office, checker.Slot{Date: "2026-09-01", Time: "9:00 AM"}), nil
	}}
	disp := &fakeDispatcher{}
	s, seen := newTestScheduler(t, cfg, chk, disp, false)

	s.runIteration(context.Background())

	if disp.count() != 0 {
		t.Fatalf("no-notify mode dispatched %d sends", disp.count())
	}
	if seen.Len() != 0 {
		t.Fatalf("no-notify mode wrote %d dedup entries", seen.Len())
	}
	if snap := s.Latest(); len(snap.Results) != 1 {
		t.Fatal("snapshot should still be produced in no-notify mode")
	}
}

func TestAvailableWithoutSlotsUsesFallbackKey(t *testing.T) {
	cfg := testConfig(t, "Cary")
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		return checker.Result{Office: office, Available: true}, nil
	}}
	disp := &fakeDispatcher{}
	s, seen := newTestScheduler(t, cfg, chk, disp, true)

	s.runIteration(context.Background())
	s.runIteration(context.Background())

	if disp.count() != 1 {
		t.Fatalf("fallback finding dispatched %d times, want 1", disp.count())
	}
	if !seen.WasSeen("Cary", fallbackSignature) {
		t.Fatal("fallback key not recorded in dedup store")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, "Cary")
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		return checker.Result{Office: office}, nil
	}}
	s, _ := newTestScheduler(t, cfg, chk, &fakeDispatcher{}, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, false) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestUpdateNotifiersDisablesChannel(t *testing.T) {
	cfg := testConfig(t, "Cary")
	sigIdx := 0
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		sigIdx++
		slot := checker.Slot{Date: fmt.Sprintf("2026-09-%02d", sigIdx), Time: "9:00 AM"}
		return availableResult(office, slot), nil
	}}
	disp := &fakeDispatcher{}
	s, _ := newTestScheduler(t, cfg, chk, disp, true)

	s.runIteration(context.Background())
	if disp.count() != 1 {
		t.Fatalf("expected 1 send before reload, got %d", disp.count())
	}

	off := false
	next := cfg.Notifiers
	next.Discord.Enabled = &off
	s.UpdateNotifiers(next)

	s.runIteration(context.Background())
	if disp.count() != 1 {
		t.Fatalf("disabled channel still dispatched: total %d", disp.count())
	}
}

func TestUpdateNotifiersEnablesChannel(t *testing.T) {
	cfg := testConfig(t, "Cary")
	sigIdx := 0
	chk := &fakeChecker{fn: func(ctx context.Context, office checker.Office) (checker.Result, error) {
		sigIdx++
		slot := checker.Slot{Date: fmt.Sprintf("2026-09-%02d", sigIdx), Time: "9:00 AM"}
		return availableResult(office, slot), nil
	}}
	disp := &fakeDispatcher{}
	s, _ := newTestScheduler(t, cfg, chk, disp, true)

	s.runIteration(context.Background())
	if got := disp.byChannel(); got["telegram"] != 0 {
		t.Fatalf("telegram dispatched while disabled: %d", got["telegram"])
	}

	// Enabling through a reload must take effect on the next iteration
	// without rebuilding the channel set.
	next := cfg.Notifiers
	next.Telegram.Enabled = true
	s.UpdateNotifiers(next)

	s.runIteration(context.Background())
	if got := disp.byChannel(); got["telegram"] != 1 {
		t.Fatalf("telegram sends after enable = %d, want 1", got["telegram"])
	}
}

// Package scheduler drives the poll loop: bounded-concurrency probes per
// iteration, a barrier before any notification decision, dedup-key
// computation per channel/recipient, and dispatch through the async
// notification pipeline.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/config"
	"dmvwatch/internal/history"
	"dmvwatch/internal/notify"
	"dmvwatch/internal/state"
	"dmvwatch/internal/subscriptions"
	"dmvwatch/pkg/logx"
)

// Dispatcher is the slice of the notification pipeline the scheduler needs.
type Dispatcher interface {
	Enqueue(ch notify.Channel, ev notify.Event) error
}

// Channels holds the notification sinks, injected at construction.
// A nil channel is treated as absent.
type Channels struct {
	Discord  notify.Channel
	Telegram notify.Channel
	SMS      notify.Channel
	Email    notify.Channel
}

// Deps are the scheduler's constructor-injected collaborators. The
// scheduler exclusively owns the two stores for its configured paths.
type Deps struct {
	Config   *config.Config
	Checker  checker.Checker
	Seen     *state.Store
	Subs     *subscriptions.Store
	Dispatch Dispatcher
	History  *history.Store // optional
	Channels Channels

	// NotificationsEnabled false means console-only operation: findings
	// are logged, the dedup store is left untouched.
	NotificationsEnabled bool

	Log logx.Logger
}

type Scheduler struct {
	cfg      *config.Config
	checker  checker.Checker
	seen     *state.Store
	subs     *subscriptions.Store
	disp     Dispatcher
	hist     *history.Store
	channels Channels
	log      logx.Logger

	notificationsEnabled bool

	// notifiers is the hot-reloadable slice of config (channel enabled
	// flags); everything else is fixed for the process lifetime.
	nmu       sync.RWMutex
	notifiers config.NotifiersConfig

	latest atomic.Pointer[Snapshot]
}

func New(d Deps) *Scheduler {
	return &Scheduler{
		cfg:                  d.Config,
		checker:              d.Checker,
		seen:                 d.Seen,
		subs:                 d.Subs,
		disp:                 d.Dispatch,
		hist:                 d.History,
		channels:             d.Channels,
		log:                  d.Log,
		notificationsEnabled: d.NotificationsEnabled,
		notifiers:            d.Config.Notifiers,
	}
}

// UpdateNotifiers swaps the channel enabled flags (config hot reload).
func (s *Scheduler) UpdateNotifiers(n config.NotifiersConfig) {
	s.nmu.Lock()
	s.notifiers = n
	s.nmu.Unlock()
}

func (s *Scheduler) currentNotifiers() config.NotifiersConfig {
	s.nmu.RLock()
	defer s.nmu.RUnlock()
	return s.notifiers
}

// Run executes the poll loop until ctx is cancelled, or exactly one
// iteration when runOnce is set (returning without sleeping).
func (s *Scheduler) Run(ctx context.Context, runOnce bool) error {
	settings := s.cfg.Settings
	interval := time.Duration(settings.CheckIntervalSeconds) * time.Second

	var sched cron.Schedule
	loc := time.Local
	if settings.CheckSchedule != "" {
		parsed, err := cron.ParseStandard(settings.CheckSchedule)
		if err != nil {
			return fmt.Errorf("check_schedule: %w", err)
		}
		sched = parsed
		if settings.Timezone != "" {
			l, err := time.LoadLocation(settings.Timezone)
			if err != nil {
				return fmt.Errorf("settings.timezone: %w", err)
			}
			loc = l
		}
	}

	s.log.Info("poll loop starting",
		logx.String("checker", s.cfg.Checker),
		logx.Duration("interval", interval),
		logx.Int("concurrency", settings.MaxConcurrentChecks),
		logx.Int("offices", len(s.cfg.Offices)),
		logx.Bool("notifications", s.notificationsEnabled))

	for {
		s.runIteration(ctx)
		if runOnce {
			return nil
		}

		wait := interval
		if sched != nil {
			wait = time.Until(sched.Next(time.Now().In(loc)))
			if wait < time.Second {
				wait = time.Second
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

// runIteration performs one full poll cycle: purge, bounded fan-out,
// barrier, snapshot swap, then notification decisions.
func (s *Scheduler) runIteration(ctx context.Context) {
	// Purge before probing so this iteration never races the purge over
	// an entry it is about to write.
	if err := s.seen.PurgeExpired(); err != nil {
		s.log.Warn("dedup purge failed", logx.Err(err))
	}

	sem := make(chan struct{}, s.cfg.Settings.MaxConcurrentChecks)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []checker.Result
	)

	for _, oc := range s.cfg.Offices {
		office := checker.Office{Name: oc.Name, URL: oc.URL}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			res, err := s.checker.Check(ctx, office)
			if err != nil {
				// Per-office recoverable: the next iteration is the retry.
				s.log.Error("probe failed", logx.String("office", office.Name), logx.Err(err))
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	snap := buildSnapshot(results)
	s.latest.Store(snap)
	s.recordHistory(ctx, snap)

	// All probe results are in before any notification decision.
	for _, res := range results {
		s.handleResult(res)
	}
}

func (s *Scheduler) recordHistory(ctx context.Context, snap *Snapshot) {
	if s.hist == nil {
		return
	}
	for _, st := range snap.Results {
		err := s.hist.Record(ctx, history.Entry{
			At:        snap.At,
			Office:    st.Office,
			Available: st.Available,
			SlotCount: st.Count,
			Samples:   st.Samples,
		})
		if err != nil {
			s.log.Warn("history record failed", logx.String("office", st.Office), logx.Err(err))
		}
	}
	retention := time.Duration(s.cfg.Settings.HistoryRetentionHours) * time.Hour
	if _, err := s.hist.Prune(ctx, retention); err != nil {
		s.log.Warn("history prune failed", logx.Err(err))
	}
}

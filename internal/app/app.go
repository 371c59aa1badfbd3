// Package app wires configuration, stores, probe strategy, notification
// channels and the scheduler into a runnable process. The cmd entrypoints
// stay thin; every mode goes through App.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/config"
	"dmvwatch/internal/history"
	"dmvwatch/internal/notify"
	"dmvwatch/internal/runtime/supervisor"
	"dmvwatch/internal/scheduler"
	"dmvwatch/internal/server"
	"dmvwatch/internal/state"
	"dmvwatch/internal/subscriptions"
	"dmvwatch/pkg/logx"
)

// Options selects the run mode.
type Options struct {
	ConfigPath string

	// CheckerOverride replaces the config's probe strategy when non-empty.
	CheckerOverride string

	// RunOnce executes a single iteration and exits (only without Serve).
	RunOnce bool

	// NoNotify logs findings without touching the dedup store or channels.
	NoNotify bool

	// Serve additionally runs the HTTP API, config watch and discovery.
	Serve bool

	// AddrOverride replaces server.addr when non-empty.
	AddrOverride string
}

type App struct {
	opts Options
	cfg  *config.Config
	log  logx.Logger

	seen  *state.Store
	subs  *subscriptions.Store
	hist  *history.Store
	disp  *notify.Dispatcher
	sched *scheduler.Scheduler
	srv   *server.Server
}

func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if opts.CheckerOverride != "" {
		cfg.Checker = opts.CheckerOverride
	}
	if opts.AddrOverride != "" {
		cfg.Server.Addr = opts.AddrOverride
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	chk, err := checker.New(cfg.Checker, checker.Options{
		Headless: cfg.Settings.Headless == nil || *cfg.Settings.Headless,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		opts: opts,
		cfg:  cfg,
		log:  log,
		seen: state.Open(cfg.Settings.StateFile, cfg.Settings.StateTTLHours, log),
		subs: subscriptions.Open(cfg.Settings.SubscriptionsFile, log),
	}

	if cfg.Settings.HistoryFile != "" {
		hist, err := history.Open(cfg.Settings.HistoryFile, log)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		a.hist = hist
	}

	a.disp = notify.NewDispatcher(dispatchConfig(cfg.Dispatch), log)

	a.sched = scheduler.New(scheduler.Deps{
		Config:               cfg,
		Checker:              chk,
		Seen:                 a.seen,
		Subs:                 a.subs,
		Dispatch:             a.disp,
		History:              a.hist,
		Channels:             buildChannels(cfg.Notifiers, log),
		NotificationsEnabled: !opts.NoNotify,
		Log:                  log,
	})

	if opts.Serve {
		disc := checker.NewDiscoverer(cfg.Settings.DiscoveryURL, log)
		a.srv = server.New(cfg, a.sched, a.subs, a.hist, disc, log)
	}
	return a, nil
}

// Run executes the selected mode until ctx is cancelled (or, with RunOnce,
// until the single iteration completes). Always drains the dispatcher
// before returning.
func (a *App) Run(ctx context.Context) error {
	// The dispatcher outlives the signal context: queued sends keep
	// delivering during shutdown, bounded by Stop's drain deadline.
	a.disp.Start(context.Background())
	defer a.shutdown()

	if !a.opts.Serve {
		if err := a.sched.Run(ctx, a.opts.RunOnce); err != nil && err != context.Canceled {
			return err
		}
		return nil
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	sup.Go("scheduler", func(ctx context.Context) error {
		err := a.sched.Run(ctx, false)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	sup.Go("http", func(ctx context.Context) error {
		err := a.srv.ListenAndServe(ctx, a.cfg.Server.Addr)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	sup.Go("config-watch", func(ctx context.Context) error {
		err := config.Watch(ctx, a.opts.ConfigPath, a.log, func(next *config.Config) {
			next.ApplyEnvOverrides()
			a.sched.UpdateNotifiers(next.Notifiers)
			a.log.Info("notifier config reloaded")
		})
		if err == context.Canceled {
			return nil
		}
		return err
	})
	sup.Go("discovery", func(ctx context.Context) error {
		// Warm the office cache once; failures are non-fatal, the admin
		// endpoint can retry.
		dctx, cancel := context.WithTimeout(ctx, 45*time.Second)
		defer cancel()
		if _, err := a.srv.RefreshOffices(dctx); err != nil {
			a.log.Warn("initial office discovery failed", logx.Err(err))
		}
		return nil
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	err := sup.Wait(context.Background())
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	if a.opts.Serve {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.disp.Stop(stopCtx)

	sent, failed, dropped := a.disp.Stats()
	a.log.Info("dispatcher drained",
		logx.Any("sent", sent),
		logx.Any("failed", failed),
		logx.Any("dropped", dropped))

	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.log.Warn("history close failed", logx.Err(err))
		}
	}
}

func buildChannels(n config.NotifiersConfig, log logx.Logger) scheduler.Channels {
	return scheduler.Channels{
		Discord:  notify.NewDiscord(n.Discord.WebhookEnv),
		Telegram: notify.NewTelegram(n.Telegram.TokenEnv, n.Telegram.ChatEnv, log),
		SMS:      notify.NewSMS(n.SMS.AccountSIDEnv, n.SMS.AuthTokenEnv, n.SMS.FromNumberEnv, n.SMS.TestToEnv),
		Email:    notify.NewEmail(n.Email.SMTPHost, n.Email.SMTPPort, n.Email.SMTPUser, n.Email.SMTPPass, n.Email.FromEnv, n.Email.UseTLSEnv, n.Email.UseSSLEnv),
	}
}

func dispatchConfig(d config.DispatchConfig) notify.DispatchConfig {
	base, _ := config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, 500*time.Millisecond)
	maxDelay, _ := config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	return notify.DispatchConfig{
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}
}

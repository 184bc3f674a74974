// Package app wires the bot together: config, logging, storage, transport,
// the flow engine, and the monitor/digest background services.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gasbot/internal/bot"
	"gasbot/internal/config"
	"gasbot/internal/digest"
	"gasbot/internal/flow"
	"gasbot/internal/gas"
	"gasbot/internal/monitor"
	"gasbot/internal/profile"
	"gasbot/internal/runtime/supervisor"
	"gasbot/internal/session"
	"gasbot/internal/storage"
	kit "gasbot/internal/transport"
	"gasbot/internal/transport/telegram"
	"gasbot/internal/workflows"
	logx "gasbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   storage.Store
	engine  *flow.Engine
	router  *bot.Router
	mon     *monitor.Service
	dig     *digest.Service

	monEnabled bool
	updates    chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logCfg(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	gasTimeout, err := config.ParseDurationField("gas.timeout", cfg.Gas.Timeout)
	if err != nil {
		return nil, err
	}
	gasClient, err := gas.NewClient(gas.Config{
		BaseURL: cfg.Gas.BaseURL,
		APIKey:  cfg.Gas.APIKey,
		Timeout: gasTimeout,
	})
	if err != nil {
		return nil, err
	}

	profTimeout, err := config.ParseDurationField("profiles.timeout", cfg.Profiles.Timeout)
	if err != nil {
		return nil, err
	}
	profClient, err := profile.NewClient(profile.Config{
		BaseURL:  cfg.Profiles.BaseURL,
		APIToken: cfg.Profiles.APIToken,
		Timeout:  profTimeout,
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore()
	engine := flow.NewEngine(sessions, logs.Logger().With(logx.String("comp", "flow")))
	wlog := logs.Logger().With(logx.String("comp", "workflows"))
	if err := engine.Register(workflows.OpenProfile(profClient, store, wlog)); err != nil {
		return nil, err
	}
	if err := engine.Register(workflows.CreateProfile(profClient, store, cfg.Profiles.MaxCreateCount, wlog)); err != nil {
		return nil, err
	}

	monCfg, err := monitorConfig(cfg.Monitor)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(monCfg, store, gasClient, adapter, store,
		logs.Logger().With(logx.String("comp", "monitor")))

	dig := digest.New(digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
	}, store, store, adapter, logs.Logger().With(logx.String("comp", "digest")))

	router := bot.NewRouter(adapter, engine,
		logs.Logger().With(logx.String("comp", "bot")), cfg.Telegram.OwnerUserIDs)
	router.Register(bot.Commands(bot.Deps{
		Store:   store,
		Engine:  engine,
		Monitor: mon,
	})...)

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logs,
		adapter:    adapter,
		store:      store,
		engine:     engine,
		router:     router,
		mon:        mon,
		dig:        dig,
		monEnabled: cfg.Monitor.Enabled,
		updates:    make(chan kit.Update, 256),
	}, nil
}

func logCfg(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func monitorConfig(c config.MonitorConfig) (monitor.Config, error) {
	interval, err := config.ParseDurationField("monitor.interval", c.Interval)
	if err != nil {
		return monitor.Config{}, err
	}
	backoff, err := config.ParseDurationField("monitor.error_backoff", c.ErrorBackoff)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Interval:     interval,
		ErrorBackoff: backoff,
		RatePerSec:   c.RatePerSec,
	}, nil
}

func validateConfig(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token must not be empty")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := monitorConfig(cfg.Monitor); err != nil {
		return err
	}
	if cfg.Monitor.RatePerSec < 0 {
		return fmt.Errorf("monitor.rate_per_sec must be >= 0")
	}
	if cfg.Profiles.MaxCreateCount < 0 {
		return fmt.Errorf("profiles.max_create_count must be >= 0")
	}
	if err := digest.ValidateSchedule(cfg.Digest.Schedule); err != nil {
		return fmt.Errorf("digest.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.monEnabled {
		a.sup.GoRestart("monitor.run", a.mon.Run)
	} else {
		a.log.Info("monitor disabled via config")
	}

	if a.dig != nil && digestEnabled(a.cfgm.Get()) {
		if err := a.dig.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Best-effort Telegram / menu autocomplete.
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable subset of a validated config:
// logging sinks/level, the owner list, and monitor cadence. Everything else
// (token, storage path, API endpoints) needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logCfg(cfg.Logging))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	if monCfg, err := monitorConfig(cfg.Monitor); err == nil {
		a.mon.Apply(monCfg)
	}
	a.log.Info("config applied")
}

func digestEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.Digest.Enabled
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown piece with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("digest", 2*time.Second, func(c context.Context) error { a.dig.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

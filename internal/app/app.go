// Package app wires the notification pipeline together and owns its
// lifecycle: config manager, logging service, store, push transport,
// dispatcher, cooldown gate, engine, feed runner, proactive sweep and
// operator alerts.
package app

import (
	"context"
	"fmt"
	"time"

	"taskping/internal/alert"
	"taskping/internal/config"
	"taskping/internal/cooldown"
	"taskping/internal/dispatch"
	"taskping/internal/engine"
	"taskping/internal/enrich"
	"taskping/internal/eventbus"
	"taskping/internal/feed"
	"taskping/internal/proactive"
	"taskping/internal/push"
	"taskping/internal/record"
	"taskping/internal/runtime/supervisor"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.Store

	dispatcher *dispatch.Dispatcher
	gate       *cooldown.Gate
	engine     *engine.Engine

	source  *feed.ChannelSource
	runner  *feed.Runner
	sweeper *proactive.Sweeper
	alerts  alert.Alerter
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	pushTimeout, err := config.ParseDurationOrDefault("push.timeout", cfg.Push.Timeout, 10*time.Second)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	sender := push.NewSender(push.Config{
		Endpoint:    cfg.Push.Endpoint,
		AccessToken: cfg.Push.AccessToken,
		ChunkSize:   cfg.Push.ChunkSize,
		Timeout:     pushTimeout,
	})

	dispatcher := dispatch.New(sender, dispatch.Config{RatePerSec: cfg.Push.RatePerSec},
		log.With(logx.String("comp", "dispatch")), bus)

	window, err := config.ParseDurationOrDefault("cooldown.window", cfg.Cooldown.Window, cooldown.DefaultWindow)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	gate := cooldown.NewGate(st, dispatcher, window, log.With(logx.String("comp", "cooldown")), bus)

	resolver := enrich.NewResolver(st, log.With(logx.String("comp", "enrich")))
	recorder := record.NewRecorder(st, log.With(logx.String("comp", "record")))

	eng := engine.New(resolver, recorder, dispatcher, gate,
		engine.Config{Workers: cfg.Engine.Workers},
		log.With(logx.String("comp", "engine")), bus)

	alerts, err := alert.New(alert.Config{
		Token:  cfg.Alerts.Token,
		ChatID: cfg.Alerts.ChatID,
	}, log.With(logx.String("comp", "alert")))
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, fmt.Errorf("alerts: %w", err)
	}

	source := feed.NewChannelSource(feed.ChannelConfig{
		QueueSize:  cfg.Feed.QueueSize,
		MaxRetries: cfg.Feed.MaxRetries,
	})
	runner := feed.NewRunner(source, eng, alerts, log.With(logx.String("comp", "feed")))

	sweeper := proactive.New(st, gate, proactive.Config{
		Enabled:  cfg.Proactive.Enabled,
		Schedule: cfg.Proactive.Schedule,
		PageSize: cfg.Proactive.PageSize,
	}, log.With(logx.String("comp", "proactive")))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      st,
		dispatcher: dispatcher,
		gate:       gate,
		engine:     eng,
		source:     source,
		runner:     runner,
		sweeper:    sweeper,
		alerts:     alerts,
	}, nil
}

// Source exposes the in-process change feed for embedding callers.
func (a *App) Source() *feed.ChannelSource { return a.source }

// Engine exposes the pipeline entry points for embedding callers.
func (a *App) Engine() *engine.Engine { return a.engine }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.GoRestart("feed.run", func(c context.Context) error {
		return a.runner.Run(c)
	})

	if err := a.sweeper.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("proactive sweep: %w", err)
	}

	// Debug tap on pipeline events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Config hot reload: logging and dispatcher rate apply live, the rest
	// (storage, feed sizing, schedule) needs a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLoggingConfig(cfg))
	a.dispatcher.Apply(dispatch.Config{RatePerSec: cfg.Push.RatePerSec})
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so loops start unwinding immediately.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sweep", 2*time.Second, func(context.Context) error { a.sweeper.Stop(); return nil })
	step("feed", 1*time.Second, func(context.Context) error { a.source.Close(); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

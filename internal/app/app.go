package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commitbot/internal/config"
	"commitbot/internal/eventbus"
	"commitbot/internal/gateway"
	"commitbot/internal/httpapi"
	rtsup "commitbot/internal/runtime/supervisor"
	"commitbot/internal/task/scheduler"
	kit "commitbot/internal/transport"
	"commitbot/internal/transport/telegram"
	"commitbot/internal/transport/telegram/adapter"
	"commitbot/internal/transport/telegram/router"
	logx "commitbot/pkg/logx"
	"commitbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	core *Core

	gw      gateway.Gateway
	tg      *telegram.Gateway // nil without a bot token
	adapter *adapter.Adapter  // nil without a bot token
	router  *router.Router    // nil without a bot token

	ticker *scheduler.Ticker
	waker  *scheduler.Waker
	http   *httpapi.Server // nil when disabled
	sd     *systemd.Notifier

	sup     *rtsup.Supervisor
	updates chan kit.Update
}

// New builds the app from a loaded config manager. Nothing runs until Start.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	// Chat logging needs the gateway, which needs a logger: boot without the
	// chat sink, then Apply the full config once the gateway exists.
	bootLog := mapLogging(cfg)
	bootLog.Chat.Enabled = false
	logs, log := logx.New(bootLog)
	appLog := log.With(logx.Component("app"))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logs,
		bus:     eventbus.New(),
		sd:      systemd.New(cfg.Systemd.Notify, log.With(logx.Component("systemd"))),
		updates: make(chan kit.Update, 256),
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := adapter.New(adapter.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, log.With(logx.Component("telegram")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
		a.tg = telegram.NewGateway(ad, mapGateway(cfg), log.With(logx.Component("gateway")))
		a.gw = a.tg
	} else {
		appLog.Warn("telegram token not set; running without chat, messages are recorded in memory only")
		a.gw = gateway.NewMock()
	}
	logs.SetChatSender(a.gw)
	logs.Apply(mapLogging(cfg))

	core, err := NewCore(ctx, cfg, a.gw, a.bus, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.core = core
	a.ticker = scheduler.NewTicker(core.Sched, log.With(logx.Component("ticker")))
	a.waker = scheduler.NewWaker(core.Sched, log.With(logx.Component("waker")))

	if a.adapter != nil {
		loc, _ := config.Location(cfg.Gateway.Timezone)
		a.router = router.New(log.With(logx.Component("router")), a.adapter, router.Services{
			Commitments: core.Engine,
			Jobs:        core.Sched,
			Ticker:      a.ticker,
			Location:    loc,
		}, cfg.Telegram.OwnerUserIDs)
	}

	if cfg.HTTP.Enabled {
		a.http = httpapi.New(httpapi.Config{
			Addr:        cfg.HTTP.Addr,
			AdminToken:  cfg.HTTP.AdminToken,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Pprof:       cfg.HTTP.Pprof,
		}, httpapi.Deps{
			Jobs:        core.Sched,
			Commitments: core.Engine,
			Ticker:      a.ticker,
			Audit:       core.Store,
			Health:      a.health,
		}, log.With(logx.Component("http")))
	}
	return a, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if w := strings.TrimSpace(c.Scheduler.Wake); w != "" {
			if _, err := scheduler.ParseWake(w); err != nil {
				return fmt.Errorf("scheduler.wake: %w", err)
			}
		}
		return nil
	})

	if a.adapter != nil {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			return err
		}
		a.sup.Go("router.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}

	if err := a.waker.Start(runCtx, mapScheduler(cfg)); err != nil {
		return fmt.Errorf("scheduler.wake: %w", err)
	}
	if cfg.Scheduler.TickOnStart {
		a.ticker.Poke(runCtx)
	}

	if a.http != nil {
		a.sup.Go("http", a.http.Serve)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("kind", string(e.Kind)), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if cfg.Systemd.Watchdog {
		if iv := a.sd.WatchdogInterval(); iv > 0 {
			a.sup.Go0("systemd.watchdog", func(c context.Context) {
				a.sd.RunWatchdog(c, iv, a.ticker.Poke)
			})
		}
	}
	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d jobs registered", len(a.core.Sched.Registry().Names())))
	a.log.Info("app started",
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("http", a.http != nil),
		logx.String("wake", cfg.Scheduler.Wake),
	)
	return nil
}

// applyConfig pushes a reloaded config into the live components. Sections that
// need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strs("sections", restart))
	}

	a.logs.Apply(mapLogging(next))
	if a.tg != nil {
		a.tg.Apply(mapGateway(next))
	}
	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}

	sc := mapScheduler(next)
	a.core.Sched.Apply(sc)
	if err := a.waker.Apply(sc); err != nil {
		a.log.Warn("wake timer not updated", logx.Err(err))
	}
	if err := a.core.ApplyFollowup(ctx, mapFollowup(next)); err != nil {
		a.log.Warn("follow-up jobs not re-registered", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() any {
	out := map[string]any{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if a.adapter != nil {
		if sup := a.adapter.Supervisor(); sup != nil {
			out["telegram"] = sup.Snapshot()
		}
	}
	if next := a.waker.Next(); !next.IsZero() {
		out["next_wake"] = next
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("waker", 2*time.Second, func(c context.Context) error { a.waker.Stop(c); return nil })
	step("ticker", 3*time.Second, a.ticker.Wait)
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.core.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

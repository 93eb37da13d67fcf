// Package app wires configuration, transport, services and plugins into one
// running bot.
package app

import (
	"context"
	"fmt"
	"time"

	"partybot/internal/config"
	"partybot/internal/eventbus"
	"partybot/internal/notifier"
	"partybot/internal/observability/debughttp"
	"partybot/internal/plugin"
	rtsup "partybot/internal/runtime/supervisor"
	"partybot/internal/storage"
	"partybot/internal/task/scheduler"
	kit "partybot/internal/transport"
	telegram "partybot/internal/transport/telegram/adapter"
	"partybot/internal/transport/telegram/router"
	logx "partybot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	sched *scheduler.Service
	notif *notifier.Service
	dbg   *debughttp.Service

	cmdm *router.CommandManager
	pm   *plugin.Manager
	serv *router.Services

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The sink must be in place before the telegram target is enabled,
	// otherwise Apply warns about a missing sink.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg)
	logSvc.SetSink(ad)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	scfg, err := mapScheduler(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(scfg, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)

	dcfg, err := mapDebug(cfg)
	if err != nil {
		return nil, err
	}

	serv := &router.Services{
		Scheduler:          schedSvc,
		Notifier:           notifSvc,
		Store:              store,
		Bus:                bus,
		RuntimeSupervisors: router.NewSupervisorRegistry(),
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, cfgm, serv, cfg.Telegram.OwnerUserIDs)

	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")),
		cfgm, plugin.Deps{
			Logger:   log,
			Adapter:  ad,
			Config:   cfgm,
			Services: serv,
			Bus:      bus,
			Store:    store,
		}, cmdm)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		notif:   notifSvc,
		cmdm:    cmdm,
		pm:      pm,
		serv:    serv,
		updates: make(chan kit.Update, 256),
	}
	a.dbg = debughttp.New(dcfg, log.With(logx.String("comp", "debughttp")), a.statusDoc)
	return a, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.serv.AppSupervisor = a.sup

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.serv.RuntimeSupervisors.Set("telegram.adapter", a.adapter.Supervisor())

	a.startNotifier(a.sup.Context())
	a.startScheduler(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}
	a.startDebug(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.notify", a.notifySystemd)

	a.log.Info("app started")
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapDebug(cfg); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

func (a *App) startNotifier(ctx context.Context) {
	if !a.notif.Enabled() {
		return
	}
	a.notif.Start(ctx)
	a.serv.RuntimeSupervisors.Set("notifier", a.notif.Supervisor())
}

// startScheduler always starts the service: session deadlines are one-shot
// timers that run even while scheduler.enabled is false.
func (a *App) startScheduler(ctx context.Context) {
	a.sched.Start(ctx)
	a.serv.RuntimeSupervisors.Set("scheduler", a.sched.Supervisor())
}

func (a *App) startDebug(ctx context.Context) {
	if !a.dbg.Enabled() {
		return
	}
	a.dbg.Start(ctx)
	a.serv.RuntimeSupervisors.Set("debug.http", a.dbg.Supervisor())
}

type statusDoc struct {
	Plugins     plugin.Snapshot           `json:"plugins"`
	Scheduler   scheduler.Snapshot        `json:"scheduler"`
	Supervisors map[string]rtsup.Counters `json:"supervisors"`
	BusDropped  uint64                    `json:"bus_dropped"`
}

// statusDoc backs /statusz.
func (a *App) statusDoc(ctx context.Context) any {
	doc := statusDoc{
		Plugins:     a.pm.Snapshot(ctx),
		Scheduler:   a.sched.Snapshot(),
		Supervisors: map[string]rtsup.Counters{},
		BusDropped:  a.bus.Dropped(),
	}
	if a.sup != nil {
		doc.Supervisors["app"] = a.sup.Counters()
	}
	for name, sup := range a.serv.RuntimeSupervisors.Snapshot() {
		doc.Supervisors[name] = sup.Counters()
	}
	return doc
}

func (a *App) Stop(ctx context.Context, reason plugin.StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.sup.Cancel()

	// Plugins first, they hold scheduler timers and notifier jobs.
	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	a.step(ctx, "debug.http", time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		return fmt.Errorf("close logs: %w", err)
	}
	return nil
}

package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"partybot/internal/config"
	logx "partybot/pkg/logx"
)

// reloadLoop fans committed configs out to the running services. Bursts are
// coalesced so only the newest config is applied.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
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
			next = latest(sub, next)
			a.applyConfig(c, last, next)
			last = next
		}
	}
}

func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(prev, next)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strings("plugins", pluginChanged))
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogging(next))
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if scfg, err := mapScheduler(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(scfg)
	}

	if ncfg, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasOn && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.serv.RuntimeSupervisors.Delete("notifier")
		case !wasOn && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.startNotifier(c)
		}
	}

	if dcfg, err := mapDebug(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.dbg.Reconfigure(c, dcfg)
		a.serv.RuntimeSupervisors.Set("debug.http", a.dbg.Supervisor())
	}

	a.pm.OnConfigUpdate(c, next)

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

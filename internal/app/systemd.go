package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "partybot/pkg/logx"
)

// notifySystemd reports readiness to systemd and, when the unit sets
// WatchdogSec, pings the watchdog at half the interval. Outside systemd
// every call is a no-op.
func (a *App) notifySystemd(ctx context.Context) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}
	a.log.Debug("sd_notify ready sent")

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("sd watchdog lookup failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Warn("sd_notify watchdog failed", logx.Err(err))
			}
		}
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("sd_notify stopping failed", logx.Err(err))
	}
}

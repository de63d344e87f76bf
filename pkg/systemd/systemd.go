// Package systemd speaks the sd_notify protocol: readiness, status lines and
// watchdog keep-alives for a Type=notify unit. Outside systemd every call is a
// no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "commitbot/pkg/logx"
)

// Notifier sends state changes to the service manager.
type Notifier struct {
	enabled bool
	log     logx.Logger

	notify   func(unsetEnvironment bool, state string) (bool, error)
	watchdog func(unsetEnvironment bool) (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled:  enabled,
		log:      log,
		notify:   daemon.SdNotify,
		watchdog: daemon.SdWatchdogEnabled,
	}
}

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

func (n *Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status publishes a free-form line shown by `systemctl status`.
func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// WatchdogInterval is half of WATCHDOG_USEC, or 0 when the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := n.watchdog(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return 0
	}
	return d / 2
}

// RunWatchdog pings WATCHDOG=1 every interval until ctx ends. onPing runs after
// each ping; the app uses it to tick the scheduler.
func (n *Notifier) RunWatchdog(ctx context.Context, interval time.Duration, onPing func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
			if onPing != nil {
				onPing(ctx)
			}
		}
	}
}

// Package systemd reports service lifecycle to systemd via sd_notify.
// Outside a Type=notify unit every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready reports READY=1. It returns false when no notify socket is set.
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Reloading reports RELOADING=1 followed by READY=1 once fn returns.
func Reloading(fn func()) {
	_, _ = notify(false, daemon.SdNotifyReloading)
	fn()
	_, _ = notify(false, daemon.SdNotifyReady)
}

// WatchdogInterval returns how often to ping, or 0 when the watchdog is off.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// ping at half the deadline
	return d / 2
}

// RunWatchdog pings WATCHDOG=1 every interval until ctx is done.
func RunWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = notify(false, daemon.SdNotifyWatchdog)
		}
	}
}

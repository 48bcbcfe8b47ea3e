// Package systemd speaks the sd_notify protocol when the daemon runs as a
// Type=notify unit. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "driftnote/pkg/logx"
)

// Ready reports startup completion.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form unit status line.
func Status(s string) (bool, error) { return daemon.SdNotify(false, "STATUS="+s) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when WatchdogSec is not set.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}

package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskpool/pkg/logx"
)

// notifyReady tells systemd the service is up. A no-op outside a
// systemd unit (no NOTIFY_SOCKET).
func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Debug("sd_notify ready failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify ready sent")
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debug("sd_notify stopping failed", logx.Err(err))
	}
}

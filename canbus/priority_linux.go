package canbus

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// applyNiceness pins the receive loop to its OS thread and adjusts its
// scheduling niceness. Failures are logged and ignored; scheduling priority
// never affects queue semantics.
func (r *Receiver) applyNiceness() {
	runtime.LockOSThread()

	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, r.cfg.Niceness); err != nil {
		r.logger.Warn("failed to set receive thread niceness",
			"niceness", r.cfg.Niceness, "error", err)

		return
	}

	r.logger.Info("receive thread niceness set", "niceness", r.cfg.Niceness, "tid", tid)
}

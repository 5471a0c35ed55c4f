//go:build !linux

package canbus

// applyNiceness is a no-op on platforms without per-thread niceness.
func (r *Receiver) applyNiceness() {
	r.logger.Warn("receive thread niceness is not supported on this platform",
		"niceness", r.cfg.Niceness)
}

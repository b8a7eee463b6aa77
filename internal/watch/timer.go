package watch

import (
	"log/slog"
	"time"
)

// interval is the current sweep period: the foreground interval while any
// client is visible, otherwise the preference interval but never less than
// the background floor.
func (r *Registry) interval() time.Duration {
	p := r.prefs.Preferences()

	d := max(p.RefreshInterval, p.BackgroundFloor)
	if r.anyForeground() {
		d = p.ForegroundInterval
	}

	r.sweepInterval.Store(int64(d))

	return d
}

func (r *Registry) anyForeground() bool {
	for _, cl := range snapshot(r.clients) {
		if cl.obs.IsForeground() {
			return true
		}
	}

	return false
}

// armTimer schedules the next sweep at lastSweep + interval. It is a no-op
// when a timer for the same deadline is already pending.
func (r *Registry) armTimer() {
	deadline := r.lastSweep.Add(r.interval())
	if r.timer != nil && deadline.Equal(r.timerDeadline) {
		return
	}

	r.rearmAt(deadline)
}

// rearmTimer recomputes the deadline unconditionally, replacing any
// pending timer.
func (r *Registry) rearmTimer() {
	r.rearmAt(r.lastSweep.Add(r.interval()))
}

func (r *Registry) rearmAt(deadline time.Time) {
	if r.timer != nil {
		r.timer.Stop()
	}

	r.timerGen++
	gen := r.timerGen
	r.timerDeadline = deadline

	d := max(deadline.Sub(r.clock.Now()), 0)

	r.timer = r.clock.AfterFunc(d, func() {
		r.post(func() { r.timerFired(gen) })
	})
}

// timerFired starts a periodic sweep. Fires from replaced timers are
// recognized by their generation and ignored.
func (r *Registry) timerFired(gen uint64) {
	if gen != r.timerGen {
		return
	}

	r.timer = nil
	r.lastSweep = r.clock.Now()

	r.logger.Debug("periodic sweep",
		slog.Int("items", len(r.items)),
	)

	r.refreshAll("", false, false)
}

package feedback

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
)

// TimerInfo describes a pending deferred action.
type TimerInfo struct {
	Name        string    `json:"name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
}

// deferredAction is one owned, cancellable one-shot timer. The status-post
// and done-removal timers are separate values so cancelling one never
// touches the other. Callers hold the session lock.
type deferredAction struct {
	name        string
	timer       clock.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

func (d *deferredAction) arm(c clock.Clock, delay time.Duration, fn func()) {
	if d.timer != nil {
		slog.Warn("feedback.deferredAction: already armed, ignoring", "timer", d.name)
		return
	}
	now := c.Now()
	d.scheduledAt = now
	d.expiresAt = now.Add(delay)
	d.timer = c.AfterFunc(delay, fn)
	slog.Debug("feedback.deferredAction: armed", "timer", d.name, "delay", delay)
}

// cancel stops the timer if pending. Safe to call repeatedly.
func (d *deferredAction) cancel() {
	if d.timer == nil {
		return
	}
	if d.timer.Stop() {
		slog.Debug("feedback.deferredAction: cancelled", "timer", d.name)
	}
	d.timer = nil
}

// fired releases the handle once the callback has run.
func (d *deferredAction) fired() {
	d.timer = nil
}

func (d *deferredAction) info(now time.Time) *TimerInfo {
	if d.timer == nil {
		return nil
	}
	remaining := d.expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &TimerInfo{
		Name:        d.name,
		ScheduledAt: d.scheduledAt,
		ExpiresAt:   d.expiresAt,
		Remaining:   remaining.String(),
	}
}

// Package metrics exposes the engine's Prometheus collectors as
// package-level collectors plus Record* helper functions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionState reports each registered action's current state as a
	// gauge (handler.State's integer value), labeled by action name, so a
	// dashboard can chart the population across NONE/ACTIVE/MITIGATING/etc
	// over time (spec.md §4.5/§4.6 state machines).
	ActionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lom_action_state",
		Help: "Current state of each registered action handler (numeric State value).",
	}, []string{"action"})

	// TimerFiresTotal counts every fired timer the engine hands to
	// check_timeout, labeled by action name (spec.md §4.5
	// "check_timeout"), whether or not that call synthesized a timeout
	// response or only re-registered the timer.
	TimerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lom_timer_fires_total",
		Help: "Total number of fired timers passed to check_timeout.",
	}, []string{"action"})

	// LockWaitDuration records how long an anomaly handler spent
	// LOCK_PENDING before acquiring the mitigation lock, labeled by
	// anomaly action name (spec.md §4.4 lock manager, §4.6 resume_on_lock).
	LockWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lom_lock_wait_duration_seconds",
		Help:    "Time an anomaly spent queued for the mitigation lock before acquiring it.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// HeartbeatsTotal counts every touch_heartbeat accepted for an
	// action, labeled by action name (spec.md §4.5 "touch_heartbeat").
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lom_heartbeats_total",
		Help: "Total number of heartbeats accepted per action.",
	}, []string{"action"})
)

// SetActionState records action's current numeric state.
func SetActionState(action string, state int) {
	ActionState.WithLabelValues(action).Set(float64(state))
}

// RecordTimerFire increments TimerFiresTotal for action.
func RecordTimerFire(action string) {
	TimerFiresTotal.WithLabelValues(action).Inc()
}

// RecordHeartbeat increments HeartbeatsTotal for action.
func RecordHeartbeat(action string) {
	HeartbeatsTotal.WithLabelValues(action).Inc()
}

// LockWaitTimer measures the queued interval between Acquire returning
// Queued and the eventual resume.
type LockWaitTimer struct {
	start time.Time
}

// NewLockWaitTimer starts a timer at the current moment.
func NewLockWaitTimer() *LockWaitTimer {
	return &LockWaitTimer{start: time.Now()}
}

// Elapsed returns the duration since the timer started.
func (t *LockWaitTimer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordLockWait observes the elapsed wait time into LockWaitDuration for
// action.
func (t *LockWaitTimer) RecordLockWait(action string) {
	LockWaitDuration.WithLabelValues(action).Observe(t.Elapsed().Seconds())
}

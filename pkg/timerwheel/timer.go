// Package timerwheel implements the engine's single timer set: a map of
// deadline to the set of actions due at that deadline (scanned for the
// earliest deadline when needed), plus a reverse
// index enforcing at most one timer per action (spec.md §4.3), grounded
// on original_source's ActionManager::m_secs_vs_action /
// m_action_vs_secs pair (src/server/engine.h).
package timerwheel

import (
	"sort"
	"time"
)

// Wheel is the engine's single timer set. It is not safe for concurrent
// use; the engine's single-threaded dispatch loop owns it (spec.md §5).
type Wheel struct {
	byDeadline map[time.Time]map[string]bool
	byAction   map[string]time.Time
}

// New returns an empty timer set.
func New() *Wheel {
	return &Wheel{
		byDeadline: make(map[time.Time]map[string]bool),
		byAction:   make(map[string]time.Time),
	}
}

// RegisterAt replaces any prior entry for action with one firing at
// deadline (spec.md §4.3 "register_at").
func (w *Wheel) RegisterAt(action string, deadline time.Time) {
	w.Deregister(action)
	if w.byDeadline[deadline] == nil {
		w.byDeadline[deadline] = make(map[string]bool)
	}
	w.byDeadline[deadline][action] = true
	w.byAction[action] = deadline
}

// Deregister removes action's timer entry, if any (spec.md §4.3
// "deregister").
func (w *Wheel) Deregister(action string) {
	deadline, ok := w.byAction[action]
	if !ok {
		return
	}
	delete(w.byAction, action)
	if set := w.byDeadline[deadline]; set != nil {
		delete(set, action)
		if len(set) == 0 {
			delete(w.byDeadline, deadline)
		}
	}
}

// NextWaitSeconds returns min(earliest_deadline - now, heartbeatInterval),
// floored at 0 (spec.md §4.3 "next_wait_seconds"). With no registered
// timers it returns heartbeatInterval unchanged.
func (w *Wheel) NextWaitSeconds(now time.Time, heartbeatInterval time.Duration) time.Duration {
	wait := heartbeatInterval
	if earliest, ok := w.earliestDeadline(); ok {
		if d := earliest.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (w *Wheel) earliestDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for d := range w.byDeadline {
		if !found || d.Before(earliest) {
			earliest = d
			found = true
		}
	}
	return earliest, found
}

// FireDue snapshots and removes all entries with deadline <= now, then
// returns the affected action names for the main loop to call
// check_timeout on. Handlers may re-register during those calls, so the
// caller must iterate over this snapshot rather than re-querying the
// wheel mid-iteration (spec.md §4.3 "fire_due"). Order across actions
// sharing a deadline bucket is unspecified.
func (w *Wheel) FireDue(now time.Time) []string {
	var dueDeadlines []time.Time
	for d := range w.byDeadline {
		if !d.After(now) {
			dueDeadlines = append(dueDeadlines, d)
		}
	}
	sort.Slice(dueDeadlines, func(i, j int) bool { return dueDeadlines[i].Before(dueDeadlines[j]) })

	var due []string
	for _, d := range dueDeadlines {
		for action := range w.byDeadline[d] {
			due = append(due, action)
			delete(w.byAction, action)
		}
		delete(w.byDeadline, d)
	}
	return due
}

// Len reports the number of distinct actions with a registered timer.
func (w *Wheel) Len() int {
	return len(w.byAction)
}

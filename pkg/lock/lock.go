// Package lock implements the engine's single mutual-exclusion lock used
// to serialize mitigation runs across anomaly handlers (spec.md §4.4),
// grounded on original_source's lockMgr (src/server/engine.h).
package lock

import "time"

// Status is the outcome of an Acquire call.
type Status int

const (
	// Held means the caller now owns the lock.
	Held Status = iota
	// Queued means another action holds the lock; the caller was appended
	// to the pending list.
	Queued
)

type holder struct {
	action   string
	deadline time.Time // zero value means no timeout, per callers passing timeoutMs == 0
}

// Manager holds the single current lock owner plus an ordered pending
// list (spec.md §4.4 "State").
type Manager struct {
	current *holder
	pending []string
}

// New returns an unheld lock manager.
func New() *Manager {
	return &Manager{}
}

// Acquire attempts to take the lock for action. If it is already held by a
// different action, action is appended to the pending list (if not
// already present) and Queued is returned. A duplicate request by the
// current holder is a no-op that still returns Held (spec.md §4.4
// "acquire").
func (m *Manager) Acquire(action string, timeoutMs int) Status {
	if m.current == nil {
		m.current = &holder{action: action, deadline: deadlineFor(timeoutMs)}
		return Held
	}
	if m.current.action == action {
		return Held
	}
	m.appendPending(action)
	return Queued
}

func deadlineFor(timeoutMs int) time.Time {
	if timeoutMs <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
}

func (m *Manager) appendPending(action string) {
	for _, p := range m.pending {
		if p == action {
			return
		}
	}
	m.pending = append(m.pending, action)
}

// Release clears current if action owns it, and removes action from the
// pending list regardless (spec.md §4.4 "release").
func (m *Manager) Release(action string) {
	if m.current != nil && m.current.action == action {
		m.current = nil
	}
	for i, p := range m.pending {
		if p == action {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
}

// CurrentHolder returns the action currently holding the lock and true,
// or ("", false) if unheld.
func (m *Manager) CurrentHolder() (string, bool) {
	if m.current == nil {
		return "", false
	}
	return m.current.action, true
}

// IsExpired reports whether the current holder's deadline has passed. A
// zero deadline (no timeout) is never expired.
func (m *Manager) IsExpired(now time.Time) bool {
	if m.current == nil || m.current.deadline.IsZero() {
		return false
	}
	return !now.Before(m.current.deadline)
}

// DrainPending repeatedly pops the head of the pending list while the
// lock is free and invokes resume for it, looping until either the lock
// is taken or the pending list is empty. Each entry is popped before
// resume is called, since resume may itself re-append to pending
// (spec.md §4.4 "inform_pending"; original_source pops and erases before
// calling resume_on_lock to guard against the handler re-queuing itself
// during the same call).
func (m *Manager) DrainPending(resume func(action string)) {
	for m.current == nil && len(m.pending) > 0 {
		action := m.pending[0]
		m.pending = m.pending[1:]
		resume(action)
	}
}

// PendingLen reports the number of actions waiting on the lock.
func (m *Manager) PendingLen() int {
	return len(m.pending)
}

// Package handler implements the per-action and per-anomaly state
// machines that own mitigation flow (spec.md §4.5, §4.6), grounded on
// original_source's ActionHandler / AnomalyActionHandler
// (src/server/engine.h).
package handler

// State is one of the five states an action handler can occupy (spec.md
// §4.5, §4.6).
type State int

const (
	// StateNone is idle, ready to accept raise_request.
	StateNone State = iota
	// StateActive means a request was issued and a response or timeout is
	// outstanding.
	StateActive
	// StateTimedOut means the timer has fired once for the outstanding
	// request but a late response has not yet been reconciled.
	StateTimedOut
	// StateLockPending is anomaly-handler specific: detection succeeded
	// and the handler is waiting on the mitigation lock.
	StateLockPending
	// StateMitigating is anomaly-handler specific: the handler holds the
	// lock and is driving its bound action sequence.
	StateMitigating
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateActive:
		return "ACTIVE"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateLockPending:
		return "LOCK_PENDING"
	case StateMitigating:
		return "MITIGATING"
	default:
		return "UNKNOWN"
	}
}

package handler

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/sonic-net/lom-engine/pkg/lock"
	"github.com/sonic-net/lom-engine/pkg/message"
	"github.com/sonic-net/lom-engine/pkg/timerwheel"
)

// Handler is the capability set shared by regular and anomaly action
// handlers (spec.md §9 "tagged variant over a common capability set").
type Handler interface {
	ActionName() string
	ClientName() string
	State() State
	ProcessResponse(msg *message.Message) error
	CheckTimeout(now time.Time) error
	TouchHeartbeat(instanceID string) error
	IsEnabled(anomalyName, anomalyKey string, isFailed bool) bool
	IsMandatory() bool
	ResetToIdle()
	LastHeartbeat() time.Time
	Shutdown() error
}

// Raiser is implemented by handlers that accept an externally-driven
// raise_request; used by an anomaly handler to kick off the next bound
// action in its plan without knowing its concrete type (spec.md §4.6.1).
type Raiser interface {
	RaiseRequest(anomalyName, anomalyInstanceID, anomalyKey, contextJSON string, lastResultCode int) error
}

// Resumable is implemented by anomaly handlers waiting in LOCK_PENDING;
// the dispatcher calls ResumeOnLock when lock.DrainPending hands the
// mitigation lock to a queued action, without needing the concrete type
// (spec.md §4.6 "resume_on_lock").
type Resumable interface {
	ResumeOnLock() error
}

// ChildNotifiee is implemented by anomaly handlers so a child action
// handler can report its response back without caching a pointer to the
// anomaly (spec.md §9 "handlers never cache others" — the action handler
// caches only the anomaly's name and re-resolves it through Lookup).
type ChildNotifiee interface {
	OnChildResponse(actionName string, msg *message.Message)
}

// Transport is the subset of pkg/transport.Server a handler needs.
type Transport interface {
	Write(client string, payload []byte) error
}

// Publisher is the external event-publication sink boundary contract
// (spec.md §1 "a black-box publish(json) call").
type Publisher interface {
	Publish(tag string, body map[string]interface{}) error
}

// Lookup resolves a handler by action name without the caller needing to
// hold a reference to the manager's internal registry (spec.md §9
// "manager.get_handler(name)").
type Lookup interface {
	Handler(actionName string) (Handler, bool)
}

// Deps bundles the collaborators every handler needs: the transport for
// sending requests, the shared timer wheel, the shared lock manager, the
// publish sink, and the handler lookup (spec.md §9 "model them as context
// objects passed to every operation").
type Deps struct {
	Transport Transport
	Timers    *timerwheel.Wheel
	Lock      *lock.Manager
	Publisher Publisher
	Lookup    Lookup
	Log       logr.Logger

	// MinLockTimeoutMs floors the lock-acquire timeout an anomaly handler
	// requests, so a misconfigured mitigation_timeout_seconds can't starve
	// the mitigation lock of its minimum hold time (SPEC_FULL.md §6
	// "MIN_LOCK_TIMEOUT_MS").
	MinLockTimeoutMs int
}

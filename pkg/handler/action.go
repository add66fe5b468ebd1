package handler

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/message"
	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
	"github.com/sonic-net/lom-engine/pkg/shared/logging"
)

// timedOutErrno is the synthetic result_code stamped onto a timeout
// response (spec.md §4.5 "check_timeout" — ETIMEDOUT, errno 110 on Linux).
const timedOutErrno = 110

// ActionHandler is the non-anomaly per-action state machine (spec.md
// §4.5). AnomalyHandler embeds it and overrides the operations that
// differ (spec.md §9 "inheritance depth of one").
type ActionHandler struct {
	clientName string
	actionName string
	conf       config.ActionConfig
	deps       Deps
	recurrence *catrate.Limiter

	state State

	currentInstanceID string
	anomalyName       string
	anomalyInstanceID string
	anomalyKey        string
	deadline          time.Time
	lastHeartbeat     time.Time
}

// NewActionHandler constructs an idle handler for actionName, owned by
// clientName, configured per conf.
func NewActionHandler(clientName, actionName string, conf config.ActionConfig, deps Deps) *ActionHandler {
	h := &ActionHandler{
		clientName: clientName,
		actionName: actionName,
		conf:       conf,
		deps:       deps,
		state:      StateNone,
	}
	if conf.MinRecurrenceSeconds > 0 {
		window := time.Duration(conf.MinRecurrenceSeconds) * time.Second
		h.recurrence = catrate.NewLimiter(map[time.Duration]int{window: 1})
	}
	return h
}

func (h *ActionHandler) ActionName() string       { return h.actionName }
func (h *ActionHandler) ClientName() string       { return h.clientName }
func (h *ActionHandler) State() State             { return h.state }
func (h *ActionHandler) LastHeartbeat() time.Time { return h.lastHeartbeat }

// IsEnabled reports whether this handler may be bound into a mitigation
// plan (spec.md §4.6.1 step 2). A disabled action never binds; the
// anomaly/key/failure context is accepted for interface parity with the
// source's per-call enablement hook but this implementation's only gate
// is the action's own disable flag.
func (h *ActionHandler) IsEnabled(anomalyName, anomalyKey string, isFailed bool) bool {
	return !h.conf.Disable
}

// IsMandatory reports whether this action runs during mandatory cleanup
// even after a mitigation sequence has failed (spec.md §4.6.1).
func (h *ActionHandler) IsMandatory() bool {
	return h.conf.Mandatory
}

// RaiseRequest is the only legal transition from NONE (spec.md §4.5).
// anomalyName is cached, not a handler reference, so the response path
// can notify the owning anomaly via Lookup without back-pointers (spec.md
// §9).
func (h *ActionHandler) RaiseRequest(anomalyName, anomalyInstanceID, anomalyKey, contextJSON string, lastResultCode int) error {
	// State and last_result_code are checked before the recurrence gate so a
	// request refused for either reason never consumes a recurrence window
	// slot (spec.md §4.5 ordering: state, then last_result_code, then
	// recurrence).
	if h.state != StateNone {
		return lomerrors.ValidationError("state", "raise_request requires NONE, got "+h.state.String())
	}
	if lastResultCode != 0 && !h.conf.Mandatory {
		return lomerrors.ValidationError("last_result_code", "non-zero predecessor result requires a mandatory action")
	}
	if h.recurrenceBlocked(anomalyName, anomalyKey) {
		return lomerrors.ValidationError("recurrence", "recurrence window not elapsed for "+anomalyName+"/"+anomalyKey)
	}
	return h.raiseRequest(anomalyName, anomalyInstanceID, anomalyKey, contextJSON, lastResultCode, h.conf.TimeoutSeconds)
}

// raiseRequest is the shared implementation behind RaiseRequest and the
// anomaly handler's self-raised detection request, which must bypass the
// configured per-request timeout (spec.md §4.6 "timeout = 0") and is never
// itself recurrence-gated: recurrence governs how often an anomaly may
// re-trigger a *bound* action, not how often the detector re-arms itself.
func (h *ActionHandler) raiseRequest(anomalyName, anomalyInstanceID, anomalyKey, contextJSON string, lastResultCode, timeoutSeconds int) error {
	if h.state != StateNone {
		return lomerrors.ValidationError("state", "raise_request requires NONE, got "+h.state.String())
	}
	if lastResultCode != 0 && !h.conf.Mandatory {
		return lomerrors.ValidationError("last_result_code", "non-zero predecessor result requires a mandatory action")
	}

	instanceID := uuid.New().String()
	m := message.New(message.ActionRequest)
	setters := []struct{ key, val string }{
		{"client_name", h.clientName},
		{"action_name", h.actionName},
		{"request_type", message.RequestTypeAction},
		{"instance_id", instanceID},
		{"anomaly_instance_id", anomalyInstanceID},
	}
	for _, s := range setters {
		if err := m.Set(s.key, s.val); err != nil {
			return err
		}
	}
	if anomalyKey != "" {
		if err := m.Set("anomaly_key", anomalyKey); err != nil {
			return err
		}
	}
	if contextJSON != "" {
		if err := m.Set("context", contextJSON); err != nil {
			return err
		}
	}
	if err := m.Set("timeout", strconv.Itoa(timeoutSeconds)); err != nil {
		return err
	}

	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	if err := h.deps.Transport.Write(h.clientName, payload); err != nil {
		return lomerrors.FailedToWithDetails("raise request", "handler", h.actionName, err)
	}

	now := time.Now()
	h.anomalyName = anomalyName
	h.anomalyInstanceID = anomalyInstanceID
	h.anomalyKey = anomalyKey
	h.currentInstanceID = instanceID
	if timeoutSeconds > 0 {
		h.deadline = now.Add(time.Duration(timeoutSeconds) * time.Second)
		h.deps.Timers.RegisterAt(h.actionName, h.deadline)
	} else {
		h.deadline = time.Time{}
	}
	h.state = StateActive
	return nil
}

func (h *ActionHandler) recurrenceBlocked(anomalyName, anomalyKey string) bool {
	if h.recurrence == nil {
		return false
	}
	_, ok := h.recurrence.Allow(anomalyName + "|" + anomalyKey)
	return !ok
}

// ProcessResponse always publishes, then — only when the handler is
// ACTIVE and the response matches the outstanding instance id — notifies
// the owning anomaly and resets to idle. A stale response is published
// but otherwise dropped (spec.md §4.5 "process_response").
func (h *ActionHandler) ProcessResponse(msg *message.Message) error {
	h.publishResponse(msg, "")

	if h.state != StateActive {
		return nil
	}
	if msg.Attrs["instance_id"] != h.currentInstanceID {
		return nil
	}

	anomalyName := h.anomalyName
	h.ResetToIdle()
	h.notifyOwner(anomalyName, msg)
	return nil
}

func (h *ActionHandler) notifyOwner(anomalyName string, msg *message.Message) {
	if anomalyName == "" || h.deps.Lookup == nil {
		return
	}
	owner, ok := h.deps.Lookup.Handler(anomalyName)
	if !ok {
		return
	}
	if notifiee, ok := owner.(ChildNotifiee); ok {
		notifiee.OnChildResponse(h.actionName, msg)
	}
}

// CheckTimeout is invoked by the timer. It acts only while the handler is
// ACTIVE or TIMED_OUT; before the deadline it re-registers the timer and
// returns, past it it synthesizes the timeout response (spec.md §4.5
// "check_timeout").
func (h *ActionHandler) CheckTimeout(now time.Time) error {
	if h.state != StateActive && h.state != StateTimedOut {
		return nil
	}
	if h.deadline.IsZero() || now.Before(h.deadline) {
		if !h.deadline.IsZero() {
			h.deps.Timers.RegisterAt(h.actionName, h.deadline)
		}
		return nil
	}

	synthetic := message.New(message.ActionResponse)
	_ = synthetic.Set("client_name", h.clientName)
	_ = synthetic.Set("action_name", h.actionName)
	_ = synthetic.Set("request_type", message.RequestTypeAction)
	_ = synthetic.Set("instance_id", h.currentInstanceID)
	_ = synthetic.Set("anomaly_instance_id", h.anomalyInstanceID)
	_ = synthetic.Set("action_data", "{}")
	_ = synthetic.Set("result_code", strconv.Itoa(timedOutErrno))
	_ = synthetic.Set("result_str", "Action timedout")
	if h.anomalyKey != "" {
		_ = synthetic.Set("anomaly_key", h.anomalyKey)
	}

	h.publishResponse(synthetic, "")

	anomalyName := h.anomalyName
	h.ResetToIdle()
	h.notifyOwner(anomalyName, synthetic)
	return nil
}

// TouchHeartbeat accepts only if instanceID matches the current request;
// it never changes state (spec.md §4.5 "touch_heartbeat").
func (h *ActionHandler) TouchHeartbeat(instanceID string) error {
	if h.state == StateNone || instanceID != h.currentInstanceID {
		return lomerrors.ValidationError("instance_id", "heartbeat does not match the current request")
	}
	h.lastHeartbeat = time.Now()
	return nil
}

// ResetToIdle deregisters the timer, clears the in-flight request fields,
// and returns the handler to NONE (spec.md §4.5 "reset_to_idle").
func (h *ActionHandler) ResetToIdle() {
	h.deps.Timers.Deregister(h.actionName)
	h.state = StateNone
	h.currentInstanceID = ""
	h.anomalyName = ""
	h.anomalyInstanceID = ""
	h.anomalyKey = ""
	h.deadline = time.Time{}
}

// Shutdown sends a best-effort request_type=shutdown ACTION_REQUEST so the
// owning client can quiesce before the engine exits (SPEC_FULL.md
// "Supplemented: shutdown handling"). The caller (the dispatcher) only
// invokes this on handlers already in a non-NONE state; it does not touch
// h.state and does not wait for a response.
func (h *ActionHandler) Shutdown() error {
	instanceID := h.currentInstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	m := message.New(message.ActionRequest)
	setters := []struct{ key, val string }{
		{"client_name", h.clientName},
		{"action_name", h.actionName},
		{"request_type", message.RequestTypeShutdown},
		{"instance_id", instanceID},
		{"anomaly_instance_id", h.anomalyInstanceID},
	}
	for _, s := range setters {
		if err := m.Set(s.key, s.val); err != nil {
			return err
		}
	}
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	return h.deps.Transport.Write(h.clientName, payload)
}

// publishResponse pushes msg's attributes to the publish sink under the
// action's name, optionally adding the publish-only "state" key (spec.md
// §6 "Publication schema" — state is empty for a plain response, or
// message.StatePending/StateDone while a mitigation run is in progress).
func (h *ActionHandler) publishResponse(msg *message.Message, state string) {
	if h.deps.Publisher == nil {
		return
	}
	body := make(map[string]interface{}, len(msg.Attrs)+1)
	for k, v := range msg.Attrs {
		body[k] = v
	}
	if state != "" {
		body["state"] = state
	}
	if err := h.deps.Publisher.Publish(h.actionName, body); err != nil {
		h.deps.Log.Error(err, "publish failed", logging.HandlerFields("process_response", h.clientName, h.actionName).KeysAndValues()...)
	}
}

package handler

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/lock"
	"github.com/sonic-net/lom-engine/pkg/message"
	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// bindingFailedErrno stamps anomalyResp.result_code whenever a mitigation
// sequence ends without a bound action ever reporting its own failure code:
// an unresolved/disabled binding, a lookup miss mid-sequence, or a refused
// raise_request (e.g. recurrence suppression — spec.md §8 boundary
// behaviors, S5).
const bindingFailedErrno = 111

// AnomalyHandler extends ActionHandler with a bound remediation sequence
// (spec.md §4.6), grounded on original_source's AnomalyActionHandler
// (src/server/engine.h). It self-raises its detection request at
// construction and never accepts an external raise_request.
type AnomalyHandler struct {
	ActionHandler

	bindings                 []string
	mitigationTimeoutSeconds int

	recordedAnomalyKey string
	context            map[string]json.RawMessage
	anomalyResp        *message.Message
	mitigationFailed   bool
	done               bool // latch: at most one DONE publish per mitigation run

	plan               []string
	planIndex          int
	mitigationDeadline time.Time
}

// NewAnomalyHandler constructs an anomaly handler and immediately issues
// its self-raised detection request (spec.md §4.6 "Self-raised request").
func NewAnomalyHandler(clientName, actionName string, conf config.ActionConfig, bindings []string, deps Deps) (*AnomalyHandler, error) {
	ah := &AnomalyHandler{
		ActionHandler:            *NewActionHandler(clientName, actionName, conf, deps),
		bindings:                 bindings,
		mitigationTimeoutSeconds: conf.MitigationTimeoutSeconds,
	}
	if err := ah.selfRaise(); err != nil {
		return nil, err
	}
	return ah, nil
}

// selfRaise emits the detection request with an empty anomaly context and
// no per-request timeout (spec.md §4.6).
func (ah *AnomalyHandler) selfRaise() error {
	return ah.ActionHandler.raiseRequest("", "", "", "{}", 0, 0)
}

// RaiseRequest shadows the embedded ActionHandler.RaiseRequest: an anomaly
// handler only ever raises its own detection request.
func (ah *AnomalyHandler) RaiseRequest(anomalyName, anomalyInstanceID, anomalyKey, contextJSON string, lastResultCode int) error {
	return lomerrors.ValidationError("action_name", "anomaly action "+ah.actionName+" does not accept an external raise_request")
}

// ProcessResponse handles the detection response while ACTIVE (spec.md
// §4.6 "On detection"), shadowing ActionHandler.ProcessResponse entirely
// since an anomaly's response-handling semantics differ from a regular
// action's.
func (ah *AnomalyHandler) ProcessResponse(msg *message.Message) error {
	ah.publishResponse(msg, "")

	if ah.ActionHandler.state != StateActive {
		return nil
	}

	resultCode, _ := strconv.Atoi(msg.Attrs["result_code"])
	if msg.Attrs["instance_id"] != ah.ActionHandler.currentInstanceID || resultCode != 0 {
		ah.ActionHandler.ResetToIdle()
		return ah.selfRaise()
	}

	ah.recordedAnomalyKey = msg.Attrs["anomaly_key"]
	ah.context = map[string]json.RawMessage{
		ah.actionName: actionDataOrEmpty(msg.Attrs["action_data"]),
	}
	ah.anomalyResp = msg
	ah.mitigationFailed = false
	ah.done = false
	ah.ActionHandler.state = StateLockPending
	return ah.ResumeOnLock()
}

func actionDataOrEmpty(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

// ResumeOnLock attempts to acquire the mitigation lock. When queued it
// republishes the cached detection response stamped PENDING and stays
// LOCK_PENDING; when held it computes the binding plan and starts the
// mitigation sequence (spec.md §4.6 "resume_on_lock").
func (ah *AnomalyHandler) ResumeOnLock() error {
	timeoutMs := ah.mitigationTimeoutSeconds * 1000
	if timeoutMs < ah.deps.MinLockTimeoutMs {
		timeoutMs = ah.deps.MinLockTimeoutMs
	}
	status := ah.deps.Lock.Acquire(ah.actionName, timeoutMs)
	if status == lock.Queued {
		ah.publishResponse(ah.anomalyResp, message.StatePending)
		ah.ActionHandler.state = StateLockPending
		return nil
	}

	plan := computeBindingPlan(ah.deps.Lookup, ah.actionName, ah.recordedAnomalyKey, ah.bindings)
	if len(plan) == 0 {
		ah.mitigationFailed = true
		ah.anomalyResp.Attrs["result_code"] = strconv.Itoa(bindingFailedErrno)
		ah.anomalyResp.Attrs["result_str"] = "binding plan unresolved or disabled"
		ah.finishSequence()
		return nil
	}

	ah.plan = plan
	ah.planIndex = 0
	ah.mitigationDeadline = time.Now().Add(time.Duration(ah.mitigationTimeoutSeconds) * time.Second)
	ah.deps.Timers.RegisterAt(ah.actionName, ah.mitigationDeadline)
	ah.ActionHandler.state = StateMitigating
	return ah.raiseElement(ah.planIndex, 0)
}

// raiseElement issues plan[index]'s request, using context.json() and the
// prior element's result code, forcing the plan to end on a write error
// (spec.md §4.6.1 "on_child_response" step 4).
func (ah *AnomalyHandler) raiseElement(index int, lastResultCode int) error {
	name := ah.plan[index]
	h, ok := ah.deps.Lookup.Handler(name)
	if !ok {
		ah.failElement()
		return nil
	}
	raiser, ok := h.(Raiser)
	if !ok {
		ah.failElement()
		return nil
	}
	if err := raiser.RaiseRequest(ah.actionName, ah.currentInstanceID, ah.recordedAnomalyKey, ah.contextJSON(), lastResultCode); err != nil {
		ah.deps.Log.Error(err, "bound action could not be raised", "anomaly", ah.actionName, "action", name)
		ah.failElement()
		return nil
	}
	return nil
}

// failElement ends the sequence after a bound action could not even be
// raised (unresolved lookup, not a Raiser, or a refused raise_request).
// It preserves an earlier recorded failure code rather than overwriting it
// (spec.md §8 S4 "the first failure, not M2's").
func (ah *AnomalyHandler) failElement() {
	if !ah.mitigationFailed {
		ah.mitigationFailed = true
		ah.anomalyResp.Attrs["result_code"] = strconv.Itoa(bindingFailedErrno)
		ah.anomalyResp.Attrs["result_str"] = "bound action could not be raised"
	}
	ah.planIndex = len(ah.plan)
	ah.finishSequence()
}

// OnChildResponse advances the mitigation sequence on a bound action's
// response (spec.md §4.6.1 "on_child_response").
func (ah *AnomalyHandler) OnChildResponse(actionName string, msg *message.Message) {
	if ah.ActionHandler.state != StateMitigating || ah.planIndex >= len(ah.plan) {
		return
	}
	if actionName != ah.plan[ah.planIndex] {
		return
	}
	if msg.Attrs["anomaly_key"] != ah.recordedAnomalyKey {
		return
	}

	ah.context[actionName] = actionDataOrEmpty(msg.Attrs["action_data"])

	resultCode, _ := strconv.Atoi(msg.Attrs["result_code"])
	if resultCode != 0 && !ah.mitigationFailed {
		ah.mitigationFailed = true
		ah.anomalyResp.Attrs["result_code"] = msg.Attrs["result_code"]
		ah.anomalyResp.Attrs["result_str"] = msg.Attrs["result_str"]
	}

	ah.planIndex++
	if ah.mitigationFailed {
		ah.skipToNextMandatory()
	}

	if ah.planIndex < len(ah.plan) {
		lastResultCode := 0
		if ah.mitigationFailed {
			lastResultCode = resultCode
			if lastResultCode == 0 {
				if rc, err := strconv.Atoi(ah.anomalyResp.Attrs["result_code"]); err == nil {
					lastResultCode = rc
				}
			}
		}
		_ = ah.raiseElement(ah.planIndex, lastResultCode)
		return
	}
	ah.finishSequence()
}

// skipToNextMandatory advances planIndex past non-mandatory, still
// enabled elements once the sequence has failed, stopping at the next
// mandatory element or the end of the plan (spec.md §4.6.1).
func (ah *AnomalyHandler) skipToNextMandatory() {
	for ah.planIndex < len(ah.plan) {
		h, ok := ah.deps.Lookup.Handler(ah.plan[ah.planIndex])
		if ok && h.IsMandatory() && h.IsEnabled(ah.actionName, ah.recordedAnomalyKey, true) {
			return
		}
		ah.planIndex++
	}
}

// contextJSON renders the accumulated per-action context as the JSON
// object string the next request carries (spec.md §4.6.1 "context.json()").
func (ah *AnomalyHandler) contextJSON() string {
	b, err := json.Marshal(ah.context)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// CheckTimeout dispatches to the mitigation-timeout handling while
// MITIGATING, or falls back to the embedded detection-phase timeout
// otherwise (spec.md §4.6 "check_timeout (mitigation timeout)").
func (ah *AnomalyHandler) CheckTimeout(now time.Time) error {
	if ah.ActionHandler.state != StateMitigating {
		return ah.ActionHandler.CheckTimeout(now)
	}
	if now.Before(ah.mitigationDeadline) {
		ah.deps.Timers.RegisterAt(ah.actionName, ah.mitigationDeadline)
		return nil
	}
	if ah.done {
		return nil
	}

	ah.mitigationFailed = true
	ah.anomalyResp.Attrs["result_str"] = "Timed out waiting for mitigation sequence to complete"
	ah.publishResponse(ah.anomalyResp, message.StateDone)
	ah.done = true
	// sequence_complete() is deliberately not called yet: the outstanding
	// child response (or its own timeout) still must converge through
	// OnChildResponse (spec.md §4.6).
	return nil
}

// finishSequence stamps and publishes the final DONE response (unless
// already latched by a prior mitigation-timeout publish) and always
// releases the lock and resets for the next detection cycle (spec.md
// §4.6 "sequence_complete").
func (ah *AnomalyHandler) finishSequence() {
	if !ah.done {
		ah.done = true
		ah.publishResponse(ah.anomalyResp, message.StateDone)
	}
	ah.sequenceComplete()
}

// sequenceComplete releases the lock, clears the mitigation-run state,
// deregisters the mitigation timer, resets to idle, and self-raises the
// next detection cycle. The caller (dispatcher) is responsible for
// invoking lock.DrainPending afterward (spec.md §4.6 "sequence_complete").
func (ah *AnomalyHandler) sequenceComplete() {
	ah.deps.Lock.Release(ah.actionName)
	ah.deps.Timers.Deregister(ah.actionName)
	ah.context = nil
	ah.plan = nil
	ah.planIndex = 0
	ah.mitigationFailed = false
	ah.anomalyResp = nil
	ah.ActionHandler.ResetToIdle()
	if err := ah.selfRaise(); err != nil {
		ah.deps.Log.Error(err, "failed to self-raise next detection cycle", "action", ah.actionName)
	}
}

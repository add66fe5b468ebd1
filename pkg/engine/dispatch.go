package engine

import (
	"github.com/sonic-net/lom-engine/pkg/handler"
	"github.com/sonic-net/lom-engine/pkg/message"
	"github.com/sonic-net/lom-engine/pkg/metrics"
	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
	"github.com/sonic-net/lom-engine/pkg/transport"
)

// dispatch implements spec.md §4.8's table, plus the SHUTDOWN supplement
// from SPEC_FULL.md. A returned error is logged by the caller; dispatch
// itself never terminates the loop (spec.md §4.8 "Any dispatcher error is
// logged; the engine does not exit").
func (e *Engine) dispatch(frame *transport.Frame) error {
	msg, err := message.Decode(frame.Payload)
	if err != nil {
		return err
	}

	switch msg.Variant {
	case message.RegisterClient:
		return e.manager.RegisterClient(msg.Attrs["client_name"])
	case message.DeregisterClient:
		e.manager.DeregisterClient(msg.Attrs["client_name"])
		return nil
	case message.RegisterAction:
		return e.manager.RegisterAction(msg.Attrs["client_name"], msg.Attrs["action_name"])
	case message.Heartbeat:
		return e.dispatchHeartbeat(msg)
	case message.ActionResponse:
		return e.dispatchActionResponse(msg)
	case message.Shutdown:
		return e.dispatchShutdown()
	default:
		return lomerrors.ValidationError("variant", "unhandled dispatch variant "+string(msg.Variant))
	}
}

func (e *Engine) dispatchHeartbeat(msg *message.Message) error {
	h, ok := e.manager.Handler(msg.Attrs["action_name"])
	if !ok {
		return lomerrors.ValidationError("action_name", "no handler registered for "+msg.Attrs["action_name"])
	}
	if err := h.TouchHeartbeat(msg.Attrs["instance_id"]); err != nil {
		return err
	}
	metrics.RecordHeartbeat(msg.Attrs["action_name"])
	return nil
}

func (e *Engine) dispatchActionResponse(msg *message.Message) error {
	h, ok := e.manager.Handler(msg.Attrs["action_name"])
	if !ok {
		return lomerrors.ValidationError("action_name", "no handler registered for "+msg.Attrs["action_name"])
	}
	return h.ProcessResponse(msg)
}

// dispatchShutdown implements SPEC_FULL.md's shutdown supplement: every
// handler still in a non-NONE state gets a best-effort request_type=
// shutdown ACTION_REQUEST so its owning client can quiesce. SHUTDOWN does
// not stop the engine: it does not wait for responses and does not skip
// the remainder of the current loop iteration.
func (e *Engine) dispatchShutdown() error {
	var errs []error
	for _, h := range e.manager.Handlers() {
		if h.State() == handler.StateNone {
			continue
		}
		if err := h.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return lomerrors.Chain(errs...)
}

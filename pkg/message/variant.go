// Package message implements the wire message taxonomy shared by the
// engine and its clients (spec.md §3 "Request message", §4.2, §6).
package message

// Variant names the one top-level JSON key every message carries.
type Variant string

const (
	RegisterClient   Variant = "register_client"
	DeregisterClient Variant = "deregister_client"
	RegisterAction   Variant = "register_action"
	Heartbeat        Variant = "heartbeat"
	ActionRequest    Variant = "action_request"
	ActionResponse   Variant = "action_response"
	Shutdown         Variant = "shutdown"
)

// RequestType values carried by action_request/action_response (spec.md
// §6 "request_type ∈ {action, shutdown}").
const (
	RequestTypeAction   = "action"
	RequestTypeShutdown = "shutdown"
)

// Publication-only state values: spec.md §6 "Publication schema" adds a
// "state" key to the published JSON while a mitigation run is in progress.
// This is not a validated action_response wire attribute between engine
// and client — it is stamped onto the publish body only.
const (
	StatePending = "PENDING"
	StateDone    = "DONE"
)

// attributeSpec describes one variant's required and optional attribute
// names (spec.md §6's wire table, reproduced exactly).
type attributeSpec struct {
	required []string
	optional []string
}

var specs = map[Variant]attributeSpec{
	RegisterClient: {
		required: []string{"client_name"},
	},
	DeregisterClient: {
		required: []string{"client_name"},
	},
	RegisterAction: {
		required: []string{"client_name", "action_name"},
	},
	Heartbeat: {
		required: []string{"client_name", "action_name", "instance_id"},
	},
	ActionRequest: {
		required: []string{"client_name", "action_name", "request_type", "instance_id", "anomaly_instance_id"},
		optional: []string{"anomaly_key", "context", "timeout", "heartbeat_interval"},
	},
	ActionResponse: {
		required: []string{"client_name", "action_name", "request_type", "instance_id", "anomaly_instance_id", "action_data", "result_code"},
		optional: []string{"anomaly_key", "result_str"},
	},
}

// Shutdown reuses the action_request attribute table: it
// is an anomaly-style one-shot request (spec.md §4.8 dispatcher row), not
// a distinct attribute shape.
func init() {
	specs[Shutdown] = specs[ActionRequest]
}

func (v Variant) spec() (attributeSpec, bool) {
	s, ok := specs[v]
	return s, ok
}

// allowedKeys returns the union of required and optional attribute names
// for v.
func (v Variant) allowedKeys() map[string]bool {
	s, ok := v.spec()
	allowed := make(map[string]bool, len(s.required)+len(s.optional))
	if !ok {
		return allowed
	}
	for _, k := range s.required {
		allowed[k] = true
	}
	for _, k := range s.optional {
		allowed[k] = true
	}
	return allowed
}

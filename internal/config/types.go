// Package config loads and hot-reloads the engine's three validated
// records (actions, bindings, client allow-list) plus globals, per
// spec.md §6.
package config

import "time"

const (
	// DefaultConfigPath is used when LOM_CONFIG_PATH is unset.
	DefaultConfigPath = "/usr/shared/LoM/config"

	defaultTimeoutSeconds           = 60
	maxTimeoutSeconds               = 300
	defaultMitigationTimeoutSeconds = 120
	defaultHeartbeatInterval        = 5 * time.Second

	actionsFileName  = "actions.conf.json"
	bindingsFileName = "bindings.conf.json"
	procsFileName    = "procs.conf.json"
	globalsFileName  = "lom.rc.json"
)

// ActionConfig is one action's configuration record (spec.md §3 "Action
// configuration"). Every field is optional; zero values are replaced by
// the documented defaults in normalize().
type ActionConfig struct {
	TimeoutSeconds           int  `json:"timeout_seconds"`
	Disable                  bool `json:"disable"`
	Mimic                    bool `json:"mimic"`
	Mandatory                bool `json:"mandatory"`
	MinRecurrenceSeconds     int  `json:"min_recurrence_seconds"`
	HeartbeatIntervalSeconds int  `json:"heartbeat_interval_seconds"`
	MitigationTimeoutSeconds int  `json:"mitigation_timeout_seconds"`
}

// normalize applies the defaults and clamp documented in spec.md §3: an
// unspecified (zero) timeout_seconds defaults to 60, and any value over
// 300 clamps to 300; an unspecified mitigation_timeout_seconds defaults to
// 120.
func (a *ActionConfig) normalize() {
	if a.TimeoutSeconds == 0 {
		a.TimeoutSeconds = defaultTimeoutSeconds
	}
	if a.TimeoutSeconds > maxTimeoutSeconds {
		a.TimeoutSeconds = maxTimeoutSeconds
	}
	if a.MitigationTimeoutSeconds == 0 {
		a.MitigationTimeoutSeconds = defaultMitigationTimeoutSeconds
	}
}

// ActionsConfig maps action name to its configuration record.
type ActionsConfig map[string]ActionConfig

// Bindings maps anomaly action name to its ordered remediation plan
// (spec.md §3 "Binding").
type Bindings map[string][]string

// ClientAllowList is the ordered list of permitted client names
// (spec.md §6 procs.conf.json).
type ClientAllowList []string

// Allows reports whether name appears in the list (spec.md §4.8
// "register_client" implicitly requires the allow-list membership check
// original_source performs before accepting a client).
func (c ClientAllowList) Allows(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

// Globals carries lom.rc.json's recognized keys plus this SPEC_FULL's
// additive knobs (SPEC_FULL.md §6 "Supplemented").
type Globals struct {
	HeartbeatInterval time.Duration
	MinLockTimeoutMs  int
	MetricsPort       int
}

// Config is the full, validated configuration snapshot the engine acts on.
type Config struct {
	Actions  ActionsConfig
	Bindings Bindings
	Clients  ClientAllowList
	Globals  Globals
}

// IsAnomaly reports whether actionName is classified as an anomaly action,
// i.e. it is a key in the binding table (spec.md §3 "Binding").
func (c *Config) IsAnomaly(actionName string) bool {
	_, ok := c.Bindings[actionName]
	return ok
}

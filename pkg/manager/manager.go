// Package manager implements the client/action registries the dispatcher
// drives (spec.md §4.8), grounded on original_source's ActionManager
// (src/server/engine.h) which owns the client->actions and action->handler
// maps this package mirrors.
package manager

import (
	"github.com/go-logr/logr"

	"github.com/sonic-net/lom-engine/internal/config"
	"github.com/sonic-net/lom-engine/pkg/handler"
	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
	"github.com/sonic-net/lom-engine/pkg/shared/logging"
)

// Manager owns every live handler plus which client registered each
// action, satisfying handler.Lookup so handlers can resolve siblings
// without holding references to each other (spec.md §9).
//
// The engine's dispatch loop is single-threaded (spec.md §5 "Scheduling
// model"), so Manager takes no lock of its own.
type Manager struct {
	cfg  *config.Config
	deps handler.Deps
	log  logr.Logger

	clients     map[string]bool
	actionOwner map[string]string
	handlers    map[string]handler.Handler
}

// New constructs an empty Manager bound to cfg and deps. deps.Lookup is
// overwritten with the Manager itself so every handler it creates resolves
// siblings through this registry (spec.md §9 "manager.get_handler(name)")
// regardless of what the caller passed. SetConfig lets the engine swap in
// a reloaded config (SIGHUP) without disturbing live handlers or
// registrations.
func New(cfg *config.Config, deps handler.Deps, log logr.Logger) *Manager {
	m := &Manager{
		cfg:         cfg,
		log:         log,
		clients:     make(map[string]bool),
		actionOwner: make(map[string]string),
		handlers:    make(map[string]handler.Handler),
	}
	deps.Lookup = m
	m.deps = deps
	return m
}

// SetConfig swaps the active configuration snapshot, used after a SIGHUP
// reload (spec.md §4.7 step 6). It does not disturb already-registered
// clients, actions, or handler state.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.cfg = cfg
}

// Handler implements handler.Lookup.
func (m *Manager) Handler(actionName string) (handler.Handler, bool) {
	h, ok := m.handlers[actionName]
	return h, ok
}

// Handlers returns every currently registered handler, used by the engine
// to fire timers, check heartbeats, and drive shutdown (spec.md §4.7/§4.8).
func (m *Manager) Handlers() []handler.Handler {
	out := make([]handler.Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h)
	}
	return out
}

// RegisterClient re-registers clientName, first dropping any prior
// registration under that name so a reconnect always starts clean (spec.md
// §4.8 "REGISTER_CLIENT: deregister_client(name) then register_client
// (name)").
func (m *Manager) RegisterClient(clientName string) error {
	if !m.cfg.Clients.Allows(clientName) {
		return lomerrors.ValidationError("client_name", "client "+clientName+" is not in the allow-list")
	}
	m.DeregisterClient(clientName)
	m.clients[clientName] = true
	m.log.Info("client registered", logging.ManagerFields("register_client", clientName, "").KeysAndValues()...)
	return nil
}

// DeregisterClient drops clientName and every action handler it owns
// (spec.md §4.8 "DEREGISTER_CLIENT: drop all actions owned by the client
// ... remove client entry").
func (m *Manager) DeregisterClient(clientName string) {
	for action, owner := range m.actionOwner {
		if owner == clientName {
			delete(m.handlers, action)
			delete(m.actionOwner, action)
		}
	}
	delete(m.clients, clientName)
}

// RegisterAction validates and creates the handler for actionName, owned
// by clientName: the client must already be registered, the action must
// have a non-disabled configuration record, and it must not already be
// owned by a different client. An anomaly or regular handler is created
// depending on bindings membership; an anomaly handler self-raises its
// detection request at construction (spec.md §4.8 "REGISTER_ACTION").
func (m *Manager) RegisterAction(clientName, actionName string) error {
	if !m.clients[clientName] {
		return lomerrors.ValidationError("client_name", "client "+clientName+" is not registered")
	}
	conf, ok := m.cfg.Actions[actionName]
	if !ok {
		return lomerrors.ValidationError("action_name", "no configuration for action "+actionName)
	}
	if conf.Disable {
		return lomerrors.ValidationError("action_name", "action "+actionName+" is disabled")
	}
	if owner, exists := m.actionOwner[actionName]; exists && owner != clientName {
		return lomerrors.ValidationError("action_name", "action "+actionName+" already owned by "+owner)
	}

	var h handler.Handler
	if m.cfg.IsAnomaly(actionName) {
		ah, err := handler.NewAnomalyHandler(clientName, actionName, conf, m.cfg.Bindings[actionName], m.deps)
		if err != nil {
			return lomerrors.FailedToWithDetails("register anomaly action", "manager", actionName, err)
		}
		h = ah
	} else {
		h = handler.NewActionHandler(clientName, actionName, conf, m.deps)
	}

	m.handlers[actionName] = h
	m.actionOwner[actionName] = clientName
	m.log.Info("action registered", logging.ManagerFields("register_action", clientName, actionName).KeysAndValues()...)
	return nil
}

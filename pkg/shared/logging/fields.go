// Package logging supplies the structured-field vocabulary shared across
// the engine and a logr.Logger constructor backed by zap.
package logging

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// Fields is a chainable structured-field builder, fed into logr's
// WithValues via KeysAndValues.
type Fields map[string]interface{}

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) Client(name string) Fields {
	f["client"] = name
	return f
}

func (f Fields) Action(name string) Fields {
	f["action"] = name
	return f
}

func (f Fields) InstanceID(id string) Fields {
	if id != "" {
		f["instance_id"] = id
	}
	return f
}

func (f Fields) AnomalyKey(key string) Fields {
	f["anomaly_key"] = key
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// KeysAndValues flattens Fields into the alternating key/value slice that
// logr.Logger.WithValues/Info/Error expect.
func (f Fields) KeysAndValues() []interface{} {
	kv := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		kv = append(kv, k, v)
	}
	return kv
}

// HandlerFields is the standard field set logged around action handler
// state transitions (spec.md §4.5/§4.6).
func HandlerFields(operation, client, action string) Fields {
	return NewFields().Component("handler").Operation(operation).Client(client).Action(action)
}

// TransportFields is the standard field set logged around per-client
// framed IPC operations (spec.md §4.1).
func TransportFields(operation, client string) Fields {
	return NewFields().Component("transport").Operation(operation).Client(client)
}

// ManagerFields is the standard field set logged around client/action
// registry mutations (spec.md §4.8 dispatcher rows).
func ManagerFields(operation, client, action string) Fields {
	return NewFields().Component("manager").Operation(operation).Client(client).Action(action)
}

// NewLogger builds a logr.Logger backed by a production zap core, the
// interface every package in this engine accepts rather than a concrete
// backend.
func NewLogger() (logr.Logger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// NewDevelopmentLogger builds a human-readable logr.Logger for local runs
// and tests.
func NewDevelopmentLogger() logr.Logger {
	zl, err := zap.NewDevelopment()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl)
}

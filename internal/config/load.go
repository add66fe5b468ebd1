package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// Load reads all four configuration files from dir (typically
// $LOM_CONFIG_PATH or DefaultConfigPath) and returns a validated Config.
// A missing or empty file is fatal (spec.md §4.7 step 2 / §7 Configuration
// errors).
func Load(dir string) (*Config, error) {
	actions, err := loadActions(filepath.Join(dir, actionsFileName))
	if err != nil {
		return nil, err
	}
	bindings, err := loadBindings(filepath.Join(dir, bindingsFileName))
	if err != nil {
		return nil, err
	}
	clients, err := loadClients(filepath.Join(dir, procsFileName))
	if err != nil {
		return nil, err
	}
	globals, err := loadGlobals(filepath.Join(dir, globalsFileName))
	if err != nil {
		return nil, err
	}

	return &Config{
		Actions:  actions,
		Bindings: bindings,
		Clients:  clients,
		Globals:  globals,
	}, nil
}

// ResolveConfigPath returns $LOM_CONFIG_PATH, falling back to
// DefaultConfigPath (spec.md §6 "Environment variables").
func ResolveConfigPath() string {
	if p := os.Getenv("LOM_CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}

func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lomerrors.ConfigurationError(path, lomerrors.FailedTo("read config file", err).Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, lomerrors.ConfigurationError(path, "config file is empty")
	}
	return data, nil
}

func loadActions(path string) (ActionsConfig, error) {
	data, err := readNonEmpty(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]ActionConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, lomerrors.ConfigurationError(path, err.Error())
	}
	if len(raw) == 0 {
		return nil, lomerrors.ConfigurationError(path, "no actions configured")
	}
	out := make(ActionsConfig, len(raw))
	for name, cfg := range raw {
		cfg.normalize()
		out[name] = cfg
	}
	return out, nil
}

func loadBindings(path string) (Bindings, error) {
	data, err := readNonEmpty(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, lomerrors.ConfigurationError(path, err.Error())
	}
	if len(raw) == 0 {
		return nil, lomerrors.ConfigurationError(path, "no bindings configured")
	}
	out := make(Bindings, len(raw))
	for anomaly, indexed := range raw {
		indices := make([]int, 0, len(indexed))
		for idx := range indexed {
			n, err := strconv.Atoi(idx)
			if err != nil {
				return nil, lomerrors.ConfigurationError(path, fmt.Sprintf("binding index %q for %q is not numeric", idx, anomaly))
			}
			indices = append(indices, n)
		}
		sort.Ints(indices)
		plan := make([]string, 0, len(indices))
		for _, n := range indices {
			plan = append(plan, indexed[strconv.Itoa(n)])
		}
		out[anomaly] = plan
	}
	return out, nil
}

// loadClients parses procs.conf.json's keys in file order, since spec.md
// §6 requires the allow-list to preserve declaration order and Go's
// encoding/json map decoding does not.
func loadClients(path string) (ClientAllowList, error) {
	data, err := readNonEmpty(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening '{'
		return nil, lomerrors.ConfigurationError(path, err.Error())
	}

	var clients ClientAllowList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, lomerrors.ConfigurationError(path, err.Error())
		}
		key, _ := keyTok.(string)
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, lomerrors.ConfigurationError(path, err.Error())
		}
		clients = append(clients, key)
	}
	if len(clients) == 0 {
		return nil, lomerrors.ConfigurationError(path, "no clients configured")
	}
	return clients, nil
}

func loadGlobals(path string) (Globals, error) {
	data, err := readNonEmpty(path)
	if err != nil {
		return Globals{}, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Globals{}, lomerrors.ConfigurationError(path, err.Error())
	}

	g := Globals{HeartbeatInterval: defaultHeartbeatInterval}
	if v, ok := numericValue(raw["HEARTBEAT_INTERVAL"]); ok {
		g.HeartbeatInterval = time.Duration(v) * time.Second
	}
	if v, ok := numericValue(raw["MIN_LOCK_TIMEOUT_MS"]); ok {
		g.MinLockTimeoutMs = int(v)
	}
	if v, ok := numericValue(raw["METRICS_PORT"]); ok {
		g.MetricsPort = int(v)
	}
	return g, nil
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// Manager owns the single live Options value, applying updates as a
// copy-on-write swap behind a mutex so no reader ever observes a
// half-applied patch.
type Manager struct {
	mu      sync.Mutex
	current Options
}

// NewManager starts a Manager at defaults, which Load or Apply then
// refine.
func NewManager() *Manager {
	return &Manager{current: Defaults()}
}

// Load reads a full options document from a YAML file, validates it,
// and replaces the current configuration wholesale.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return gwerr.Wrap(gwerr.ConfigInvalid, "read config file failed", err)
	}
	next := Defaults()
	if err := yaml.Unmarshal(data, &next); err != nil {
		return gwerr.Wrap(gwerr.ConfigInvalid, "parse config file failed", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current options, safe to read concurrently
// with Apply.
func (m *Manager) Get() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Apply merges a YAML patch document onto the current options and
// swaps it in atomically, after rejecting any key patch does not
// recognize and any value that fails Validate. A rejected update is
// terminal for that update only; the prior configuration stays live.
func (m *Manager) Apply(patch []byte) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(patch, &raw); err != nil {
		return gwerr.Wrap(gwerr.ConfigInvalid, "patch is not valid yaml", err)
	}
	for key := range raw {
		if !allowedKeys[key] {
			return gwerr.New(gwerr.ConfigInvalid, "unknown option: "+key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current
	if err := yaml.Unmarshal(patch, &next); err != nil {
		return gwerr.Wrap(gwerr.ConfigInvalid, "patch failed to decode", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.current = next
	return nil
}

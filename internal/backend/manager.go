package backend

import (
	"sort"

	"github.com/davidsonq/modelforge/internal/log"
)

// Manager holds the registered backends and resolves names to adapters.
type Manager struct {
	backends map[string]Backend
}

// NewManager returns a manager with the standard adapters registered.
func NewManager() *Manager {
	m := &Manager{backends: make(map[string]Backend)}
	m.Register(NewONNX())
	m.Register(NewOpenVINO())
	m.Register(NewBetterTransformer())
	return m
}

// Register adds a backend, replacing any previous one of the same name.
func (m *Manager) Register(b Backend) {
	m.backends[b.Name()] = b
}

// Get resolves a backend by name. Unknown or uninstalled backends return an
// UnsupportedError listing what is actually usable.
func (m *Manager) Get(name string) (Backend, error) {
	b, ok := m.backends[name]
	if !ok || !b.Available() {
		log.Warn(log.CatBackend, "backend not usable", "name", name, "known", ok)
		return nil, &UnsupportedError{Requested: name, Available: m.Available()}
	}
	return b, nil
}

// List returns all registered backend names, sorted.
func (m *Manager) List() []string {
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the names of backends whose toolchains are installed.
func (m *Manager) Available() []string {
	var names []string
	for name, b := range m.backends {
		if b.Available() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsAvailable reports whether the named backend can run on this machine.
func (m *Manager) IsAvailable(name string) bool {
	b, ok := m.backends[name]
	return ok && b.Available()
}

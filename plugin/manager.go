package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRegistered is returned when a plugin name is already taken.
	ErrAlreadyRegistered = errors.New("plugin: already registered")
	// ErrNotFound is returned when the named plugin is not registered.
	ErrNotFound = errors.New("plugin: not found")
)

// Manager enforces one instance per name and sequences initialize/destroy.
// Lifecycle errors are returned as errors because they indicate programmer
// misuse, not end-user authentication outcomes.
type Manager struct {
	mu          sync.RWMutex
	plugins     map[string]Plugin
	order       []string
	initialized map[string]bool
	log         *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		plugins:     make(map[string]Plugin),
		initialized: make(map[string]bool),
		log:         log,
	}
}

// Register installs a plugin under its name.
func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin: name cannot be empty")
	}
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}

	m.plugins[name] = p
	m.order = append(m.order, name)
	return nil
}

// Initialize delegates to the plugin's own Initialize. Failures propagate
// unchanged and leave the plugin in the Registered state.
func (m *Manager) Initialize(ctx context.Context, name string, config map[string]any) error {
	m.mu.RLock()
	p, ok := m.plugins[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := p.Initialize(ctx, config); err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized[name] = true
	m.mu.Unlock()

	m.log.Info("plugin initialized", zap.String("plugin", name))
	return nil
}

// Get returns the named plugin.
func (m *Manager) Get(name string) (Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// GetAll returns every plugin in registration order.
func (m *Manager) GetAll() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

// AuthPlugins returns the plugins exposing an authentication provider, in
// registration order. Resolution goes through the Kind discriminator.
func (m *Manager) AuthPlugins() []AuthPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AuthPlugin
	for _, name := range m.order {
		p := m.plugins[name]
		if p.Kind() != KindAuth {
			continue
		}
		ap, ok := p.(AuthPlugin)
		if !ok {
			// A plugin declaring KindAuth without the interface is a
			// programming error; skip it rather than panic mid-request.
			m.log.Warn("plugin declares auth kind without AuthPlugin interface",
				zap.String("plugin", name))
			continue
		}
		out = append(out, ap)
	}
	return out
}

// Initialized reports whether the named plugin completed Initialize.
func (m *Manager) Initialized(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized[name]
}

// Unregister destroys the plugin and removes it from the table. The plugin is
// removed even when Destroy fails; the failure is logged, not propagated,
// so bookkeeping stays consistent with the caller's view.
func (m *Manager) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.plugins, name)
	delete(m.initialized, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := p.Destroy(ctx); err != nil {
		m.log.Error("plugin destroy failed during unregister",
			zap.String("plugin", name), zap.Error(err))
	}
	return nil
}

// DestroyAll destroys every plugin in registration order, then clears the
// table. All destroy errors are joined and returned after the sweep.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.mu.Lock()
	order := m.order
	plugins := m.plugins
	m.plugins = make(map[string]Plugin)
	m.initialized = make(map[string]bool)
	m.order = nil
	m.mu.Unlock()

	var errs []error
	for _, name := range order {
		if err := plugins[name].Destroy(ctx); err != nil {
			m.log.Error("plugin destroy failed",
				zap.String("plugin", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

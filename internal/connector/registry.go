package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leftbrainit/supasaasy/internal/config"
)

// ErrUnknownConnector reports a provider name with no registered adapter.
type ErrUnknownConnector struct {
	Name string
}

func (e *ErrUnknownConnector) Error() string {
	return fmt.Sprintf("unknown connector: %s", e.Name)
}

// Registry maps provider names to connectors and app keys to their
// configured connector.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	apps       *config.AppsFile
}

// NewRegistry creates an empty registry bound to the given app config.
func NewRegistry(apps *config.AppsFile) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		apps:       apps,
	}
}

// Register adds a connector under its metadata name. Registering the
// same name twice replaces the earlier connector.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Metadata().Name] = c
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, &ErrUnknownConnector{Name: name}
	}
	return c, nil
}

// ForApp resolves an app key to its configured connector.
func (r *Registry) ForApp(appKey string) (Connector, *config.AppConfig, error) {
	r.mu.RLock()
	apps := r.apps
	r.mu.RUnlock()

	app := apps.App(appKey)
	if app == nil {
		return nil, nil, fmt.Errorf("unknown app: %s", appKey)
	}
	c, err := r.Get(app.Connector)
	if err != nil {
		return nil, nil, err
	}
	return c, app, nil
}

// Names returns registered connector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultMu       sync.RWMutex
	defaultRegistry *Registry
)

// InitDefault installs the process-wide registry. Called once at startup.
func InitDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = r
}

// Default returns the process-wide registry, or nil before InitDefault.
func Default() *Registry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRegistry
}

// ResetDefault clears the process-wide registry. Test use only.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}

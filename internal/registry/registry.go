package registry

import (
	"sync"

	"go.uber.org/zap"
)

// Registry owns the catalog of bridged apps and tracks which are active.
type Registry struct {
	mu        sync.RWMutex
	apps      map[string]AppConfig
	order     []string
	catalog   func() []AppConfig
	overrides string
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalog replaces the built-in catalog.
func WithCatalog(fn func() []AppConfig) Option {
	return func(r *Registry) { r.catalog = fn }
}

// WithOverrides layers the YAML file at path on top of the catalog.
func WithOverrides(path string) Option {
	return func(r *Registry) { r.overrides = path }
}

// New creates an empty registry. Call Initialize before use.
func New(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		apps:    make(map[string]AppConfig),
		catalog: Catalog,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize resets the registry to the canonical catalog plus overrides.
// Calling it again discards any accumulated state, active flags included.
func (r *Registry) Initialize() error {
	apps, order, err := r.build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.apps = apps
	r.order = order
	r.mu.Unlock()
	r.logger.Info("registry initialized", zap.Int("apps", len(order)))
	return nil
}

// Reload rebuilds the catalog like Initialize but keeps the active flag of
// apps that still exist.
func (r *Registry) Reload() error {
	apps, order, err := r.build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	for id, prev := range r.apps {
		if next, ok := apps[id]; ok {
			next.IsActive = prev.IsActive
			apps[id] = next
		}
	}
	r.apps = apps
	r.order = order
	r.mu.Unlock()
	r.logger.Info("registry reloaded", zap.Int("apps", len(order)))
	return nil
}

func (r *Registry) build() (map[string]AppConfig, []string, error) {
	base := r.catalog()
	apps := make(map[string]AppConfig, len(base))
	order := make([]string, 0, len(base))
	for _, app := range base {
		if err := app.Validate(); err != nil {
			return nil, nil, err
		}
		if _, dup := apps[app.ID]; dup {
			continue
		}
		apps[app.ID] = app.Clone()
		order = append(order, app.ID)
	}
	if r.overrides != "" {
		order = applyOverridesFile(r.overrides, apps, order, r.logger)
	}
	return apps, order, nil
}

// GetApp returns a copy of the app with the given id.
func (r *Registry) GetApp(id string) (AppConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[id]
	if !ok {
		return AppConfig{}, false
	}
	return app.Clone(), true
}

// GetAllApps returns copies of every app in catalog order.
func (r *Registry) GetAllApps() []AppConfig {
	return r.collect(func(AppConfig) bool { return true })
}

// GetActiveApps returns copies of the active apps in catalog order.
func (r *Registry) GetActiveApps() []AppConfig {
	return r.collect(func(a AppConfig) bool { return a.IsActive })
}

// IsActive reports whether id is known and active.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps[id].IsActive
}

func (r *Registry) collect(keep func(AppConfig) bool) []AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppConfig, 0, len(r.order))
	for _, id := range r.order {
		if app := r.apps[id]; keep(app) {
			out = append(out, app.Clone())
		}
	}
	return out
}

// MarkAppAsActive flags id as active. Unknown ids are ignored.
func (r *Registry) MarkAppAsActive(id string) {
	r.setActive(id, true)
}

// MarkAppAsInactive flags id as inactive. Unknown ids are ignored.
func (r *Registry) MarkAppAsInactive(id string) {
	r.setActive(id, false)
}

func (r *Registry) setActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return
	}
	app.IsActive = active
	r.apps[id] = app
}

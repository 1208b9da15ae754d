package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/al-munazzim/cobot/internal/config"
)

// Registry owns the plugin set. It is mutated only during assembly;
// after StartAll every access is read-only, so no locking is needed on
// the hot path.
type Registry struct {
	logger  *slog.Logger
	plugins map[string]Plugin
	// order is the resolved load order: topological over dependencies
	// with (priority, id) as tie-breaker. Populated by ConfigureAll.
	order   []Plugin
	started []Plugin
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "registry"),
		plugins: map[string]Plugin{},
	}
}

// Register adds a plugin. Fails with ErrDuplicateID when the id is
// taken and rejects empty ids.
func (r *Registry) Register(p Plugin) error {
	meta := p.PluginMeta()
	if meta.ID == "" {
		return fmt.Errorf("plugin id must not be empty")
	}
	if _, exists := r.plugins[meta.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, meta.ID)
	}
	r.plugins[meta.ID] = p
	return nil
}

// Get returns the plugin with the exact id, or nil.
func (r *Registry) Get(id string) Plugin {
	return r.plugins[id]
}

// ByCapability returns the first plugin in load order carrying the tag,
// or nil.
func (r *Registry) ByCapability(tag string) Plugin {
	for _, p := range r.loadOrder() {
		if p.PluginMeta().HasCapability(tag) {
			return p
		}
	}
	return nil
}

// Implementations returns every plugin declaring the extension point,
// in load order. Callers type-assert against the point's interface.
func (r *Registry) Implementations(point string) []Plugin {
	var out []Plugin
	for _, p := range r.loadOrder() {
		if p.PluginMeta().ImplementsPoint(point) {
			out = append(out, p)
		}
	}
	return out
}

// Plugins returns all plugins in load order.
func (r *Registry) Plugins() []Plugin {
	return r.loadOrder()
}

// loadOrder returns the resolved order, falling back to a (priority,
// id) sort before ConfigureAll has run.
func (r *Registry) loadOrder() []Plugin {
	if r.order != nil {
		return r.order
	}
	return sortByPriority(r.plugins)
}

func sortByPriority(plugins map[string]Plugin) []Plugin {
	out := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].PluginMeta(), out[j].PluginMeta()
		if mi.Priority != mj.Priority {
			return mi.Priority < mj.Priority
		}
		return mi.ID < mj.ID
	})
	return out
}

// resolveOrder computes a topological order over dependencies, picking
// the lowest (priority, id) among ready plugins at each step.
func (r *Registry) resolveOrder() ([]Plugin, error) {
	for id, p := range r.plugins {
		for _, dep := range p.PluginMeta().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				return nil, &DependencyError{Plugin: id, Missing: dep}
			}
		}
	}

	placed := map[string]bool{}
	remaining := sortByPriority(r.plugins)
	order := make([]Plugin, 0, len(remaining))

	for len(remaining) > 0 {
		progressed := false
		for i, p := range remaining {
			ready := true
			for _, dep := range p.PluginMeta().Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, p)
			placed[p.PluginMeta().ID] = true
			remaining = append(remaining[:i], remaining[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			return nil, &DependencyError{
				Plugin:  remaining[0].PluginMeta().ID,
				Missing: "dependency cycle",
			}
		}
	}
	return order, nil
}

// ConfigureAll resolves the load order, then configures every plugin
// with the full configuration. Any failure is fatal.
func (r *Registry) ConfigureAll(cfg *config.Config) error {
	order, err := r.resolveOrder()
	if err != nil {
		return err
	}
	r.order = order

	for _, p := range r.order {
		if err := p.Configure(cfg); err != nil {
			return fmt.Errorf("configure %s: %w", p.PluginMeta().ID, err)
		}
	}
	return nil
}

// StartAll starts plugins in load order. Already-started plugins are
// not started again, making the call idempotent.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, p := range r.loadOrder() {
		if r.isStarted(p) {
			continue
		}
		id := p.PluginMeta().ID
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", id, err)
		}
		r.started = append(r.started, p)
		r.logger.Debug("plugin started", "plugin", id)
	}
	return nil
}

// StopAll stops started plugins in reverse order. Stop errors are
// logged, never propagated, so every plugin gets its shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	for i := len(r.started) - 1; i >= 0; i-- {
		p := r.started[i]
		if err := p.Stop(ctx); err != nil {
			r.logger.Error("plugin stop failed", "plugin", p.PluginMeta().ID, "error", err)
		}
	}
	r.started = nil
}

func (r *Registry) isStarted(p Plugin) bool {
	for _, s := range r.started {
		if s == p {
			return true
		}
	}
	return false
}

// RunHook invokes the named hook on every participating plugin in load
// order. A hook that sets Abort stops the chain immediately. A hook
// that returns an error is logged and reported through on_error, but
// the chain continues; on_error itself never re-enters on_error.
func (r *Registry) RunHook(name Hook, hc *HookContext) *HookContext {
	if hc == nil {
		hc = &HookContext{}
	}
	r.runChain(name, hc, name != HookError)
	return hc
}

func (r *Registry) runChain(name Hook, hc *HookContext, dispatchErrors bool) {
	for _, p := range r.loadOrder() {
		fn := hookMethod(p, name)
		if fn == nil {
			continue
		}
		if err := fn(hc); err != nil {
			r.logger.Error("hook failed",
				"hook", string(name),
				"plugin", p.PluginMeta().ID,
				"error", err)
			if dispatchErrors {
				r.runChain(HookError, &HookContext{Err: err, FailedHook: name}, false)
			}
		}
		if hc.Abort {
			return
		}
	}
}

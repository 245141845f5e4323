// Package registry composes domain modules into a single tool catalog.
//
// Domains are declared in a YAML document, ordered by their dependencies, built
// through a ModuleSet and merged into an immutable catalog. The Registry is
// also the read-only dispatch surface used by conversation loops and the HTTP
// tool endpoint.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"refagent/internal/domain"
	"refagent/internal/metrics"
	"refagent/internal/tool"
)

// Options configures a Registry. Descriptors, when non-nil, take precedence
// over DomainsFile.
type Options struct {
	DomainsFile string
	Descriptors []Descriptor
	Modules     ModuleSet
	Logger      *slog.Logger
}

// catalog is built once and never mutated after publication.
type catalog struct {
	descriptors []Descriptor
	order       []string
	names       []string
	bindings    map[string]domain.ToolFunc
	definitions map[string]domain.ToolDefinition
	owner       map[string]string
	modules     map[string]domain.DomainModule
}

// Registry builds and serves the tool catalog. It is safe for concurrent use.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex // serialises Load and Reload
	loaded  bool
	current atomic.Pointer[catalog]
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Modules == nil {
		opts.Modules = ModuleSet{}
	}
	return &Registry{opts: opts, logger: logger}
}

// Load builds the catalog. Calling it again after a successful load is a
// no-op. On failure nothing is published.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}
	c, err := r.build(ctx)
	if err != nil {
		return err
	}
	r.publish(c)
	r.logger.Info("tool catalog loaded", "domains", len(c.order), "tools", len(c.names))
	return nil
}

// Reload re-reads the descriptors and swaps in a freshly built catalog. If the
// rebuild fails the previous catalog stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.build(ctx)
	if err != nil {
		r.logger.Error("tool catalog reload failed, keeping previous catalog", "err", err)
		return err
	}
	r.publish(c)
	r.logger.Info("tool catalog reloaded", "domains", len(c.order), "tools", len(c.names))
	return nil
}

func (r *Registry) publish(c *catalog) {
	r.current.Store(c)
	r.loaded = true
	metrics.CatalogTools.Set(int64(len(c.names)))
}

// Loaded reports whether a catalog has been published.
func (r *Registry) Loaded() bool {
	return r.current.Load() != nil
}

func (r *Registry) descriptors() ([]Descriptor, error) {
	if r.opts.Descriptors != nil {
		return r.opts.Descriptors, nil
	}
	if r.opts.DomainsFile == "" {
		return nil, &domain.ConfigurationError{Reason: "no domains file configured"}
	}
	return LoadDescriptors(r.opts.DomainsFile)
}

func (r *Registry) build(ctx context.Context) (*catalog, error) {
	descriptors, err := r.descriptors()
	if err != nil {
		return nil, err
	}
	order, err := Resolve(descriptors)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}

	c := &catalog{
		descriptors: descriptors,
		order:       order,
		bindings:    make(map[string]domain.ToolFunc),
		definitions: make(map[string]domain.ToolDefinition),
		owner:       make(map[string]string),
		modules:     make(map[string]domain.DomainModule, len(order)),
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := byID[id]

		mod, err := r.loadModule(d, c.modules, byID)
		if err != nil {
			return nil, err
		}
		if err := c.merge(d, mod, r.logger); err != nil {
			return nil, err
		}
		c.modules[id] = mod
		r.logger.Debug("domain loaded", "domain", id, "module", d.Module, "tools", len(d.Tools))
	}
	return c, nil
}

func (r *Registry) loadModule(d Descriptor, loaded map[string]domain.DomainModule, byID map[string]Descriptor) (mod domain.DomainModule, err error) {
	factory, ok := r.opts.Modules[d.Module]
	if !ok || factory == nil {
		return nil, &domain.ConfigurationError{
			Domain: d.ID,
			Reason: fmt.Sprintf("unknown module %q", d.Module),
		}
	}

	deps := make(map[string]domain.DomainModule, len(d.DependsOn))
	refs := make(map[string]string, len(d.DependsOn))
	for _, dep := range d.DependsOn {
		deps[dep] = loaded[dep]
		refs[dep] = byID[dep].Module
	}

	defer func() {
		if p := recover(); p != nil {
			mod = nil
			err = &domain.ConfigurationError{
				Domain: d.ID,
				Reason: fmt.Sprintf("module %q panicked during load: %v", d.Module, p),
			}
		}
	}()

	mod, err = factory(ModuleEnv{
		Descriptor:        d,
		Logger:            r.logger.With("domain", d.ID),
		Dependencies:      deps,
		DependencyModules: refs,
	})
	if err != nil {
		return nil, &domain.ConfigurationError{
			Domain: d.ID,
			Reason: fmt.Sprintf("load module %q", d.Module),
			Err:    err,
		}
	}
	if mod == nil {
		return nil, &domain.ConfigurationError{
			Domain: d.ID,
			Reason: fmt.Sprintf("module %q returned no implementation", d.Module),
		}
	}
	return mod, nil
}

// merge checks the module contract and adds the allowlisted tools of d.
func (c *catalog) merge(d Descriptor, mod domain.DomainModule, logger *slog.Logger) error {
	bindings := mod.ListToolBindings()
	defs := make(map[string]domain.ToolDefinition)
	for _, def := range mod.ListToolDefinitions() {
		if def.Name == "" {
			return &domain.ConfigurationError{Domain: d.ID, Reason: "tool definition without a name"}
		}
		defs[def.Name] = def
	}

	for _, name := range d.Tools {
		if owner, dup := c.owner[name]; dup {
			if owner == d.ID {
				return &domain.ConfigurationError{
					Domain: d.ID,
					Reason: fmt.Sprintf("tool %q listed more than once", name),
				}
			}
			return &domain.ConfigurationError{
				Domain: d.ID,
				Reason: fmt.Sprintf("tool %q is already provided by domain %q", name, owner),
			}
		}

		fn := bindings[name]
		if fn == nil {
			return &domain.ConfigurationError{
				Domain: d.ID,
				Reason: fmt.Sprintf("allowlisted tool %q has no binding", name),
			}
		}
		def, ok := defs[name]
		if !ok {
			return &domain.ConfigurationError{
				Domain: d.ID,
				Reason: fmt.Sprintf("allowlisted tool %q has no definition", name),
			}
		}
		v, err := tool.CompileValidator(def)
		if err != nil {
			return &domain.ConfigurationError{Domain: d.ID, Reason: "invalid parameter schema", Err: err}
		}

		c.names = append(c.names, name)
		c.bindings[name] = v.Wrap(executionErrors(name, fn))
		c.definitions[name] = def
		c.owner[name] = d.ID
	}

	for name := range bindings {
		if !d.Allows(name) {
			logger.Debug("tool not published", "domain", d.ID, "tool", name)
		}
	}
	return nil
}

// executionErrors tags errors raised by a binding with the tool name and the
// arguments it was called with.
func executionErrors(name string, fn domain.ToolFunc) domain.ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		out, err := fn(ctx, args)
		if err != nil {
			return nil, &domain.ToolExecutionError{Tool: name, Arguments: args, Err: err}
		}
		return out, nil
	}
}

// snapshot returns the published catalog, building it on first use.
func (r *Registry) snapshot() (*catalog, error) {
	if c := r.current.Load(); c != nil {
		return c, nil
	}
	if err := r.Load(context.Background()); err != nil {
		return nil, err
	}
	return r.current.Load(), nil
}

// GetTool returns the binding for name. The returned func applies schema
// defaults and validates arguments before running the tool.
func (r *Registry) GetTool(name string) (domain.ToolFunc, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	fn, ok := c.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return fn, nil
}

// GetAllTools returns a copy of every published binding.
func (r *Registry) GetAllTools() (map[string]domain.ToolFunc, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ToolFunc, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return out, nil
}

// ListTools returns tool names in catalog order.
func (r *Registry) ListTools() ([]string, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.names...), nil
}

// GetToolDefinitions returns a deep copy of the published definitions in
// catalog order.
func (r *Registry) GetToolDefinitions() ([]domain.ToolDefinition, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	defs := make([]domain.ToolDefinition, 0, len(c.names))
	for _, name := range c.names {
		def := c.definitions[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  cloneMap(def.Parameters),
		})
	}
	return defs, nil
}

// GetWireFormatDefinitions returns the definitions in function-calling format.
func (r *Registry) GetWireFormatDefinitions() ([]domain.WireTool, error) {
	defs, err := r.GetToolDefinitions()
	if err != nil {
		return nil, err
	}
	wire := make([]domain.WireTool, len(defs))
	for i, def := range defs {
		wire[i] = def.ToWire()
	}
	return wire, nil
}

// ToolDomain returns the id of the domain that publishes name.
func (r *Registry) ToolDomain(name string) (string, error) {
	c, err := r.snapshot()
	if err != nil {
		return "", err
	}
	owner, ok := c.owner[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return owner, nil
}

// DomainInfo returns the descriptor of a declared domain, enabled or not.
func (r *Registry) DomainInfo(id string) (Descriptor, error) {
	c, err := r.snapshot()
	if err != nil {
		return Descriptor{}, err
	}
	for _, d := range c.descriptors {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", domain.ErrDomainNotFound, id)
}

// Domains returns every declared descriptor in document order.
func (r *Registry) Domains() ([]Descriptor, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return append([]Descriptor(nil), c.descriptors...), nil
}

// LoadOrder returns the resolved domain order of the published catalog.
func (r *Registry) LoadOrder() ([]string, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.order...), nil
}

// ToolsByDomain groups published tool names by owning domain, in catalog order.
func (r *Registry) ToolsByDomain() (map[string][]string, error) {
	c, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(c.order))
	for _, name := range c.names {
		out[c.owner[name]] = append(out[c.owner[name]], name)
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

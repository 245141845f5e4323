package registry

import (
	"log/slog"
	"sort"

	"refagent/internal/domain"
)

// ModuleEnv is what a factory receives when its domain is loaded.
type ModuleEnv struct {
	Descriptor Descriptor
	Logger     *slog.Logger
	// Dependencies holds the already-loaded modules this domain depends on,
	// keyed by domain id.
	Dependencies map[string]domain.DomainModule
	// DependencyModules maps each dependency's domain id to its module
	// reference.
	DependencyModules map[string]string
}

// Dependency returns the loaded module of a declared dependency.
func (e ModuleEnv) Dependency(id string) (domain.DomainModule, bool) {
	m, ok := e.Dependencies[id]
	return m, ok
}

// DependencyByModule returns the first declared dependency, in depends_on
// order, whose domain is built from module ref. Domain ids are free-form, so
// modules that need a sibling implementation look it up this way.
func (e ModuleEnv) DependencyByModule(ref string) (domain.DomainModule, bool) {
	for _, id := range e.Descriptor.DependsOn {
		if e.DependencyModules[id] != ref {
			continue
		}
		if m, ok := e.Dependencies[id]; ok && m != nil {
			return m, true
		}
	}
	return nil, false
}

// ModuleFactory builds a domain module.
type ModuleFactory func(env ModuleEnv) (domain.DomainModule, error)

// ModuleSet maps the module reference used in the domains document to the
// factory that builds it. It is populated once at the composition root.
type ModuleSet map[string]ModuleFactory

// Register adds a factory under ref, replacing any previous one.
func (s ModuleSet) Register(ref string, f ModuleFactory) ModuleSet {
	s[ref] = f
	return s
}

// Names returns the registered module references, sorted.
func (s ModuleSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StaticModule is a DomainModule backed by plain values. Useful for tests and
// for small domains that need no state.
type StaticModule struct {
	Bindings    map[string]domain.ToolFunc
	Definitions []domain.ToolDefinition
}

func (m *StaticModule) ListToolBindings() map[string]domain.ToolFunc { return m.Bindings }

func (m *StaticModule) ListToolDefinitions() []domain.ToolDefinition { return m.Definitions }

package registry

import "refagent/internal/domain"

// Resolve returns the ids of enabled domains ordered so that every dependency
// precedes its dependents. Disabled domains are skipped and cannot satisfy a
// dependency. Each id appears once, in first-seen order.
func Resolve(descriptors []Descriptor) ([]string, error) {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}

	var (
		order    []string
		visiting = make(map[string]bool)
		resolved = make(map[string]bool)
	)

	var visit func(id string) error
	visit = func(id string) error {
		if resolved[id] {
			return nil
		}
		if visiting[id] {
			return &domain.DependencyError{Domain: id, Reason: "circular dependency"}
		}
		visiting[id] = true

		for _, dep := range byID[id].DependsOn {
			target, ok := byID[dep]
			if !ok {
				return &domain.DependencyError{Domain: id, Dependency: dep, Reason: "dependency is not declared"}
			}
			if !target.Enabled {
				return &domain.DependencyError{Domain: id, Dependency: dep, Reason: "dependency is disabled"}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		delete(visiting, id)
		resolved[id] = true
		order = append(order, id)
		return nil
	}

	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		if err := visit(d.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

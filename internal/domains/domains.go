// Package domains wires the built-in domain modules.
package domains

import (
	"context"
	_ "embed"
	"fmt"

	"refagent/internal/domains/quality"
	"refagent/internal/domains/referral"
	"refagent/internal/graph"
	"refagent/internal/registry"
)

// SampleDescriptors is the domains document "refagent init" writes.
//
//go:embed domains.yaml
var SampleDescriptors []byte

// Builtin returns the module set for every domain shipped with refagent.
func Builtin(reader graph.Reader) registry.ModuleSet {
	return registry.ModuleSet{}.
		Register(referral.ModuleRef, referral.Factory(reader)).
		Register(quality.ModuleRef, quality.Factory(reader))
}

// SeedGraph is the graph access sample-data loaders need.
type SeedGraph interface {
	graph.Reader
	graph.Writer
}

// Seeder loads the sample data of one module into the graph.
type Seeder func(ctx context.Context, g SeedGraph, reset bool) error

// Seeders returns the sample-data loaders keyed by module reference.
func Seeders() map[string]Seeder {
	return map[string]Seeder{
		referral.ModuleRef: func(ctx context.Context, g SeedGraph, reset bool) error {
			return referral.Seed(ctx, g, reset)
		},
		quality.ModuleRef: func(ctx context.Context, g SeedGraph, reset bool) error {
			return quality.Seed(ctx, g, reset)
		},
	}
}

// Seed loads sample data for every enabled domain, dependencies first. Each
// module is seeded once even when several domains share it. done is called
// after each module, and may be nil.
func Seed(ctx context.Context, g SeedGraph, descriptors []registry.Descriptor, reset bool, done func(domainID, module string)) error {
	order, err := registry.Resolve(descriptors)
	if err != nil {
		return err
	}
	byID := make(map[string]registry.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}

	seeders := Seeders()
	seeded := make(map[string]bool)
	for _, id := range order {
		ref := byID[id].Module
		seed, ok := seeders[ref]
		if !ok || seeded[ref] {
			continue
		}
		if err := seed(ctx, g, reset); err != nil {
			return fmt.Errorf("seed domain %s: %w", id, err)
		}
		seeded[ref] = true
		if done != nil {
			done(id, ref)
		}
	}
	return nil
}

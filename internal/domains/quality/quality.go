// Package quality implements the quality_improvement domain: protocol
// adoption, knowledge spread between hospitals and outcome improvement.
//
// It builds on the referral_network domain, which must be loaded first; the
// hospital lookup of that domain resolves names and state filters.
package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"refagent/internal/domain"
	"refagent/internal/domains/referral"
	"refagent/internal/graph"
	"refagent/internal/registry"
)

const ModuleRef = "quality_improvement"

// championCompliance is the compliance rate (percent) a hospital needs on at
// least one protocol to be considered a champion.
const championCompliance = 85

const (
	defaultMinConnections = 2
	maxChampions          = 20
	maxTopImprovers       = 5
)

type Module struct {
	reader    graph.Reader
	hospitals referral.HospitalLookup
	logger    *slog.Logger
	now       func() time.Time
}

func New(reader graph.Reader, hospitals referral.HospitalLookup, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{reader: reader, hospitals: hospitals, logger: logger, now: time.Now}
}

// Factory returns the registry factory. The domain's descriptor must list a
// domain built from the referral_network module in depends_on.
func Factory(reader graph.Reader) registry.ModuleFactory {
	return func(env registry.ModuleEnv) (domain.DomainModule, error) {
		if reader == nil {
			return nil, errors.New("graph reader is not configured")
		}
		dep, ok := env.DependencyByModule(referral.ModuleRef)
		if !ok {
			return nil, fmt.Errorf("requires a %s domain as a dependency", referral.ModuleRef)
		}
		lookup, ok := dep.(referral.HospitalLookup)
		if !ok {
			return nil, fmt.Errorf("%s dependency does not provide a hospital lookup", referral.ModuleRef)
		}
		return New(reader, lookup, env.Logger), nil
	}
}

func (m *Module) ListToolBindings() map[string]domain.ToolFunc {
	return map[string]domain.ToolFunc{
		"get_protocol_adoption_status": m.adoptionStatus,
		"find_adoption_gaps":           m.adoptionGaps,
		"get_protocol_spread_path":     m.spreadPath,
		"find_quality_champions":       m.champions,
		"analyze_outcome_improvement":  m.outcomeImprovement,
	}
}

func (m *Module) today() string { return m.now().Format(time.DateOnly) }

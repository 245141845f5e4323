// Package referral implements the referral_network domain: hospitals, the
// referral relationships between them, providers and service lines.
package referral

import (
	"context"
	"errors"
	"log/slog"

	"refagent/internal/domain"
	"refagent/internal/graph"
	"refagent/internal/registry"
)

// ModuleRef is the module reference used in the domains document.
const ModuleRef = "referral_network"

// Hospital is a Hospital node.
type Hospital struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
	Type  string `json:"type,omitempty"`
	Beds  int    `json:"beds,omitempty"`
	Rural bool   `json:"rural"`
}

// HospitalFilter narrows FindHospitals. Zero fields do not filter.
type HospitalFilter struct {
	Name  string // case-insensitive substring
	State string
	Type  string
	Rural *bool
}

// HospitalLookup is what dependent domains use to resolve hospitals.
type HospitalLookup interface {
	FindHospitals(ctx context.Context, f HospitalFilter) ([]Hospital, error)
}

type Module struct {
	reader graph.Reader
	logger *slog.Logger
}

func New(reader graph.Reader, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{reader: reader, logger: logger}
}

// Factory returns the registry factory for this domain.
func Factory(reader graph.Reader) registry.ModuleFactory {
	return func(env registry.ModuleEnv) (domain.DomainModule, error) {
		if reader == nil {
			return nil, errors.New("graph reader is not configured")
		}
		return New(reader, env.Logger), nil
	}
}

func (m *Module) ListToolBindings() map[string]domain.ToolFunc {
	return map[string]domain.ToolFunc{
		"find_hospital":              m.findHospital,
		"get_referral_sources":       m.referralSources,
		"get_referral_destinations":  m.referralDestinations,
		"get_network_statistics":     m.networkStatistics,
		"find_referral_path":         m.findReferralPath,
		"get_providers_by_specialty": m.providersBySpecialty,
		"get_hospitals_by_service":   m.hospitalsByService,
		"analyze_rural_access":       m.analyzeRuralAccess,
	}
}

var _ HospitalLookup = (*Module)(nil)

package referral

import (
	"context"
	"fmt"

	"refagent/internal/domain"
	"refagent/internal/graph"
	"refagent/internal/tool"
)

const findHospitalsQuery = `
MATCH (h:Hospital)
WHERE ($name IS NULL OR toLower(h.name) CONTAINS toLower($name))
  AND ($state IS NULL OR h.state = $state)
  AND ($type IS NULL OR h.type = $type)
  AND ($rural IS NULL OR h.rural = $rural)
RETURN h.id AS id, h.name AS name, h.city AS city, h.state AS state,
       h.type AS type, h.beds AS beds, h.rural AS rural
ORDER BY name`

const referralSourcesQuery = `
MATCH (src:Hospital)-[r:REFERS_TO]->(:Hospital {name: $hospital})
RETURN src.name AS referring_hospital, r.count AS referral_count, r.avg_acuity AS avg_acuity
ORDER BY referral_count DESC`

const referralDestinationsQuery = `
MATCH (:Hospital {name: $hospital})-[r:REFERS_TO]->(dst:Hospital)
RETURN dst.name AS destination_hospital, r.count AS referral_count, r.avg_acuity AS avg_acuity
ORDER BY referral_count DESC`

const networkStatisticsQuery = `
MATCH (h:Hospital)
WITH count(h) AS hospitals,
     sum(CASE WHEN h.rural THEN 1 ELSE 0 END) AS rural,
     sum(CASE WHEN h.type = 'tertiary' THEN 1 ELSE 0 END) AS tertiary
OPTIONAL MATCH (p:Provider)
WITH hospitals, rural, tertiary, count(p) AS providers
OPTIONAL MATCH (:Hospital)-[r:REFERS_TO]->(:Hospital)
RETURN hospitals AS total_hospitals, providers AS total_providers,
       count(r) AS total_referral_relationships, coalesce(sum(r.count), 0) AS total_referral_volume,
       rural AS rural_hospitals, tertiary AS tertiary_centers`

// The hop bound cannot be a query parameter; it is validated before formatting.
const referralPathQueryFmt = `
MATCH p = (:Hospital {name: $from})-[:REFERS_TO*1..%d]->(:Hospital {name: $to})
WHERE all(n IN nodes(p) WHERE size([m IN nodes(p) WHERE m = n]) = 1)
RETURN [n IN nodes(p) | n.name] AS hospitals, length(p) AS hops
ORDER BY hops
LIMIT $limit`

const providersBySpecialtyQuery = `
MATCH (p:Provider)
WHERE toLower(p.specialty) = toLower($specialty)
OPTIONAL MATCH (h:Hospital)-[:EMPLOYS]->(p)
RETURN p.name AS provider_name, p.specialty AS specialty, collect(h.name) AS hospitals
ORDER BY provider_name`

const hospitalsByServiceQuery = `
MATCH (h:Hospital)-[s:SPECIALIZES_IN]->(:ServiceLine {name: $service})
RETURN h.name AS hospital, s.volume AS volume, s.ranking AS ranking
ORDER BY ranking`

const ruralAccessQuery = `
MATCH (r:Hospital)
WHERE r.rural = true
OPTIONAL MATCH (r)-[:REFERS_TO]->(d:Hospital)-[:SPECIALIZES_IN]->(:ServiceLine {name: $service})
RETURN r.name AS rural_hospital, r.state AS state, collect(DISTINCT d.name) AS direct_providers
ORDER BY rural_hospital`

// FindHospitals returns the hospitals matching f.
func (m *Module) FindHospitals(ctx context.Context, f HospitalFilter) ([]Hospital, error) {
	params := map[string]any{
		"name":  nullable(f.Name),
		"state": nullable(f.State),
		"type":  nullable(f.Type),
		"rural": nil,
	}
	if f.Rural != nil {
		params["rural"] = *f.Rural
	}

	records, err := m.reader.Execute(ctx, findHospitalsQuery, params)
	if err != nil {
		return nil, fmt.Errorf("find hospitals: %w", err)
	}
	hospitals := make([]Hospital, 0, len(records))
	for _, r := range records {
		hospitals = append(hospitals, Hospital{
			ID:    graph.GetString(r, "id"),
			Name:  graph.GetString(r, "name"),
			City:  graph.GetString(r, "city"),
			State: graph.GetString(r, "state"),
			Type:  graph.GetString(r, "type"),
			Beds:  graph.GetInt(r, "beds"),
			Rural: graph.GetBool(r, "rural"),
		})
	}
	return hospitals, nil
}

func (m *Module) findHospital(ctx context.Context, args map[string]any) (any, error) {
	f := HospitalFilter{
		Name:  tool.ArgsString(args, "name"),
		State: tool.ArgsString(args, "state"),
		Type:  tool.ArgsString(args, "hospital_type"),
	}
	if rural, ok := tool.ArgsBool(args, "rural"); ok {
		f.Rural = &rural
	}
	return m.FindHospitals(ctx, f)
}

func (m *Module) referralSources(ctx context.Context, args map[string]any) (any, error) {
	return m.hospitalQuery(ctx, args, referralSourcesQuery)
}

func (m *Module) referralDestinations(ctx context.Context, args map[string]any) (any, error) {
	return m.hospitalQuery(ctx, args, referralDestinationsQuery)
}

func (m *Module) hospitalQuery(ctx context.Context, args map[string]any, query string) (any, error) {
	name, err := tool.ArgsRequiredString(args, "hospital_name")
	if err != nil {
		return nil, err
	}
	records, err := m.reader.Execute(ctx, query, map[string]any{"hospital": name})
	if err != nil {
		return nil, err
	}
	return graph.Rows(records), nil
}

func (m *Module) networkStatistics(ctx context.Context, _ map[string]any) (any, error) {
	records, err := m.reader.Execute(ctx, networkStatisticsQuery, nil)
	if err != nil {
		return nil, err
	}
	var r graph.Record
	if len(records) > 0 {
		r = records[0]
	}
	stats := make(map[string]int64, 6)
	for _, key := range []string{
		"total_hospitals",
		"total_providers",
		"total_referral_relationships",
		"total_referral_volume",
		"rural_hospitals",
		"tertiary_centers",
	} {
		stats[key] = graph.GetInt64(r, key)
	}
	return stats, nil
}

// ReferralPath is one route through the referral network.
type ReferralPath struct {
	Hospitals []string `json:"hospitals"`
	Hops      int      `json:"hops"`
}

func (m *Module) findReferralPath(ctx context.Context, args map[string]any) (any, error) {
	from, err := tool.ArgsRequiredString(args, "from_hospital")
	if err != nil {
		return nil, err
	}
	to, err := tool.ArgsRequiredString(args, "to_hospital")
	if err != nil {
		return nil, err
	}
	hops := tool.ArgsInt(args, "max_hops", defaultMaxHops)
	if hops < 1 || hops > maxPathHops {
		return nil, fmt.Errorf("%w: max_hops must be between 1 and %d", domain.ErrInvalidArguments, maxPathHops)
	}

	query := fmt.Sprintf(referralPathQueryFmt, hops)
	records, err := m.reader.Execute(ctx, query, map[string]any{"from": from, "to": to, "limit": maxPaths})
	if err != nil {
		return nil, err
	}
	paths := make([]ReferralPath, 0, len(records))
	for _, r := range records {
		paths = append(paths, ReferralPath{
			Hospitals: graph.GetStringSlice(r, "hospitals"),
			Hops:      graph.GetInt(r, "hops"),
		})
	}
	return map[string]any{
		"from_hospital": from,
		"to_hospital":   to,
		"max_hops":      hops,
		"found":         len(paths) > 0,
		"paths":         paths,
	}, nil
}

func (m *Module) providersBySpecialty(ctx context.Context, args map[string]any) (any, error) {
	specialty, err := tool.ArgsRequiredString(args, "specialty")
	if err != nil {
		return nil, err
	}
	records, err := m.reader.Execute(ctx, providersBySpecialtyQuery, map[string]any{"specialty": specialty})
	if err != nil {
		return nil, err
	}
	return graph.Rows(records), nil
}

func (m *Module) hospitalsByService(ctx context.Context, args map[string]any) (any, error) {
	service, err := tool.ArgsRequiredString(args, "service_name")
	if err != nil {
		return nil, err
	}
	records, err := m.reader.Execute(ctx, hospitalsByServiceQuery, map[string]any{"service": service})
	if err != nil {
		return nil, err
	}
	return graph.Rows(records), nil
}

// RuralAccess describes one rural hospital's route to a service.
type RuralAccess struct {
	Hospital        string   `json:"rural_hospital"`
	State           string   `json:"state"`
	DirectProviders []string `json:"direct_providers"`
	HasDirectAccess bool     `json:"has_direct_access"`
}

func (m *Module) analyzeRuralAccess(ctx context.Context, args map[string]any) (any, error) {
	service, err := tool.ArgsRequiredString(args, "service_name")
	if err != nil {
		return nil, err
	}
	records, err := m.reader.Execute(ctx, ruralAccessQuery, map[string]any{"service": service})
	if err != nil {
		return nil, err
	}

	hospitals := make([]RuralAccess, 0, len(records))
	withAccess := 0
	for _, r := range records {
		providers := graph.GetStringSlice(r, "direct_providers")
		if providers == nil {
			providers = []string{}
		}
		ra := RuralAccess{
			Hospital:        graph.GetString(r, "rural_hospital"),
			State:           graph.GetString(r, "state"),
			DirectProviders: providers,
			HasDirectAccess: len(providers) > 0,
		}
		if ra.HasDirectAccess {
			withAccess++
		}
		hospitals = append(hospitals, ra)
	}
	return map[string]any{
		"service":               service,
		"rural_hospitals":       hospitals,
		"with_direct_access":    withAccess,
		"without_direct_access": len(hospitals) - withAccess,
	}, nil
}

// nullable maps "" to nil so the query's IS NULL checks skip the filter.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

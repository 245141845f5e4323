package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"refagent/internal/domain"
	"refagent/internal/domains/referral"
	"refagent/internal/graph"
	"refagent/internal/tool"
)

const resolveProtocolQuery = `
MATCH (p:Protocol)
WHERE toLower(p.name) CONTAINS toLower($protocol)
RETURN p.name AS name, p.category AS category, p.release_date AS release_date
ORDER BY size(p.name)
LIMIT 1`

const adoptersQuery = `
MATCH (h:Hospital)-[a:ADOPTED]->(:Protocol {name: $protocol})
RETURN h.name AS hospital, h.state AS state, h.type AS type,
       a.adoption_date AS adoption_date, a.compliance_rate AS compliance_rate, a.adoption_phase AS phase
ORDER BY adoption_date, hospital`

const nonAdoptersQuery = `
MATCH (h:Hospital)
WHERE NOT (h)-[:ADOPTED]->(:Protocol {name: $protocol})
RETURN h.name AS hospital, h.state AS state, h.type AS type
ORDER BY hospital`

const adoptionGapsQuery = `
MATCH (h:Hospital)
WHERE NOT (h)-[:ADOPTED]->(:Protocol {name: $protocol})
OPTIONAL MATCH (h)-[:REFERS_TO|LEARNED_FROM]-(a:Hospital)-[:ADOPTED]->(:Protocol {name: $protocol})
RETURN h.name AS hospital, h.state AS state, h.type AS type, count(DISTINCT a) AS adopter_connections
ORDER BY hospital`

const adoptionRecordQuery = `
MATCH (:Hospital {name: $hospital})-[a:ADOPTED]->(:Protocol {name: $protocol})
RETURN a.adoption_date AS adoption_date`

// (learner)-[:LEARNED_FROM]->(mentor): walking outward from a hospital
// follows the chain of influence back towards the first adopter.
const spreadPathQuery = `
MATCH path = (:Hospital {name: $hospital})-[:LEARNED_FROM*1..5]->(:Hospital)
WHERE all(r IN relationships(path) WHERE toLower(r.protocol_context) CONTAINS toLower($protocol))
RETURN [n IN nodes(path) | n.name] AS hospitals,
       [r IN relationships(path) | coalesce(r.interaction_type, 'unknown')] AS interactions,
       [r IN relationships(path) | coalesce(r.date, '')] AS dates
ORDER BY length(path) DESC
LIMIT 1`

const championsQuery = `
MATCH (h:Hospital)-[a:ADOPTED]->(p:Protocol)
WHERE a.compliance_rate >= $min_compliance
  AND ($protocol IS NULL OR p.name = $protocol)
WITH DISTINCT h
OPTIONAL MATCH (learner:Hospital)-[l:LEARNED_FROM]->(h)
WITH h, count(DISTINCT learner) AS influenced, collect(l.interaction_type) AS methods
OPTIONAL MATCH (h)-[:ADOPTED]->(ap:Protocol)
RETURN h.name AS hospital, h.state AS state, influenced, methods, collect(DISTINCT ap.name) AS protocols`

const outcomesQuery = `
MATCH (h:Hospital)-[:ADOPTED]->(:Protocol {name: $protocol})
MATCH (h)-[o:ACHIEVED]->(m:OutcomeMetric)
WHERE $metric IS NULL OR toLower(m.name) CONTAINS toLower($metric)
RETURN h.name AS hospital, m.name AS metric, m.unit AS unit, m.direction AS direction,
       o.baseline AS baseline, o.current AS current
ORDER BY metric, hospital`

type protocol struct {
	Name        string
	Category    string
	ReleaseDate string
}

// resolveProtocol finds the protocol whose name contains the given text,
// preferring the shortest name. ok is false when none matches.
func (m *Module) resolveProtocol(ctx context.Context, name string) (p protocol, ok bool, err error) {
	records, err := m.reader.Execute(ctx, resolveProtocolQuery, map[string]any{"protocol": name})
	if err != nil {
		return protocol{}, false, fmt.Errorf("resolve protocol: %w", err)
	}
	if len(records) == 0 {
		return protocol{}, false, nil
	}
	r := records[0]
	return protocol{
		Name:        graph.GetString(r, "name"),
		Category:    graph.GetString(r, "category"),
		ReleaseDate: graph.GetString(r, "release_date"),
	}, true, nil
}

func protocolNotFound(name string) map[string]any {
	return map[string]any{
		"protocol": name,
		"found":    false,
		"message":  fmt.Sprintf("Protocol '%s' not found", name),
	}
}

func (m *Module) adoptionStatus(ctx context.Context, args map[string]any) (any, error) {
	name, err := tool.ArgsRequiredString(args, "protocol_name")
	if err != nil {
		return nil, err
	}
	p, ok, err := m.resolveProtocol(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocolNotFound(name), nil
	}

	params := map[string]any{"protocol": p.Name}
	adopters, err := m.reader.Execute(ctx, adoptersQuery, params)
	if err != nil {
		return nil, err
	}
	nonAdopters, err := m.reader.Execute(ctx, nonAdoptersQuery, params)
	if err != nil {
		return nil, err
	}

	byPhase := map[string]int{"full": 0, "partial": 0, "pilot": 0}
	var compliance float64
	for _, a := range adopters {
		phase := graph.GetString(a, "phase")
		if phase == "" {
			phase = "pilot"
		}
		byPhase[phase]++
		compliance += graph.GetFloat(a, "compliance_rate")
	}

	total := len(adopters) + len(nonAdopters)
	return map[string]any{
		"protocol":            p.Name,
		"found":               true,
		"category":            p.Category,
		"release_date":        p.ReleaseDate,
		"total_hospitals":     total,
		"adopted_count":       len(adopters),
		"adoption_rate":       percent(len(adopters), total),
		"by_phase":            byPhase,
		"avg_compliance_rate": average(compliance, len(adopters)),
		"adopters":            graph.Rows(adopters),
		"non_adopters":        graph.Rows(nonAdopters),
	}, nil
}

// GapHospital is a non-adopting hospital with its ties to adopters.
type GapHospital struct {
	Hospital       string `json:"hospital"`
	State          string `json:"state"`
	Type           string `json:"type"`
	Connections    int    `json:"connections_to_adopters"`
	Recommendation string `json:"recommendation"`
}

func (m *Module) adoptionGaps(ctx context.Context, args map[string]any) (any, error) {
	name, err := tool.ArgsRequiredString(args, "protocol_name")
	if err != nil {
		return nil, err
	}
	minConnections := tool.ArgsInt(args, "min_connections", defaultMinConnections)
	if minConnections < 1 {
		return nil, fmt.Errorf("%w: min_connections must be >= 1", domain.ErrInvalidArguments)
	}
	state := tool.ArgsString(args, "state")

	p, ok, err := m.resolveProtocol(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocolNotFound(name), nil
	}

	var inState map[string]bool
	if state != "" {
		hospitals, err := m.hospitals.FindHospitals(ctx, referral.HospitalFilter{State: state})
		if err != nil {
			return nil, err
		}
		inState = make(map[string]bool, len(hospitals))
		for _, h := range hospitals {
			inState[h.Name] = true
		}
	}

	records, err := m.reader.Execute(ctx, adoptionGapsQuery, map[string]any{"protocol": p.Name})
	if err != nil {
		return nil, err
	}

	highPotential := []GapHospital{}
	isolated := []GapHospital{}
	considered := 0
	for _, r := range records {
		h := GapHospital{
			Hospital:    graph.GetString(r, "hospital"),
			State:       graph.GetString(r, "state"),
			Type:        graph.GetString(r, "type"),
			Connections: graph.GetInt(r, "adopter_connections"),
		}
		if inState != nil && !inState[h.Hospital] {
			continue
		}
		considered++
		switch {
		case h.Connections >= minConnections:
			h.Recommendation = "High potential: strong network ties to adopters"
			highPotential = append(highPotential, h)
		case h.Connections == 0:
			h.Recommendation = "Requires direct intervention: no network connections to adopters"
			isolated = append(isolated, h)
		}
	}
	sort.SliceStable(highPotential, func(i, j int) bool {
		return highPotential[i].Connections > highPotential[j].Connections
	})

	result := map[string]any{
		"protocol":               p.Name,
		"found":                  true,
		"analysis_date":          m.today(),
		"min_connections":        minConnections,
		"high_potential_targets": highPotential,
		"isolated_hospitals":     isolated,
		"summary": map[string]int{
			"high_potential_count": len(highPotential),
			"isolated_count":       len(isolated),
			"total_non_adopters":   considered,
		},
	}
	if state != "" {
		result["state"] = state
	}
	return result, nil
}

// SpreadStep is one link in a chain of influence.
type SpreadStep struct {
	Step        int    `json:"step"`
	From        string `json:"from_hospital"`
	To          string `json:"to_hospital"`
	Interaction string `json:"interaction_type"`
	Date        string `json:"date"`
}

func (m *Module) spreadPath(ctx context.Context, args map[string]any) (any, error) {
	protocolName, err := tool.ArgsRequiredString(args, "protocol_name")
	if err != nil {
		return nil, err
	}
	hospitalName, err := tool.ArgsRequiredString(args, "hospital_name")
	if err != nil {
		return nil, err
	}

	p, ok, err := m.resolveProtocol(ctx, protocolName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocolNotFound(protocolName), nil
	}

	hospital, ok, err := m.resolveHospital(ctx, hospitalName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{
			"hospital": hospitalName,
			"protocol": p.Name,
			"found":    false,
			"message":  fmt.Sprintf("Hospital '%s' not found", hospitalName),
		}, nil
	}

	params := map[string]any{"hospital": hospital, "protocol": p.Name}
	adoption, err := m.reader.Execute(ctx, adoptionRecordQuery, params)
	if err != nil {
		return nil, err
	}
	if len(adoption) == 0 {
		return map[string]any{
			"hospital": hospital,
			"protocol": p.Name,
			"found":    false,
			"message":  fmt.Sprintf("Hospital '%s' has not adopted protocol '%s'", hospital, p.Name),
		}, nil
	}

	records, err := m.reader.Execute(ctx, spreadPathQuery, params)
	if err != nil {
		return nil, err
	}
	chain := []SpreadStep{}
	if len(records) > 0 {
		chain = spreadSteps(records[0])
	}
	source := hospital
	if len(chain) > 0 {
		source = chain[len(chain)-1].From
	}

	return map[string]any{
		"hospital":        hospital,
		"protocol":        p.Name,
		"found":           true,
		"adoption_date":   graph.GetString(adoption[0], "adoption_date"),
		"influence_chain": chain,
		"original_source": source,
		"chain_length":    len(chain),
	}, nil
}

func spreadSteps(r graph.Record) []SpreadStep {
	hospitals := graph.GetStringSlice(r, "hospitals")
	interactions := graph.GetStringSlice(r, "interactions")
	dates := graph.GetStringSlice(r, "dates")

	var steps []SpreadStep
	for i := 0; i+1 < len(hospitals); i++ {
		s := SpreadStep{Step: i + 1, From: hospitals[i+1], To: hospitals[i]}
		if i < len(interactions) {
			s.Interaction = interactions[i]
		}
		if i < len(dates) {
			s.Date = dates[i]
		}
		steps = append(steps, s)
	}
	return steps
}

// resolveHospital maps a partial name to a hospital through the referral
// domain, preferring an exact (case-insensitive) match.
func (m *Module) resolveHospital(ctx context.Context, name string) (string, bool, error) {
	hospitals, err := m.hospitals.FindHospitals(ctx, referral.HospitalFilter{Name: name})
	if err != nil {
		return "", false, err
	}
	if len(hospitals) == 0 {
		return "", false, nil
	}
	for _, h := range hospitals {
		if strings.EqualFold(h.Name, name) {
			return h.Name, true, nil
		}
	}
	return hospitals[0].Name, true, nil
}

// Champion is a hospital that others learned from.
type Champion struct {
	Hospital   string         `json:"hospital"`
	State      string         `json:"state"`
	Influenced int            `json:"hospitals_influenced"`
	Protocols  []string       `json:"protocols_championed"`
	Methods    map[string]int `json:"influence_methods"`
	Score      float64        `json:"influence_score"`
}

func (m *Module) champions(ctx context.Context, args map[string]any) (any, error) {
	filter := tool.ArgsString(args, "protocol_name")
	params := map[string]any{"min_compliance": championCompliance, "protocol": nil}
	if filter != "" {
		p, ok, err := m.resolveProtocol(ctx, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			return protocolNotFound(filter), nil
		}
		filter = p.Name
		params["protocol"] = p.Name
	}

	records, err := m.reader.Execute(ctx, championsQuery, params)
	if err != nil {
		return nil, err
	}

	champions := []Champion{}
	for _, r := range records {
		influenced := graph.GetInt(r, "influenced")
		if influenced < 1 {
			continue
		}
		methods := make(map[string]int)
		for _, method := range graph.GetStringSlice(r, "methods") {
			methods[method]++
		}
		champions = append(champions, Champion{
			Hospital:   graph.GetString(r, "hospital"),
			State:      graph.GetString(r, "state"),
			Influenced: influenced,
			Protocols:  graph.GetStringSlice(r, "protocols"),
			Methods:    methods,
			Score:      float64(influenced * 10),
		})
	}
	sort.SliceStable(champions, func(i, j int) bool {
		if champions[i].Influenced != champions[j].Influenced {
			return champions[i].Influenced > champions[j].Influenced
		}
		return champions[i].Hospital < champions[j].Hospital
	})

	total := len(champions)
	if len(champions) > maxChampions {
		champions = champions[:maxChampions]
	}
	if filter == "" {
		filter = "All protocols"
	}
	return map[string]any{
		"champions":                  champions,
		"total_champions_identified": total,
		"criteria":                   fmt.Sprintf("Hospitals that influenced 1+ others with %d%%+ compliance", championCompliance),
		"protocol_filter":            filter,
	}, nil
}

// HospitalOutcome is one hospital's result on a metric.
type HospitalOutcome struct {
	Hospital       string  `json:"hospital"`
	Baseline       float64 `json:"baseline"`
	Current        float64 `json:"current"`
	ImprovementPct float64 `json:"improvement_pct"`
}

// MetricSummary aggregates outcomes for one metric.
type MetricSummary struct {
	Metric            string            `json:"metric"`
	Unit              string            `json:"unit"`
	Direction         string            `json:"direction"`
	HospitalsWithData int               `json:"hospitals_with_data"`
	AvgBaseline       float64           `json:"avg_baseline"`
	AvgCurrent        float64           `json:"avg_current"`
	AvgImprovementPct float64           `json:"avg_improvement_pct"`
	TopImprovers      []HospitalOutcome `json:"top_improvers"`
}

func (m *Module) outcomeImprovement(ctx context.Context, args map[string]any) (any, error) {
	name, err := tool.ArgsRequiredString(args, "protocol_name")
	if err != nil {
		return nil, err
	}
	metric := tool.ArgsString(args, "metric_name")

	p, ok, err := m.resolveProtocol(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocolNotFound(name), nil
	}

	params := map[string]any{"protocol": p.Name, "metric": nil}
	if metric != "" {
		params["metric"] = metric
	}
	records, err := m.reader.Execute(ctx, outcomesQuery, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return map[string]any{
			"protocol":      p.Name,
			"found":         true,
			"message":       "No outcome data found for protocol adopters",
			"metric_filter": metric,
		}, nil
	}

	summaries := summarizeOutcomes(records)
	outcomeRecords := 0
	for _, s := range summaries {
		outcomeRecords += s.HospitalsWithData
	}
	return map[string]any{
		"protocol":         p.Name,
		"found":            true,
		"analysis_date":    m.today(),
		"metrics_analyzed": summaries,
		"overall_summary": map[string]int{
			"total_outcome_records": outcomeRecords,
			"metrics_count":         len(summaries),
		},
	}, nil
}

// summarizeOutcomes groups rows by metric, keeping the order metrics first
// appear in.
func summarizeOutcomes(records []graph.Record) []MetricSummary {
	var order []string
	byMetric := make(map[string]*MetricSummary)
	outcomes := make(map[string][]HospitalOutcome)

	for _, r := range records {
		name := graph.GetString(r, "metric")
		s, ok := byMetric[name]
		if !ok {
			direction := graph.GetString(r, "direction")
			if direction == "" {
				direction = "lower_better"
			}
			s = &MetricSummary{Metric: name, Unit: graph.GetString(r, "unit"), Direction: direction}
			byMetric[name] = s
			order = append(order, name)
		}
		o := HospitalOutcome{
			Hospital: graph.GetString(r, "hospital"),
			Baseline: graph.GetFloat(r, "baseline"),
			Current:  graph.GetFloat(r, "current"),
		}
		o.ImprovementPct = improvement(o.Baseline, o.Current, s.Direction)
		outcomes[name] = append(outcomes[name], o)
	}

	summaries := make([]MetricSummary, 0, len(order))
	for _, name := range order {
		s := byMetric[name]
		list := outcomes[name]
		var baseline, current, improved float64
		for _, o := range list {
			baseline += o.Baseline
			current += o.Current
			improved += o.ImprovementPct
		}
		s.HospitalsWithData = len(list)
		s.AvgBaseline = average(baseline, len(list))
		s.AvgCurrent = average(current, len(list))
		s.AvgImprovementPct = average(improved, len(list))

		top := append([]HospitalOutcome(nil), list...)
		sort.SliceStable(top, func(i, j int) bool { return top[i].ImprovementPct > top[j].ImprovementPct })
		if len(top) > maxTopImprovers {
			top = top[:maxTopImprovers]
		}
		s.TopImprovers = top
		summaries = append(summaries, *s)
	}
	return summaries
}

// improvement is the relative change from baseline in percent, positive when
// the metric moved in its good direction.
func improvement(baseline, current float64, direction string) float64 {
	if baseline <= 0 {
		return 0
	}
	if direction == "higher_better" {
		return round1((current - baseline) / baseline * 100)
	}
	return round1((baseline - current) / baseline * 100)
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return round1(sum / float64(n))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

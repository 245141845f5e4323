package agent

import (
	"fmt"
	"strings"
	"time"

	"refagent/internal/domain"
)

// DefaultHospitals is the reference list given to the model so it asks for
// hospitals by their exact names.
var DefaultHospitals = []string{
	"Children's Mercy Kansas City (tertiary, MO)",
	"Children's Hospital Colorado (tertiary, CO)",
	"St. Louis Children's Hospital (tertiary, MO)",
	"Regional Medical Center (community, rural, MO)",
	"Prairie Community Hospital (community, rural, KS)",
	"Heartland Pediatrics (specialty, KS)",
	"Ozark Regional Medical (regional, MO)",
	"Nebraska Children's (tertiary, NE)",
}

const basePrompt = `You are a healthcare analytics assistant with access to a referral network
database for children's hospitals. You can query information about hospitals, providers,
referral patterns, service lines and quality-improvement protocol adoption.

When asked questions about the network, use the available tools to find accurate information.
Summarize your findings in a clear, professional manner suitable for healthcare administrators.

Available data includes:
- Hospital information (name, location, type, bed count, rural status)
- Provider information (name, specialty, hospital affiliations)
- Referral relationships between hospitals (volume, acuity)
- Service lines and which hospitals offer them
- Protocol adoption and outcome metrics per hospital`

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	Hospitals         []string // nil uses DefaultHospitals
	SystemPromptExtra string   // custom text appended to the system prompt
	Now               func() time.Time
}

type PromptBuilder struct {
	hospitals []string
	extra     string
	now       func() time.Time
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Hospitals == nil {
		cfg.Hospitals = DefaultHospitals
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PromptBuilder{hospitals: cfg.Hospitals, extra: cfg.SystemPromptExtra, now: cfg.Now}
}

// BuildSystemPrompt renders the system prompt for a catalog of tools.
func (p *PromptBuilder) BuildSystemPrompt(tools []domain.WireTool) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if len(p.hospitals) > 0 {
		sb.WriteString("\n\nThe hospitals in the database include:\n")
		for _, h := range p.hospitals {
			sb.WriteString("- ")
			sb.WriteString(h)
			sb.WriteByte('\n')
		}
	}

	if len(tools) > 0 {
		names := make([]string, len(tools))
		for i, t := range tools {
			names[i] = t.Function.Name
		}
		fmt.Fprintf(&sb, "\nTools available in this session: %s\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&sb, "\nCurrent date: %s\n", p.now().Format("2006-01-02"))
	sb.WriteString("\nAlways base your answers on actual data from the tools, not assumptions.\n" +
		"When searching for a hospital, use the exact name as listed above.\n" +
		"Do NOT output raw JSON in your response. Use the tool calling mechanism.")

	if p.extra != "" {
		sb.WriteString("\n\n## Custom Instructions\n")
		sb.WriteString(p.extra)
	}
	return sb.String()
}

// BuildMessages returns the seed history of a conversation: system prompt
// followed by the user's question.
func (p *PromptBuilder) BuildMessages(question string, tools []domain.WireTool) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: p.BuildSystemPrompt(tools)},
		{Role: domain.RoleUser, Content: question},
	}
}

package agent

import "refagent/internal/domain"

// ToolFilter narrows the catalog for one Loop, e.g. a read-only deployment
// that hides expensive path searches. It never widens the catalog.
type ToolFilter struct {
	allowedTools map[string]bool // if non-empty, only these tools are allowed
	deniedTools  map[string]bool // these tools are always denied
}

// NewToolFilter creates a tool filter from allow/deny lists.
// If allowed is non-empty, only those tools are permitted.
// Denied tools are always blocked regardless of the allow list.
func NewToolFilter(allowed, denied []string) *ToolFilter {
	tf := &ToolFilter{
		allowedTools: make(map[string]bool),
		deniedTools:  make(map[string]bool),
	}
	for _, t := range allowed {
		tf.allowedTools[t] = true
	}
	for _, t := range denied {
		tf.deniedTools[t] = true
	}
	return tf
}

// FilterWire returns only the wire definitions that pass the filter.
func (tf *ToolFilter) FilterWire(defs []domain.WireTool) []domain.WireTool {
	if tf.IsEmpty() {
		return defs
	}
	filtered := make([]domain.WireTool, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Function.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// IsAllowed returns true if the tool name passes the filter.
func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	if tf.deniedTools[name] {
		return false
	}
	if len(tf.allowedTools) > 0 {
		return tf.allowedTools[name]
	}
	return true
}

// IsEmpty returns true if the filter has no rules.
func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || (len(tf.allowedTools) == 0 && len(tf.deniedTools) == 0)
}

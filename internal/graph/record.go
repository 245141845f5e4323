package graph

// Typed accessors for Record values. Bolt returns integers as int64 and
// lists as []any; these helpers absorb that so tools stay readable.

func GetString(r Record, key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// GetInt handles int, int64 and float64 (truncated).
func GetInt(r Record, key string) int {
	return int(GetInt64(r, key))
}

func GetInt64(r Record, key string) int64 {
	switch n := r[key].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func GetFloat(r Record, key string) float64 {
	switch n := r[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func GetBool(r Record, key string) bool {
	b, _ := r[key].(bool)
	return b
}

// GetStringSlice handles both []string and []any containing strings.
func GetStringSlice(r Record, key string) []string {
	switch s := r[key].(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Rows converts records to plain maps for JSON tool results.
func Rows(records []Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = map[string]any(r)
	}
	return out
}

// ListParam converts rows to the []any form the Bolt packer expects for an
// UNWIND parameter.
func ListParam(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

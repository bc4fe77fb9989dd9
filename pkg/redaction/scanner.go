package redaction

// Finding records one DLP match, the raw material for a redaction_log row.
type Finding struct {
	RuleID string
	Field  string
}

// Result is the outcome of scanning one event payload.
type Result struct {
	Found      bool
	MaskedData map[string]interface{}
	Findings   []Finding
}

// Scanner walks an event's data payload looking for configured secret
// patterns and masks matches in place. It is stateless and safe for
// concurrent use — exactly one Scanner is constructed at startup and shared
// by every Writer.
type Scanner struct {
	patterns []BuiltinPattern
}

// NewScanner builds a Scanner with the built-in pattern table.
func NewScanner() *Scanner {
	return &Scanner{patterns: builtinPatterns}
}

// Scan walks data recursively, masking any string leaf value that matches a
// configured pattern. Struct/array nesting is preserved; only leaf strings
// are rewritten, and field paths (dotted) are recorded per finding so the
// redaction log can point at what was touched.
func (s *Scanner) Scan(data map[string]interface{}) Result {
	if data == nil {
		return Result{MaskedData: map[string]interface{}{}}
	}

	var findings []Finding
	masked := s.scanValue(data, "", &findings).(map[string]interface{})

	return Result{
		Found:      len(findings) > 0,
		MaskedData: masked,
		Findings:   findings,
	}
}

func (s *Scanner) scanValue(v interface{}, path string, findings *[]Finding) interface{} {
	switch val := v.(type) {
	case string:
		return s.scanString(val, path, findings)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			out[k] = s.scanValue(child, childPath, findings)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = s.scanValue(child, path, findings)
		}
		return out
	default:
		return v
	}
}

func (s *Scanner) scanString(str string, path string, findings *[]Finding) string {
	masked := str
	for _, p := range s.patterns {
		if p.Regex.MatchString(masked) {
			masked = p.Regex.ReplaceAllString(masked, p.Replacement)
			*findings = append(*findings, Finding{RuleID: p.RuleID, Field: path})
		}
	}
	return masked
}

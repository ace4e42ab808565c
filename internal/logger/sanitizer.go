package logger

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultSensitiveFields are the column names masked when no list is configured.
var DefaultSensitiveFields = []string{
	"password", "passwd", "token", "api_key", "secret",
	"authorization", "credit_card", "ssn", "private_key",
}

const redacted = "***REDACTED***"

// Sanitizer masks statement parameters before they are logged. A statement
// mentioning any sensitive column has all of its parameters masked, since
// placeholders are not mapped back to columns.
type Sanitizer struct {
	pattern *regexp.Regexp
}

// NewSanitizer builds a sanitizer for the given column names, or for
// DefaultSensitiveFields when none are given.
func NewSanitizer(fields []string) *Sanitizer {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(f))
	}
	return &Sanitizer{
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Sensitive reports whether sql references a sensitive column.
func (s *Sanitizer) Sensitive(sql string) bool {
	return s.pattern.MatchString(sql)
}

// MaskParams returns params, or a masked copy when sql is sensitive.
func (s *Sanitizer) MaskParams(sql string, params []any) []any {
	if len(params) == 0 || !s.Sensitive(sql) {
		return params
	}
	masked := make([]any, len(params))
	for i := range masked {
		masked[i] = redacted
	}
	return masked
}

// FormatParams renders params for a log line, truncating long values.
func (s *Sanitizer) FormatParams(params []any) string {
	const maxLen = 100
	parts := make([]string, len(params))
	for i, p := range params {
		if p == nil {
			parts[i] = "NULL"
			continue
		}
		str := fmt.Sprintf("%v", p)
		if len(str) > maxLen {
			str = str[:maxLen] + "..."
		}
		parts[i] = str
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Package security screens SQL text and parameters for injection patterns
// before statements are executed.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeSQL is returned when a statement or parameter looks like an injection attempt.
var ErrUnsafeSQL = errors.New("unsafe SQL")

// statementPatterns never appear in SQL produced by the query compiler, so a
// match means raw SQL carried something in.
var statementPatterns = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`--\s`,
	`/\*.*\*/`,
	`;\s*(?:DROP|DELETE|TRUNCATE|ALTER|CREATE|INSERT|UPDATE)\s`,
	`\bUNION\s+(?:ALL\s+)?SELECT\b`,
	`\bINFORMATION_SCHEMA\b`,
	`\bXP_CMDSHELL\b`,
	`\bPG_SLEEP\s*\(`,
	`\bBENCHMARK\s*\(`,
	`\bWAITFOR\s+DELAY\b`,
	`\sOR\s+1\s*=\s*1\b`,
	`\sOR\s+'1'\s*=\s*'1'`,
}, "|"))

var paramIndicators = []string{"'--", "';", "' OR ", "' AND ", "/*", "*/", "' UNION ", "' DROP "}

// Validator checks statements and their parameters.
type Validator struct {
	checkParams bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithParamChecks enables screening of string parameters. Parameters are
// bound, not interpolated, so this is off by default.
func WithParamChecks(on bool) Option {
	return func(v *Validator) { v.checkParams = on }
}

// NewValidator returns a validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateQuery rejects SQL containing a known injection pattern.
func (v *Validator) ValidateQuery(sql string) error {
	if loc := statementPatterns.FindStringIndex(sql); loc != nil {
		return fmt.Errorf("%w: %q", ErrUnsafeSQL, sql[loc[0]:loc[1]])
	}
	return nil
}

// ValidateParams rejects string parameters with injection indicators when
// parameter checks are enabled.
func (v *Validator) ValidateParams(params []any) error {
	if !v.checkParams {
		return nil
	}
	for i, p := range params {
		s, ok := p.(string)
		if !ok {
			continue
		}
		upper := strings.ToUpper(s)
		for _, ind := range paramIndicators {
			if strings.Contains(upper, ind) {
				return fmt.Errorf("%w: parameter %d", ErrUnsafeSQL, i)
			}
		}
	}
	return nil
}

// Package keyword scans subprocess output lines against a job's keyword
// rules (spec.md §4.7). Matching is plain substring search, not regular
// expressions, so there is no pattern-matching library to wire here.
package keyword

import (
	"strings"
	"time"

	"github.com/jobforge/scheduler/internal/models"
)

// Scanner evaluates one job's compiled keyword rules against output
// lines as they stream in.
type Scanner struct {
	rules []models.KeywordRule
}

// New builds a Scanner for rules, in declaration order (first-match-wins
// per line, per spec.md §4.7).
func New(rules []models.KeywordRule) *Scanner {
	return &Scanner{rules: rules}
}

// Scan checks line against every rule and returns the first hit, if any,
// plus whether that hit requires aborting the run.
func (s *Scanner) Scan(line string, now time.Time) (hit *models.KeywordHit, abort bool) {
	for _, rule := range s.rules {
		if matchAny(rule, line) {
			h := &models.KeywordHit{
				RuleKind: rule.Kind,
				Message:  rule.Message,
				Line:     line,
				At:       now,
			}
			return h, rule.Kind == models.KeywordFailure && rule.AbortOnHit
		}
	}
	return nil, false
}

func matchAny(rule models.KeywordRule, line string) bool {
	haystack := line
	if rule.CaseInsensitive {
		haystack = strings.ToLower(haystack)
	}
	for _, p := range rule.Patterns {
		needle := p
		if rule.CaseInsensitive {
			needle = strings.ToLower(needle)
		}
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

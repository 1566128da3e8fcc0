package keyword

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobforge/scheduler/internal/models"
)

func TestScan_FirstMatchWins(t *testing.T) {
	rules := []models.KeywordRule{
		{Patterns: []string{"ERROR"}, Kind: models.KeywordFailure, AbortOnHit: true},
		{Patterns: []string{"error"}, Kind: models.KeywordAlert},
	}
	s := New(rules)

	hit, abort := s.Scan("ERROR: disk full", time.Now())
	require.NotNil(t, hit)
	assert.Equal(t, models.KeywordFailure, hit.RuleKind)
	assert.True(t, abort)
}

func TestScan_CaseSensitiveByDefault(t *testing.T) {
	rules := []models.KeywordRule{{Patterns: []string{"done"}, Kind: models.KeywordSuccess}}
	s := New(rules)

	hit, _ := s.Scan("Job DONE successfully", time.Now())
	assert.Nil(t, hit, "default matching is case-sensitive")
}

func TestScan_CaseInsensitiveRuleMatches(t *testing.T) {
	rules := []models.KeywordRule{{Patterns: []string{"FAIL"}, Kind: models.KeywordFailure, CaseInsensitive: true}}
	s := New(rules)

	hit, _ := s.Scan("fail: now matched", time.Now())
	require.NotNil(t, hit)
}

func TestScan_NoMatch(t *testing.T) {
	s := New([]models.KeywordRule{{Patterns: []string{"xyz"}, Kind: models.KeywordAlert}})
	hit, abort := s.Scan("all good here", time.Now())
	assert.Nil(t, hit)
	assert.False(t, abort)
}

func TestScan_AbortOnlyForFailureKind(t *testing.T) {
	rules := []models.KeywordRule{{Patterns: []string{"warn"}, Kind: models.KeywordAlert, AbortOnHit: true}}
	s := New(rules)

	hit, abort := s.Scan("warn: something", time.Now())
	require.NotNil(t, hit)
	assert.False(t, abort, "abort_on_hit only applies to failure-kind rules")
}

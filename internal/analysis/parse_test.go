package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-io/finsight/internal/apperr"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n[1,2]\n```", `[1,2]`},
		{"surrounding whitespace", "  \n{\"a\":1}\n  ", `{"a":1}`},
		{"fence with trailing newline", "```json\n{}\n```\n", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseSingle(t *testing.T) {
	res, err := parseSingle("```json\n" + `{
		"financial_status": "high",
		"confidence_score": 0.85,
		"analysis_summary": "Executive role and travel posts",
		"indicators": {"job_indicators": ["CTO"], "lifestyle_indicators": ["travel"]}
	}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "high", res.FinancialStatus)
	assert.Equal(t, 0.85, res.ConfidenceScore)
	assert.Equal(t, []string{"CTO"}, res.Indicators.Job)
}

func TestParseSingleRejectsBadValues(t *testing.T) {
	_, err := parseSingle(`{"financial_status": "wealthy", "confidence_score": 0.5, "analysis_summary": "x"}`)
	assert.True(t, apperr.IsValidation(err))

	_, err = parseSingle(`{"financial_status": "low", "confidence_score": 1.5, "analysis_summary": "x"}`)
	assert.True(t, apperr.IsValidation(err))

	_, err = parseSingle(`{"financial_status": "low", "confidence_score": 0.5}`)
	assert.True(t, apperr.IsValidation(err))

	_, err = parseSingle(`not json at all`)
	assert.True(t, apperr.IsParse(err))
}

func TestParseBatchIsolatesBadElements(t *testing.T) {
	results, errs, err := parseBatch(`[
		{"profile_id": 1, "financial_status": "low", "confidence_score": 0.6, "analysis_summary": "student"},
		{"profile_id": 2, "financial_status": "rich", "confidence_score": 0.9, "analysis_summary": "bad label"},
		{"financial_status": "medium", "confidence_score": 0.5, "analysis_summary": "no id"},
		{"profile_id": 3, "financial_status": "medium", "confidence_score": 0.7, "analysis_summary": "steady job"}
	]`)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ProfileID)
	assert.Equal(t, int64(3), results[1].ProfileID)

	require.Len(t, errs, 2)
	assert.Equal(t, int64(2), errs[0].ProfileID)
	assert.Contains(t, errs[0].Reason, "financial_status")
	assert.Contains(t, errs[1].Reason, "profile_id")
}

func TestParseBatchNonArray(t *testing.T) {
	_, _, err := parseBatch(`{"profile_id": 1}`)
	assert.True(t, apperr.IsParse(err))
}

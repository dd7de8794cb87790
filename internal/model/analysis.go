package model

import (
	"encoding/json"
	"time"
)

// FinancialStatus is the coarse classification assigned by the analyst
// model.
type FinancialStatus string

const (
	StatusLow    FinancialStatus = "low"
	StatusMedium FinancialStatus = "medium"
	StatusHigh   FinancialStatus = "high"
)

// AllFinancialStatuses returns the closed set of valid labels.
func AllFinancialStatuses() []FinancialStatus {
	return []FinancialStatus{StatusLow, StatusMedium, StatusHigh}
}

// ValidFinancialStatus reports whether s is one of the allowed labels.
func ValidFinancialStatus(s FinancialStatus) bool {
	switch s {
	case StatusLow, StatusMedium, StatusHigh:
		return true
	}
	return false
}

// Indicators is the structured evidence payload returned alongside a
// classification.
type Indicators struct {
	Job       []string `json:"job_indicators,omitempty"`
	Lifestyle []string `json:"lifestyle_indicators,omitempty"`
	Education []string `json:"education_indicators,omitempty"`
	Location  []string `json:"location_indicators,omitempty"`
}

// FinancialAnalysis is one immutable analysis record for a profile.
// Re-analysis appends a new row; "latest" is by CreatedAt.
type FinancialAnalysis struct {
	ID           int64           `json:"id"`
	ProfileID    int64           `json:"profile_id"`
	Status       FinancialStatus `json:"financial_status"`
	Confidence   float64         `json:"confidence_score"`
	Summary      string          `json:"analysis_summary"`
	Indicators   Indicators      `json:"indicators"`
	Model        string          `json:"model"`
	PromptTokens int64           `json:"prompt_tokens"`
	OutputTokens int64           `json:"completion_tokens"`
	TotalTokens  int64           `json:"total_tokens"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IndicatorsJSON serializes the indicators payload for storage.
func (fa *FinancialAnalysis) IndicatorsJSON() (string, error) {
	raw, err := json.Marshal(fa.Indicators)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// BatchError records why one profile (or a whole chunk of profiles)
// failed during batch analysis.
type BatchError struct {
	ProfileID  int64   `json:"profile_id,omitempty"`
	ProfileIDs []int64 `json:"profile_ids,omitempty"`
	Chunk      int     `json:"chunk,omitempty"`
	Reason     string  `json:"reason"`
}

// BatchResult accumulates the outcome of a batch analysis run.
type BatchResult struct {
	Results     []FinancialAnalysis `json:"results"`
	Errors      []BatchError        `json:"errors"`
	TotalTokens int64               `json:"total_tokens_used"`
	Processed   int                 `json:"profiles_processed"`
	Skipped     int                 `json:"profiles_skipped"`
}

// AnalysisStats summarizes stored analyses per status label.
type AnalysisStats struct {
	ByStatus map[FinancialStatus]StatusStats `json:"by_status"`
	Total    StatusStats                     `json:"total"`
}

// StatusStats holds a count and mean confidence for one label bucket.
type StatusStats struct {
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"average_confidence"`
}

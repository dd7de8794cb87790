package analysis

import (
	"encoding/json"
	"strings"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/model"
)

// analysisResult is the JSON shape the model is asked to produce.
// ProfileID is only present in batch responses.
type analysisResult struct {
	ProfileID       int64            `json:"profile_id"`
	FinancialStatus string           `json:"financial_status"`
	ConfidenceScore float64          `json:"confidence_score"`
	AnalysisSummary string           `json:"analysis_summary"`
	Indicators      model.Indicators `json:"indicators"`
}

// cleanJSON strips the markdown code fence the model sometimes wraps
// around its JSON answer.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// parseSingle decodes and validates a single-profile response.
func parseSingle(text string) (*analysisResult, error) {
	var res analysisResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &res); err != nil {
		return nil, apperr.Parse("decode analysis response: %v", err)
	}
	if err := validateResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// parseBatch decodes a batch response array. Elements that fail to
// decode or validate become per-profile errors; they never fail the
// sibling elements. A response that is not a JSON array at all is a
// parse error for the caller to attribute to the whole chunk.
func parseBatch(text string) ([]analysisResult, []model.BatchError, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return nil, nil, apperr.Parse("decode batch response: %v", err)
	}

	var (
		results []analysisResult
		errs    []model.BatchError
	)
	for _, elem := range raw {
		var res analysisResult
		if err := json.Unmarshal(elem, &res); err != nil {
			errs = append(errs, model.BatchError{Reason: "decode element: " + err.Error()})
			continue
		}
		if res.ProfileID == 0 {
			errs = append(errs, model.BatchError{Reason: "missing required field: profile_id"})
			continue
		}
		if err := validateResult(&res); err != nil {
			errs = append(errs, model.BatchError{ProfileID: res.ProfileID, Reason: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, errs, nil
}

func validateResult(res *analysisResult) error {
	if res.AnalysisSummary == "" {
		return apperr.Validation("analysis_summary", "missing required field")
	}
	if !model.ValidFinancialStatus(model.FinancialStatus(res.FinancialStatus)) {
		return apperr.Validation("financial_status", "%q is not one of low, medium, high", res.FinancialStatus)
	}
	if res.ConfidenceScore < 0 || res.ConfidenceScore > 1 {
		return apperr.Validation("confidence_score", "%v outside [0.0, 1.0]", res.ConfidenceScore)
	}
	return nil
}

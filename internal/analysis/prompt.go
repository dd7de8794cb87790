package analysis

import (
	"fmt"
	"strings"

	"github.com/finsight-io/finsight/internal/model"
)

// singleSystemPrompt instructs the model to classify one profile and
// answer with a bare JSON object.
const singleSystemPrompt = `You are a financial analyst AI. Analyze this social profile to determine the user's likely financial status.

Respond with valid JSON in this exact format:
{
  "financial_status": "low|medium|high",
  "confidence_score": <0.0-1.0>,
  "analysis_summary": "<brief explanation of your assessment>",
  "indicators": {
    "job_indicators": ["list of job-related indicators found"],
    "lifestyle_indicators": ["list of lifestyle indicators found"],
    "education_indicators": ["list of education indicators found"],
    "location_indicators": ["list of location-based indicators found"]
  }
}

Financial Status Guidelines:
- LOW: Students, unemployed, entry-level jobs, financial struggles mentioned, budget constraints
- MEDIUM: Standard employment, middle-class lifestyle, some discretionary spending
- HIGH: Executive positions, luxury lifestyle indicators, high-end education, expensive locations/activities`

// batchSystemPrompt instructs the model to classify several profiles at
// once and answer with a JSON array, one object per profile.
const batchSystemPrompt = `You are a financial analyst AI. Analyze the provided social profiles to determine each user's likely financial status.

For each profile, provide analysis in this exact JSON format:
{
  "profile_id": <profile_id>,
  "financial_status": "low|medium|high",
  "confidence_score": <0.0-1.0>,
  "analysis_summary": "<brief explanation>",
  "indicators": {
    "job_indicators": ["list of job-related indicators found"],
    "lifestyle_indicators": ["list of lifestyle indicators found"],
    "education_indicators": ["list of education indicators found"],
    "location_indicators": ["list of location-based indicators found"]
  }
}

Financial Status Guidelines:
- LOW: Students, unemployed, entry-level jobs, financial struggles mentioned, budget constraints
- MEDIUM: Standard employment, middle-class lifestyle, some discretionary spending
- HIGH: Executive positions, luxury lifestyle indicators, high-end education, expensive locations/activities

Consider these factors:
1. Job titles and companies
2. Education level and institutions
3. Location (expensive areas indicate higher income)
4. Lifestyle posts (travel, dining, purchases, activities)
5. Language patterns indicating financial stress or success

Respond with a JSON array containing analysis for each profile.`

// singlePrompt renders the user turn for one profile.
func singlePrompt(profile *model.UserProfile) string {
	return "Profile to analyze:\n" + profile.AnalyzableText()
}

// batchPrompt renders the user turn for a chunk of profiles, each
// labeled with the internal id the model must echo back.
func batchPrompt(profiles []model.UserProfile) string {
	var b strings.Builder
	b.WriteString("Profiles to analyze:\n")
	for _, p := range profiles {
		fmt.Fprintf(&b, "PROFILE %d:\n%s\n\n", p.ID, p.AnalyzableText())
	}
	return b.String()
}

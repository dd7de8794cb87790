package model

import (
	"strings"
	"time"
)

// UserProfile holds the scraped biographic data for one external person.
// ExternalID is unique; re-scraping updates the row (and LastScraped)
// rather than inserting a duplicate.
type UserProfile struct {
	ID                 int64     `json:"id"`
	ExternalID         string    `json:"external_id"`
	Name               string    `json:"name,omitempty"`
	Bio                string    `json:"bio,omitempty"`
	Location           string    `json:"location,omitempty"`
	Work               string    `json:"work,omitempty"`
	Education          string    `json:"education,omitempty"`
	RelationshipStatus string    `json:"relationship_status,omitempty"`
	ProfileURL         string    `json:"profile_url"`
	PictureURL         string    `json:"picture_url,omitempty"`
	PostsSample        string    `json:"posts_sample,omitempty"`
	IsVerified         bool      `json:"is_verified"`
	LastScraped        time.Time `json:"last_scraped"`
	ScrapedByAccountID int64     `json:"scraped_by_account_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AnalyzableText concatenates the present profile fields into the text
// block handed to the analyst model. Absent fields are skipped; an
// entirely empty profile yields "".
func (p *UserProfile) AnalyzableText() string {
	var parts []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Name", p.Name)
	add("Bio", p.Bio)
	add("Work", p.Work)
	add("Education", p.Education)
	add("Location", p.Location)
	add("Relationship", p.RelationshipStatus)
	add("Recent Posts Sample", p.PostsSample)
	return strings.Join(parts, "\n")
}

// HasContent reports whether the scrape found any biographic field worth
// keeping. A profile with none of these is treated as a failed scrape.
func (p *UserProfile) HasContent() bool {
	return p.Name != "" || p.Bio != "" || p.Work != "" || p.Education != "" || p.Location != ""
}

package model

import "time"

// Group is an external group linked to the single account that owns it.
// (ExternalID, Name) is unique; re-linking reassigns the owner instead
// of creating a second row.
type Group struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	IsJoined   bool      `json:"is_joined"`
	AccountID  int64     `json:"account_id"`
	Account    *Account  `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Post is a single group feed item. IsAnalyzed flips once its comments
// have been harvested.
type Post struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	GroupID    int64     `json:"group_id"`
	Group      *Group    `json:"-"`
	Content    string    `json:"content"`
	IsAnalyzed bool      `json:"is_analyzed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Comment is a single comment under a post, attributed to the profile
// that authored it.
type Comment struct {
	ID              int64     `json:"id"`
	ExternalID      string    `json:"external_id"`
	PostID          int64     `json:"post_id"`
	AuthorProfileID int64     `json:"author_profile_id"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

package store

import (
	"context"
	"time"

	"github.com/finsight-io/finsight/internal/model"
)

// ProfileFilter specifies criteria for listing profiles.
type ProfileFilter struct {
	AccountID int64 `json:"account_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
	Offset    int   `json:"offset,omitempty"`
}

// Store defines the persistence interface for accounts, scraped entities
// and analysis history.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account model.Account) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]model.Account, error)
	GetUsableAccount(ctx context.Context) (*model.Account, error)
	ReplaceAccountCookies(ctx context.Context, accountID int64, cookies []model.Cookie) error
	SetAccountToken(ctx context.Context, accountID int64, token string) error
	SetAccountBlocked(ctx context.Context, accountID int64, blocked bool) error

	// Groups
	UpsertGroup(ctx context.Context, accountID int64, externalID, name string, isJoined bool) (*model.Group, error)
	GetGroup(ctx context.Context, id int64) (*model.Group, error)
	GetGroupByExternalID(ctx context.Context, externalID string) (*model.Group, error)
	SetGroupJoined(ctx context.Context, groupID int64, joined bool) error

	// Posts
	InsertPosts(ctx context.Context, posts []model.Post) (int, error)
	GetPostByExternalID(ctx context.Context, externalID string) (*model.Post, error)
	MarkPostAnalyzed(ctx context.Context, postID int64) error

	// Comments
	InsertComments(ctx context.Context, comments []model.Comment) (int, error)

	// Profiles
	UpsertProfile(ctx context.Context, profile model.UserProfile) (*model.UserProfile, error)
	GetProfileByExternalID(ctx context.Context, externalID string) (*model.UserProfile, error)
	GetProfile(ctx context.Context, id int64) (*model.UserProfile, error)
	GetProfilesByIDs(ctx context.Context, ids []int64) ([]model.UserProfile, error)
	GetOrCreateProfileStub(ctx context.Context, externalID, name, profileURL string, accountID int64) (*model.UserProfile, error)
	ListRecentProfiles(ctx context.Context, filter ProfileFilter) ([]model.UserProfile, error)
	ListProfilesNeedingAnalysis(ctx context.Context, recency time.Duration, limit int) ([]model.UserProfile, error)

	// Analyses
	CreateAnalysis(ctx context.Context, analysis model.FinancialAnalysis) (*model.FinancialAnalysis, error)
	CreateAnalyses(ctx context.Context, analyses []model.FinancialAnalysis) ([]model.FinancialAnalysis, error)
	LatestAnalysisForProfile(ctx context.Context, profileID int64) (*model.FinancialAnalysis, error)
	ListAnalysesForProfile(ctx context.Context, profileID int64) ([]model.FinancialAnalysis, error)
	ListRecentAnalyses(ctx context.Context, limit int) ([]model.FinancialAnalysis, error)
	AnalysisStats(ctx context.Context) (*model.AnalysisStats, error)

	// Settings (durable config overrides)
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

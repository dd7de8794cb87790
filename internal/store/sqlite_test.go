package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAccount(t *testing.T, st *SQLiteStore, username string) *model.Account {
	t.Helper()
	account, err := st.CreateAccount(context.Background(), model.Account{
		Username: username,
		Email:    username + "@example.com",
		Password: "pw",
	})
	require.NoError(t, err)
	return account
}

func TestCreateAndGetAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created, err := st.CreateAccount(ctx, model.Account{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "secret",
		ProxyURL: "http://proxy:8080",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.UserAgent)

	got, err := st.GetAccount(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, "http://proxy:8080", got.ProxyURL)
	assert.Equal(t, created.UserAgent, got.UserAgent)
	assert.False(t, got.IsBlocked)
}

func TestGetAccountNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetAccount(context.Background(), 9999)
	assert.True(t, apperr.IsNotFound(err))
}

func TestListAccountsPaging(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for i := 0; i < 5; i++ {
		seedAccount(t, st, fmt.Sprintf("user%d", i))
	}

	page, err := st.ListAccounts(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "user0", page[0].Username)

	page, err = st.ListAccounts(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "user4", page[0].Username)
}

func TestReplaceAccountCookiesIsFullReplace(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")

	first := []model.Cookie{
		{Name: "c_user", Value: "100", Domain: ".example.com", Path: "/"},
		{Name: "xs", Value: "abc", Domain: ".example.com", Path: "/"},
	}
	require.NoError(t, st.ReplaceAccountCookies(ctx, account.ID, first))

	second := []model.Cookie{
		{Name: "c_user", Value: "200", Domain: ".example.com", Path: "/"},
	}
	require.NoError(t, st.ReplaceAccountCookies(ctx, account.ID, second))

	got, err := st.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, got.Cookies, 1)
	assert.Equal(t, "200", got.Cookies[0].Value)
}

func TestReplaceCookiesMissingAccount(t *testing.T) {
	st := newTestStore(t)

	err := st.ReplaceAccountCookies(context.Background(), 9999, nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetUsableAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// No account qualifies until one has both cookies and a token.
	_, err := st.GetUsableAccount(ctx)
	assert.True(t, apperr.IsNotFound(err))

	blocked := seedAccount(t, st, "blocked")
	require.NoError(t, st.ReplaceAccountCookies(ctx, blocked.ID, []model.Cookie{{Name: "c_user", Value: "1", Domain: "d", Path: "/"}}))
	require.NoError(t, st.SetAccountToken(ctx, blocked.ID, "EAAGblocked"))
	require.NoError(t, st.SetAccountBlocked(ctx, blocked.ID, true))

	usable := seedAccount(t, st, "usable")
	require.NoError(t, st.ReplaceAccountCookies(ctx, usable.ID, []model.Cookie{{Name: "c_user", Value: "2", Domain: "d", Path: "/"}}))
	require.NoError(t, st.SetAccountToken(ctx, usable.ID, "EAAGusable"))

	got, err := st.GetUsableAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, usable.ID, got.ID)
	assert.Equal(t, "EAAGusable", got.AccessToken)
}

func TestUpsertGroupReassignsOwner(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	first := seedAccount(t, st, "first")
	second := seedAccount(t, st, "second")

	g1, err := st.UpsertGroup(ctx, first.ID, "555", "Investors", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, g1.AccountID)

	// Same (external_id, name) pair moves to the new account; the row
	// keeps its id.
	g2, err := st.UpsertGroup(ctx, second.ID, "555", "Investors", false)
	require.NoError(t, err)
	assert.Equal(t, g1.ID, g2.ID)
	assert.Equal(t, second.ID, g2.AccountID)

	// A different name is a distinct group even with the same external id.
	g3, err := st.UpsertGroup(ctx, first.ID, "555", "Investors Archive", false)
	require.NoError(t, err)
	assert.NotEqual(t, g1.ID, g3.ID)
}

func TestGetGroupByExternalIDPreloadsAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	require.NoError(t, st.SetAccountToken(ctx, account.ID, "EAAGtok"))

	_, err := st.UpsertGroup(ctx, account.ID, "777", "Traders", true)
	require.NoError(t, err)

	group, err := st.GetGroupByExternalID(ctx, "777")
	require.NoError(t, err)
	assert.True(t, group.IsJoined)
	require.NotNil(t, group.Account)
	assert.Equal(t, "alice", group.Account.Username)
	assert.Equal(t, "EAAGtok", group.Account.AccessToken)
}

func TestSetGroupJoined(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")

	group, err := st.UpsertGroup(ctx, account.ID, "888", "Club", false)
	require.NoError(t, err)

	require.NoError(t, st.SetGroupJoined(ctx, group.ID, true))
	got, err := st.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, got.IsJoined)

	err = st.SetGroupJoined(ctx, 9999, true)
	assert.True(t, apperr.IsNotFound(err))
}

func TestInsertPostsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	group, err := st.UpsertGroup(ctx, account.ID, "555", "Investors", true)
	require.NoError(t, err)

	now := time.Now().UTC()
	posts := []model.Post{
		{ExternalID: "p1", GroupID: group.ID, Content: "first", CreatedAt: now},
		{ExternalID: "p2", GroupID: group.ID, Content: "second", CreatedAt: now},
	}
	inserted, err := st.InsertPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-inserting the same batch plus one new post only adds the new one.
	posts = append(posts, model.Post{ExternalID: "p3", GroupID: group.ID, Content: "third", CreatedAt: now})
	inserted, err = st.InsertPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestGetPostByExternalIDPreloadsChain(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	require.NoError(t, st.SetAccountToken(ctx, account.ID, "EAAGtok"))
	group, err := st.UpsertGroup(ctx, account.ID, "555", "Investors", true)
	require.NoError(t, err)

	_, err = st.InsertPosts(ctx, []model.Post{
		{ExternalID: "p1", GroupID: group.ID, Content: "hello", CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	post, err := st.GetPostByExternalID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "hello", post.Content)
	require.NotNil(t, post.Group)
	assert.Equal(t, "555", post.Group.ExternalID)
	require.NotNil(t, post.Group.Account)
	assert.Equal(t, "EAAGtok", post.Group.Account.AccessToken)

	_, err = st.GetPostByExternalID(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestInsertCommentsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	group, err := st.UpsertGroup(ctx, account.ID, "555", "Investors", true)
	require.NoError(t, err)
	_, err = st.InsertPosts(ctx, []model.Post{
		{ExternalID: "p1", GroupID: group.ID, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	post, err := st.GetPostByExternalID(ctx, "p1")
	require.NoError(t, err)
	author, err := st.GetOrCreateProfileStub(ctx, "900", "Bob", "https://example.com/bob", account.ID)
	require.NoError(t, err)

	comments := []model.Comment{
		{ExternalID: "c1", PostID: post.ID, AuthorProfileID: author.ID, Content: "nice", CreatedAt: time.Now().UTC()},
	}
	inserted, err := st.InsertComments(ctx, comments)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inserted, err = st.InsertComments(ctx, comments)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestGetOrCreateProfileStub(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")

	stub, err := st.GetOrCreateProfileStub(ctx, "100", "Bob", "https://example.com/100", account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", stub.Name)

	// A full upsert fills the profile; the stub call must not clobber it.
	_, err = st.UpsertProfile(ctx, model.UserProfile{
		ExternalID:         "100",
		Name:               "Bob Smith",
		Bio:                "engineer",
		ProfileURL:         "https://example.com/100",
		LastScraped:        time.Now().UTC(),
		ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	again, err := st.GetOrCreateProfileStub(ctx, "100", "Bob", "https://example.com/100", account.ID)
	require.NoError(t, err)
	assert.Equal(t, stub.ID, again.ID)
	assert.Equal(t, "Bob Smith", again.Name)
	assert.Equal(t, "engineer", again.Bio)
}

func TestUpsertProfileUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")

	first, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID:         "100",
		Name:               "Bob",
		Bio:                "old bio",
		ProfileURL:         "https://example.com/100",
		LastScraped:        time.Now().UTC().Add(-48 * time.Hour),
		ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	second, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID:         "100",
		Name:               "Bob",
		Bio:                "new bio",
		Work:               "Engineer at Initech",
		ProfileURL:         "https://example.com/100",
		LastScraped:        time.Now().UTC(),
		ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new bio", second.Bio)
	assert.Equal(t, "Engineer at Initech", second.Work)
	assert.True(t, second.LastScraped.After(first.LastScraped))
}

func TestListProfilesNeedingAnalysis(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")

	analyzed, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID: "1", Bio: "has analysis", ProfileURL: "u1",
		LastScraped: time.Now().UTC(), ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)
	pending, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID: "2", Bio: "waiting", ProfileURL: "u2",
		LastScraped: time.Now().UTC(), ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)
	// No bio, never eligible.
	_, err = st.UpsertProfile(ctx, model.UserProfile{
		ExternalID: "3", ProfileURL: "u3",
		LastScraped: time.Now().UTC(), ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	_, err = st.CreateAnalysis(ctx, model.FinancialAnalysis{
		ProfileID: analyzed.ID, Status: model.StatusLow, Confidence: 0.5,
		Summary: "done", Model: "m",
	})
	require.NoError(t, err)

	got, err := st.ListProfilesNeedingAnalysis(ctx, 7*24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}

func TestLatestAnalysisForProfile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	profile, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID: "1", Bio: "bio", ProfileURL: "u",
		LastScraped: time.Now().UTC(), ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	// nil, not an error, when no analysis exists yet.
	latest, err := st.LatestAnalysisForProfile(ctx, profile.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	older := model.FinancialAnalysis{
		ProfileID: profile.ID, Status: model.StatusLow, Confidence: 0.4,
		Summary: "older", Model: "m", CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := model.FinancialAnalysis{
		ProfileID: profile.ID, Status: model.StatusHigh, Confidence: 0.9,
		Summary: "newer", Model: "m",
		Indicators: model.Indicators{Job: []string{"cto"}},
	}
	_, err = st.CreateAnalyses(ctx, []model.FinancialAnalysis{older, newer})
	require.NoError(t, err)

	latest, err = st.LatestAnalysisForProfile(ctx, profile.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "newer", latest.Summary)
	assert.Equal(t, []string{"cto"}, latest.Indicators.Job)
}

func TestAnalysisStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	account := seedAccount(t, st, "alice")
	profile, err := st.UpsertProfile(ctx, model.UserProfile{
		ExternalID: "1", Bio: "bio", ProfileURL: "u",
		LastScraped: time.Now().UTC(), ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	_, err = st.CreateAnalyses(ctx, []model.FinancialAnalysis{
		{ProfileID: profile.ID, Status: model.StatusLow, Confidence: 0.2, Summary: "a", Model: "m"},
		{ProfileID: profile.ID, Status: model.StatusLow, Confidence: 0.4, Summary: "b", Model: "m"},
		{ProfileID: profile.ID, Status: model.StatusHigh, Confidence: 0.9, Summary: "c", Model: "m"},
	})
	require.NoError(t, err)

	stats, err := st.AnalysisStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total.Count)
	assert.InDelta(t, 0.5, stats.Total.AvgConfidence, 0.001)
	assert.Equal(t, int64(2), stats.ByStatus[model.StatusLow].Count)
	assert.InDelta(t, 0.3, stats.ByStatus[model.StatusLow].AvgConfidence, 0.001)
	assert.Equal(t, int64(1), stats.ByStatus[model.StatusHigh].Count)
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.SetSetting(ctx, "scrape.delay_secs", "10"))
	require.NoError(t, st.SetSetting(ctx, "scrape.delay_secs", "15"))
	require.NoError(t, st.SetSetting(ctx, "analysis.batch_size", "3"))

	settings, err := st.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"scrape.delay_secs":   "15",
		"analysis.batch_size": "3",
	}, settings)
}

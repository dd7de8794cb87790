package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/model"
	"github.com/finsight-io/finsight/internal/store"
)

type stubScraper struct {
	mu      sync.Mutex
	scraped []string
	bulkRun chan struct{}
}

func (s *stubScraper) LinkGroup(_ context.Context, accountID int64, externalID, name string, isJoined bool) (*model.Group, error) {
	return &model.Group{ID: 1, ExternalID: externalID, Name: name, IsJoined: isJoined, AccountID: accountID}, nil
}

func (s *stubScraper) JoinGroup(context.Context, int64, int64) (bool, error) { return true, nil }

func (s *stubScraper) ScanGroup(_ context.Context, gid string) ([]model.Post, error) {
	if gid == "missing" {
		return nil, apperr.NotFound("group", gid)
	}
	return []model.Post{{ExternalID: "777", Content: "post"}}, nil
}

func (s *stubScraper) ScanPost(context.Context, string) ([]model.Comment, error) {
	return []model.Comment{{ExternalID: "c1"}}, nil
}

func (s *stubScraper) ScrapeProfile(_ context.Context, url string, _ *model.Account, _ bool) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraped = append(s.scraped, url)
	return &model.UserProfile{ID: 1, ExternalID: "100001", Name: "Alice"}, nil
}

func (s *stubScraper) BatchScrapeProfiles(_ context.Context, urls []string, _ *model.Account, _ time.Duration) []model.UserProfile {
	s.mu.Lock()
	s.scraped = append(s.scraped, urls...)
	s.mu.Unlock()
	if s.bulkRun != nil {
		close(s.bulkRun)
	}
	return make([]model.UserProfile, len(urls))
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeProfile(_ context.Context, profileID int64, _ bool) (*model.FinancialAnalysis, error) {
	if profileID == 9999 {
		return nil, apperr.NotFound("profile", profileID)
	}
	return &model.FinancialAnalysis{ID: 1, ProfileID: profileID, Status: model.StatusMedium, Confidence: 0.6}, nil
}

func (stubAnalyzer) BatchAnalyzeProfiles(_ context.Context, ids []int64, _ bool) (*model.BatchResult, error) {
	return &model.BatchResult{Processed: len(ids)}, nil
}

type stubSessions struct{}

func (stubSessions) Login(context.Context, *model.Account) bool { return true }
func (stubSessions) DeriveAccessToken(context.Context, *model.Account) (string, error) {
	return "EAAGtok", nil
}

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *stubScraper) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	scraper := &stubScraper{}
	cfg := &config.Config{
		Server:   config.ServerConfig{Port: 0, AllowedOrigins: []string{"*"}},
		Scrape:   config.ScrapeConfig{DelaySecs: 5, StalenessHours: 24},
		Analysis: config.AnalysisConfig{RecencyDays: 7},
	}
	return New(st, scraper, stubAnalyzer{}, stubSessions{}, cfg), st, scraper
}

func seedAccount(t *testing.T, st *store.SQLiteStore, blocked bool) *model.Account {
	t.Helper()
	account, err := st.CreateAccount(context.Background(), model.Account{
		Username: fmt.Sprintf("user%v", blocked),
		Email:    fmt.Sprintf("u%v@example.com", blocked),
		Password: "pw",
	})
	require.NoError(t, err)
	if blocked {
		require.NoError(t, st.SetAccountBlocked(context.Background(), account.ID, true))
	}
	return account
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}

func TestAddAndGetAccount(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/account/add", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Success bool          `json:"success"`
		Account model.Account `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.NotEmpty(t, created.Account.UserAgent)
	// The password never appears in a response body.
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/account/id/%d", created.Account.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/account/id/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestAddAccountValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/account/add", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeProfileStatusMapping(t *testing.T) {
	s, st, _ := newTestServer(t)
	account := seedAccount(t, st, false)
	blocked := seedAccount(t, st, true)

	rec := doJSON(t, s, http.MethodPost, "/analysis/scrape-profile", map[string]any{
		"profile_url": "https://www.facebook.com/profile.php?id=1",
		"account_id":  account.ID,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Profile scraped successfully")

	// Unknown account.
	rec = doJSON(t, s, http.MethodPost, "/analysis/scrape-profile", map[string]any{
		"profile_url": "https://www.facebook.com/profile.php?id=1",
		"account_id":  9999,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Blocked account.
	rec = doJSON(t, s, http.MethodPost, "/analysis/scrape-profile", map[string]any{
		"profile_url": "https://www.facebook.com/profile.php?id=1",
		"account_id":  blocked.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "blocked")
}

func TestBulkScrapeRunsInBackground(t *testing.T) {
	s, st, scraper := newTestServer(t)
	account := seedAccount(t, st, false)
	scraper.bulkRun = make(chan struct{})

	rec := doJSON(t, s, http.MethodPost, "/analysis/scrape-profiles/bulk", map[string]any{
		"profile_urls": []string{"https://www.facebook.com/a", "https://www.facebook.com/b"},
		"account_id":   account.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool    `json:"success"`
		JobID   string  `json:"job_id"`
		ETA     float64 `json:"estimated_completion_minutes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.JobID)
	assert.InDelta(t, 2*5.0/60, resp.ETA, 0.001)

	select {
	case <-scraper.bulkRun:
	case <-time.After(2 * time.Second):
		t.Fatal("background scrape never ran")
	}
}

func TestBulkScrapeValidatesURLCount(t *testing.T) {
	s, st, _ := newTestServer(t)
	account := seedAccount(t, st, false)

	rec := doJSON(t, s, http.MethodPost, "/analysis/scrape-profiles/bulk", map[string]any{
		"profile_urls": []string{},
		"account_id":   account.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeProfileStatusMapping(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/analysis/analyze-profile", map[string]any{"profile_id": 1})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/analysis/analyze-profile", map[string]any{"profile_id": 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchAnalyze(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/analysis/analyze-profiles/batch", map[string]any{
		"profile_ids": []int64{1, 2, 3},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Processed)

	rec = doJSON(t, s, http.MethodPost, "/analysis/analyze-profiles/batch", map[string]any{
		"profile_ids": []int64{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanGroupEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/group/scan/123456", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "777")

	rec = doJSON(t, s, http.MethodPost, "/group/scan/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenTokenEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t)
	account := seedAccount(t, st, false)

	rec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/account/gen_at/%d", account.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EAAGtok")
	assert.Contains(t, rec.Body.String(), "success")
}

func TestSettingsRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/config/graph.post_fetch_limit", map[string]string{"value": "35"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/config/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph.post_fetch_limit")

	rec = doJSON(t, s, http.MethodPost, "/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Reloaded 1")
}

func TestProfileListingEndpoints(t *testing.T) {
	s, st, _ := newTestServer(t)
	account := seedAccount(t, st, false)
	profile, err := st.UpsertProfile(context.Background(), model.UserProfile{
		ExternalID:         "100001",
		Name:               "Alice",
		Bio:                "engineer",
		ProfileURL:         "https://www.facebook.com/profile.php?id=100001",
		LastScraped:        time.Now().UTC(),
		ScrapedByAccountID: account.ID,
	})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/analysis/profiles", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "100001")

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/analysis/profiles/%d", profile.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/analysis/profiles/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/analysis/profiles/%d/analyses", profile.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/analysis/profiles/needing-analysis", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "100001")
}

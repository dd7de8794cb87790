// Package server exposes the scraping and analysis operations over
// HTTP. Long-running bulk jobs are accepted, handed to a background
// goroutine, and answered immediately with an estimate; their outcomes
// land in the logs, not in the response.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/model"
	"github.com/finsight-io/finsight/internal/store"
)

const accountPageSize = 20

// Scraper is the orchestrator surface the server exposes.
type Scraper interface {
	LinkGroup(ctx context.Context, accountID int64, externalID, name string, isJoined bool) (*model.Group, error)
	JoinGroup(ctx context.Context, accountID, groupID int64) (bool, error)
	ScanGroup(ctx context.Context, groupExternalID string) ([]model.Post, error)
	ScanPost(ctx context.Context, postExternalID string) ([]model.Comment, error)
	ScrapeProfile(ctx context.Context, profileURL string, account *model.Account, forceRefresh bool) (*model.UserProfile, error)
	BatchScrapeProfiles(ctx context.Context, profileURLs []string, account *model.Account, delay time.Duration) []model.UserProfile
}

// Analyzer is the pipeline surface the server exposes.
type Analyzer interface {
	AnalyzeProfile(ctx context.Context, profileID int64, force bool) (*model.FinancialAnalysis, error)
	BatchAnalyzeProfiles(ctx context.Context, profileIDs []int64, force bool) (*model.BatchResult, error)
}

// SessionOps is the session-manager surface the server exposes.
type SessionOps interface {
	Login(ctx context.Context, account *model.Account) bool
	DeriveAccessToken(ctx context.Context, account *model.Account) (string, error)
}

// Server is the HTTP API.
type Server struct {
	store    store.Store
	scraper  Scraper
	analyzer Analyzer
	sessions SessionOps
	cfg      *config.Config
	router   chi.Router
}

// New builds the server and mounts all routes.
func New(st store.Store, scraper Scraper, analyzer Analyzer, sessions SessionOps, cfg *config.Config) *Server {
	s := &Server{
		store:    st,
		scraper:  scraper,
		analyzer: analyzer,
		sessions: sessions,
		cfg:      cfg,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/account", func(r chi.Router) {
		r.Get("/page/{page}", s.handleListAccounts)
		r.Get("/id/{id}", s.handleGetAccount)
		r.Post("/add", s.handleAddAccount)
		r.Post("/login/{id}", s.handleLogin)
		r.Post("/gen_at/{id}", s.handleGenToken)
		r.Post("/group/link", s.handleLinkGroup)
		r.Post("/group/join", s.handleJoinGroup)
	})

	r.Post("/group/scan/{gid}", s.handleScanGroup)
	r.Post("/post/scan/{pid}", s.handleScanPost)

	r.Route("/analysis", func(r chi.Router) {
		r.Post("/scrape-profile", s.handleScrapeProfile)
		r.Post("/scrape-profiles/bulk", s.handleBulkScrape)
		r.Post("/analyze-profile", s.handleAnalyzeProfile)
		r.Post("/analyze-profiles/batch", s.handleBatchAnalyze)
		r.Get("/profiles", s.handleListProfiles)
		r.Get("/profiles/needing-analysis", s.handleProfilesNeedingAnalysis)
		r.Get("/profiles/{id}", s.handleGetProfile)
		r.Get("/profiles/{id}/analyses", s.handleProfileAnalyses)
		r.Get("/analyses/recent", s.handleRecentAnalyses)
		r.Get("/analyses/stats", s.handleAnalysisStats)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleListSettings)
		r.Put("/{key}", s.handleSetSetting)
		r.Post("/reload", s.handleReloadConfig)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// --- helpers ---

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, apperr.HTTPStatus(err), map[string]string{"detail": apperr.Detail(err)})
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation(name, "%q is not an integer", raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperr.Validation("body", "invalid JSON: %v", err)
	}
	return nil
}

func (s *Server) accountForRequest(ctx context.Context, accountID int64) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Usable() {
		return nil, apperr.Precondition("account %d is blocked", account.ID)
	}
	return account, nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	page, err := pathInt64(r, "page")
	if err != nil {
		respondError(w, err)
		return
	}
	if page < 1 {
		page = 1
	}
	accounts, err := s.store.ListAccounts(r.Context(), accountPageSize, int(page-1)*accountPageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

type addAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	ProxyURL string `json:"proxy_url,omitempty"`
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(w, apperr.Validation("account", "username, email and password are required"))
		return
	}

	account, err := s.store.CreateAccount(r.Context(), model.Account{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		ProxyURL: req.ProxyURL,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Account created",
		"account": account,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	ok := s.sessions.Login(r.Context(), account)
	status := "failed"
	if ok {
		status = "success"
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleGenToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	token, err := s.sessions.DeriveAccessToken(r.Context(), account)
	if err != nil {
		respondError(w, err)
		return
	}
	status := "failed"
	if token != "" {
		status = "success"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"access_token": token,
	})
}

type linkGroupRequest struct {
	AccountID int64  `json:"account_id"`
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
	IsJoined  bool   `json:"is_joined"`
}

func (s *Server) handleLinkGroup(w http.ResponseWriter, r *http.Request) {
	var req linkGroupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.GroupID == "" || req.GroupName == "" {
		respondError(w, apperr.Validation("group", "group_id and group_name are required"))
		return
	}

	group, err := s.scraper.LinkGroup(r.Context(), req.AccountID, req.GroupID, req.GroupName, req.IsJoined)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Group linked",
		"details": group,
	})
}

type joinGroupRequest struct {
	AccountID int64 `json:"account_id"`
	GroupID   int64 `json:"group_id"`
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinGroupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	joined, err := s.scraper.JoinGroup(r.Context(), req.AccountID, req.GroupID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": joined})
}

func (s *Server) handleScanGroup(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	posts, err := s.scraper.ScanGroup(r.Context(), gid)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Scanned group %s", gid),
		"posts":   posts,
	})
}

func (s *Server) handleScanPost(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	comments, err := s.scraper.ScanPost(r.Context(), pid)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Scanned post %s", pid),
		"comments": comments,
	})
}

type scrapeProfileRequest struct {
	ProfileURL   string `json:"profile_url"`
	AccountID    int64  `json:"account_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (s *Server) handleScrapeProfile(w http.ResponseWriter, r *http.Request) {
	var req scrapeProfileRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	account, err := s.accountForRequest(r.Context(), req.AccountID)
	if err != nil {
		respondError(w, err)
		return
	}

	profile, err := s.scraper.ScrapeProfile(r.Context(), req.ProfileURL, account, req.ForceRefresh)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Profile scraped successfully",
		"profile": profile,
	})
}

type bulkScrapeRequest struct {
	ProfileURLs  []string `json:"profile_urls"`
	AccountID    int64    `json:"account_id"`
	DelaySeconds int      `json:"delay_seconds"`
}

func (s *Server) handleBulkScrape(w http.ResponseWriter, r *http.Request) {
	var req bulkScrapeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.ProfileURLs) == 0 || len(req.ProfileURLs) > 20 {
		respondError(w, apperr.Validation("profile_urls", "between 1 and 20 URLs required"))
		return
	}
	if req.DelaySeconds <= 0 {
		req.DelaySeconds = s.cfg.Scrape.DelaySecs
	}

	account, err := s.accountForRequest(r.Context(), req.AccountID)
	if err != nil {
		respondError(w, err)
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	urls := req.ProfileURLs
	jobID := uuid.NewString()
	go func() {
		results := s.scraper.BatchScrapeProfiles(context.Background(), urls, account, delay)
		zap.L().Info("server: bulk scrape finished",
			zap.String("job_id", jobID),
			zap.Int("requested", len(urls)),
			zap.Int("scraped", len(results)),
		)
	}()

	respondJSON(w, http.StatusOK, map[string]any{
		"success":                      true,
		"job_id":                       jobID,
		"message":                      fmt.Sprintf("Started bulk scraping of %d profiles", len(urls)),
		"estimated_completion_minutes": float64(len(urls)*req.DelaySeconds) / 60,
	})
}

type analyzeProfileRequest struct {
	ProfileID       int64 `json:"profile_id"`
	ForceReanalysis bool  `json:"force_reanalysis"`
}

func (s *Server) handleAnalyzeProfile(w http.ResponseWriter, r *http.Request) {
	var req analyzeProfileRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	analysis, err := s.analyzer.AnalyzeProfile(r.Context(), req.ProfileID, req.ForceReanalysis)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Profile analyzed successfully",
		"analysis": analysis,
	})
}

type batchAnalyzeRequest struct {
	ProfileIDs      []int64 `json:"profile_ids"`
	ForceReanalysis bool    `json:"force_reanalysis"`
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req batchAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.ProfileIDs) == 0 {
		respondError(w, apperr.Validation("profile_ids", "at least one profile id required"))
		return
	}

	result, err := s.analyzer.BatchAnalyzeProfiles(r.Context(), req.ProfileIDs, req.ForceReanalysis)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)
	var accountID int64
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, apperr.Validation("account_id", "%q is not an integer", raw))
			return
		}
		accountID = id
	}

	profiles, err := s.store.ListRecentProfiles(r.Context(), store.ProfileFilter{
		AccountID: accountID,
		Limit:     limit,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	profile, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleProfileAnalyses(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.store.GetProfile(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	analyses, err := s.store.ListAnalysesForProfile(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleRecentAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)
	analyses, err := s.store.ListRecentAnalyses(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleAnalysisStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.AnalysisStats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

func (s *Server) handleProfilesNeedingAnalysis(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10, 1, 50)
	profiles, err := s.store.ListProfilesNeedingAnalysis(r.Context(), s.cfg.Analysis.Recency(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

type setSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req setSettingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.store.SetSetting(r.Context(), key, req.Value); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Setting %s updated", key),
	})
}

// handleReloadConfig re-applies the stored setting overrides onto the
// running configuration.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.cfg.ApplyOverrides(settings); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Reloaded %d setting overrides", len(settings)),
	})
}

func queryInt(r *http.Request, name string, def, lo, hi int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < lo || val > hi {
		return def
	}
	return val
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL UNIQUE,
	email        TEXT NOT NULL UNIQUE,
	password     TEXT NOT NULL,
	is_blocked   INTEGER NOT NULL DEFAULT 0,
	ua           TEXT NOT NULL,
	cookies      TEXT,
	access_token TEXT,
	proxy_url    TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS groups (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	is_joined   INTEGER NOT NULL DEFAULT 0,
	account_id  INTEGER NOT NULL REFERENCES accounts(id),
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(external_id, name)
);

CREATE TABLE IF NOT EXISTS posts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL UNIQUE,
	group_id    INTEGER NOT NULL REFERENCES groups(id),
	content     TEXT NOT NULL DEFAULT '',
	is_analyzed INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id       TEXT NOT NULL UNIQUE,
	post_id           INTEGER NOT NULL REFERENCES posts(id),
	author_profile_id INTEGER NOT NULL REFERENCES profiles(id),
	content           TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id         TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL DEFAULT '',
	bio                 TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	work                TEXT NOT NULL DEFAULT '',
	education           TEXT NOT NULL DEFAULT '',
	relationship_status TEXT NOT NULL DEFAULT '',
	profile_url         TEXT NOT NULL,
	picture_url         TEXT NOT NULL DEFAULT '',
	posts_sample        TEXT NOT NULL DEFAULT '',
	is_verified         INTEGER NOT NULL DEFAULT 0,
	last_scraped        DATETIME NOT NULL,
	account_id          INTEGER NOT NULL REFERENCES accounts(id),
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id        INTEGER NOT NULL REFERENCES profiles(id),
	status            TEXT NOT NULL,
	confidence        REAL NOT NULL,
	summary           TEXT NOT NULL DEFAULT '',
	indicators        TEXT NOT NULL DEFAULT '{}',
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_groups_account ON groups(account_id);
CREATE INDEX IF NOT EXISTS idx_posts_group ON posts(group_id);
CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id);
CREATE INDEX IF NOT EXISTS idx_profiles_last_scraped ON profiles(last_scraped);
CREATE INDEX IF NOT EXISTS idx_analyses_profile ON analyses(profile_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, account model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	if account.UserAgent == "" {
		account.UserAgent = model.GenerateUserAgent()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, email, password, is_blocked, ua, proxy_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.Username, account.Email, account.Password, account.IsBlocked,
		account.UserAgent, account.ProxyURL, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert account")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: account id")
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return &account, nil
}

const accountColumns = `id, username, email, password, is_blocked, ua, cookies, access_token, proxy_url, created_at, updated_at`

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("account", id)
	}
	return account, err
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

// GetUsableAccount returns an unblocked account that already carries a
// token and cookies, or a NotFoundError when none qualifies.
func (s *SQLiteStore) GetUsableAccount(ctx context.Context) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE is_blocked = 0 AND access_token IS NOT NULL AND access_token != ''
		   AND cookies IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("usable account", "none")
	}
	return account, err
}

// ReplaceAccountCookies overwrites the stored cookie set. Always a full
// replace, never a merge, so an interrupted harvest cannot leave a mixed
// state.
func (s *SQLiteStore) ReplaceAccountCookies(ctx context.Context, accountID int64, cookies []model.Cookie) error {
	raw, err := model.MarshalCookies(cookies)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET cookies = ?, updated_at = ? WHERE id = ?`,
		raw, time.Now().UTC(), accountID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: replace cookies for account %d", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

func (s *SQLiteStore) SetAccountToken(ctx context.Context, accountID int64, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET access_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), accountID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set token for account %d", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

func (s *SQLiteStore) SetAccountBlocked(ctx context.Context, accountID int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_blocked = ?, updated_at = ? WHERE id = ?`,
		blocked, time.Now().UTC(), accountID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set blocked for account %d", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

// --- groups ---

// UpsertGroup links a group keyed by (external_id, name). An existing
// row is reassigned to the requesting account; the operation is a single
// statement, so there is no partial write to roll back.
func (s *SQLiteStore) UpsertGroup(ctx context.Context, accountID int64, externalID, name string, isJoined bool) (*model.Group, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (external_id, name, is_joined, account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id, name) DO UPDATE SET
		   account_id = excluded.account_id,
		   updated_at = excluded.updated_at`,
		externalID, name, isJoined, accountID, now, now)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert group")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, is_joined, account_id, created_at, updated_at
		 FROM groups WHERE external_id = ? AND name = ?`,
		externalID, name)

	var g model.Group
	if err := row.Scan(&g.ID, &g.ExternalID, &g.Name, &g.IsJoined, &g.AccountID, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan upserted group")
	}
	return &g, nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, is_joined, account_id, created_at, updated_at
		 FROM groups WHERE id = ?`, id)

	var g model.Group
	err := row.Scan(&g.ID, &g.ExternalID, &g.Name, &g.IsJoined, &g.AccountID, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("group", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get group")
	}
	return &g, nil
}

// GetGroupByExternalID resolves a group with its owning account
// preloaded.
func (s *SQLiteStore) GetGroupByExternalID(ctx context.Context, externalID string) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT g.id, g.external_id, g.name, g.is_joined, g.account_id, g.created_at, g.updated_at,
		        `+prefixedAccountColumns("a")+`
		 FROM groups g JOIN accounts a ON a.id = g.account_id
		 WHERE g.external_id = ?`,
		externalID)

	var g model.Group
	account, err := scanAccountAfter(row, &g.ID, &g.ExternalID, &g.Name, &g.IsJoined, &g.AccountID, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("group", externalID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get group")
	}
	g.Account = account
	return &g, nil
}

func (s *SQLiteStore) SetGroupJoined(ctx context.Context, groupID int64, joined bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET is_joined = ?, updated_at = ? WHERE id = ?`,
		joined, time.Now().UTC(), groupID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set joined for group %d", groupID)
	}
	return checkRowsAffected(res, "group", groupID)
}

// --- posts ---

// InsertPosts inserts a post batch, skipping rows whose external id is
// already present. Returns the number of newly inserted rows.
func (s *SQLiteStore) InsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	inserted := 0
	for _, p := range posts {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO posts (external_id, group_id, content, is_analyzed, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(external_id) DO NOTHING`,
			p.ExternalID, p.GroupID, p.Content, p.IsAnalyzed, p.CreatedAt.UTC())
		if err != nil {
			return inserted, eris.Wrapf(err, "sqlite: insert post %s", p.ExternalID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	return inserted, nil
}

// GetPostByExternalID resolves a post with its group and the group's
// owning account preloaded.
func (s *SQLiteStore) GetPostByExternalID(ctx context.Context, externalID string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.external_id, p.group_id, p.content, p.is_analyzed, p.created_at,
		        g.id, g.external_id, g.name, g.is_joined, g.account_id, g.created_at, g.updated_at,
		        `+prefixedAccountColumns("a")+`
		 FROM posts p
		 JOIN groups g ON g.id = p.group_id
		 JOIN accounts a ON a.id = g.account_id
		 WHERE p.external_id = ?`,
		externalID)

	var p model.Post
	var g model.Group
	account, err := scanAccountAfter(row,
		&p.ID, &p.ExternalID, &p.GroupID, &p.Content, &p.IsAnalyzed, &p.CreatedAt,
		&g.ID, &g.ExternalID, &g.Name, &g.IsJoined, &g.AccountID, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("post", externalID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get post")
	}
	g.Account = account
	p.Group = &g
	return &p, nil
}

func (s *SQLiteStore) MarkPostAnalyzed(ctx context.Context, postID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_analyzed = 1 WHERE id = ?`, postID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark post %d analyzed", postID)
	}
	return checkRowsAffected(res, "post", postID)
}

// --- comments ---

func (s *SQLiteStore) InsertComments(ctx context.Context, comments []model.Comment) (int, error) {
	inserted := 0
	for _, c := range comments {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO comments (external_id, post_id, author_profile_id, content, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(external_id) DO NOTHING`,
			c.ExternalID, c.PostID, c.AuthorProfileID, c.Content, c.CreatedAt.UTC())
		if err != nil {
			return inserted, eris.Wrapf(err, "sqlite: insert comment %s", c.ExternalID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	return inserted, nil
}

// --- profiles ---

const profileColumns = `id, external_id, name, bio, location, work, education, relationship_status,
	profile_url, picture_url, posts_sample, is_verified, last_scraped, account_id, created_at, updated_at`

// UpsertProfile writes a scraped profile keyed by external id. A
// re-scrape updates the biographic fields and LastScraped in place.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile model.UserProfile) (*model.UserProfile, error) {
	now := time.Now().UTC()
	if profile.LastScraped.IsZero() {
		profile.LastScraped = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (external_id, name, bio, location, work, education, relationship_status,
		   profile_url, picture_url, posts_sample, is_verified, last_scraped, account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
		   name = excluded.name,
		   bio = excluded.bio,
		   location = excluded.location,
		   work = excluded.work,
		   education = excluded.education,
		   relationship_status = excluded.relationship_status,
		   profile_url = excluded.profile_url,
		   picture_url = excluded.picture_url,
		   posts_sample = excluded.posts_sample,
		   is_verified = excluded.is_verified,
		   last_scraped = excluded.last_scraped,
		   account_id = excluded.account_id,
		   updated_at = excluded.updated_at`,
		profile.ExternalID, profile.Name, profile.Bio, profile.Location, profile.Work,
		profile.Education, profile.RelationshipStatus, profile.ProfileURL, profile.PictureURL,
		profile.PostsSample, profile.IsVerified, profile.LastScraped.UTC(),
		profile.ScrapedByAccountID, now, now)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert profile")
	}

	return s.GetProfileByExternalID(ctx, profile.ExternalID)
}

func (s *SQLiteStore) GetProfileByExternalID(ctx context.Context, externalID string) (*model.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE external_id = ?`, externalID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("profile", externalID)
	}
	return p, err
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id int64) (*model.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("profile", id)
	}
	return p, err
}

func (s *SQLiteStore) GetProfilesByIDs(ctx context.Context, ids []int64) ([]model.UserProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profiles by ids")
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// GetOrCreateProfileStub materializes a minimal profile row for a
// comment author seen via the graph API. An existing row is returned
// untouched; scraping fills the rest later.
func (s *SQLiteStore) GetOrCreateProfileStub(ctx context.Context, externalID, name, profileURL string, accountID int64) (*model.UserProfile, error) {
	existing, err := s.GetProfileByExternalID(ctx, externalID)
	if err == nil {
		return existing, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (external_id, name, profile_url, last_scraped, account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		externalID, name, profileURL, time.Time{}.UTC(), accountID, now, now)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create profile stub")
	}
	return s.GetProfileByExternalID(ctx, externalID)
}

func (s *SQLiteStore) ListRecentProfiles(ctx context.Context, filter ProfileFilter) ([]model.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE 1=1`
	var args []any

	if filter.AccountID != 0 {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	query += ` ORDER BY last_scraped DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// ListProfilesNeedingAnalysis returns profiles with some biographic
// content whose latest analysis is absent or older than the recency
// window.
func (s *SQLiteStore) ListProfilesNeedingAnalysis(ctx context.Context, recency time.Duration, limit int) ([]model.UserProfile, error) {
	if limit <= 0 {
		limit = 10
	}
	cutoff := time.Now().UTC().Add(-recency)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p
		 WHERE p.bio != ''
		   AND NOT EXISTS (
		     SELECT 1 FROM analyses fa
		     WHERE fa.profile_id = p.id AND fa.created_at > ?
		   )
		 ORDER BY p.last_scraped DESC LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles needing analysis")
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// --- analyses ---

const analysisColumns = `id, profile_id, status, confidence, summary, indicators, model,
	prompt_tokens, completion_tokens, total_tokens, created_at`

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, analysis model.FinancialAnalysis) (*model.FinancialAnalysis, error) {
	created, err := s.CreateAnalyses(ctx, []model.FinancialAnalysis{analysis})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateAnalyses bulk-inserts analysis rows inside one transaction.
func (s *SQLiteStore) CreateAnalyses(ctx context.Context, analyses []model.FinancialAnalysis) ([]model.FinancialAnalysis, error) {
	if len(analyses) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	created := make([]model.FinancialAnalysis, 0, len(analyses))
	for _, a := range analyses {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		indicators, err := a.IndicatorsJSON()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal indicators")
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO analyses (profile_id, status, confidence, summary, indicators, model,
			   prompt_tokens, completion_tokens, total_tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ProfileID, string(a.Status), a.Confidence, a.Summary, indicators, a.Model,
			a.PromptTokens, a.OutputTokens, a.TotalTokens, a.CreatedAt.UTC())
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert analysis for profile %d", a.ProfileID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: analysis id")
		}
		a.ID = id
		created = append(created, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit analyses")
	}
	return created, nil
}

func (s *SQLiteStore) LatestAnalysisForProfile(ctx context.Context, profileID int64) (*model.FinancialAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE profile_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		profileID)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) ListAnalysesForProfile(ctx context.Context, profileID int64) ([]model.FinancialAnalysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE profile_id = ? ORDER BY created_at DESC, id DESC`,
		profileID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func (s *SQLiteStore) ListRecentAnalyses(ctx context.Context, limit int) ([]model.FinancialAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent analyses")
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func (s *SQLiteStore) AnalysisStats(ctx context.Context) (*model.AnalysisStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(id), AVG(confidence) FROM analyses GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: analysis stats")
	}
	defer rows.Close()

	stats := &model.AnalysisStats{ByStatus: make(map[model.FinancialStatus]model.StatusStats)}
	var totalCount int64
	var weightedConfidence float64

	for rows.Next() {
		var status string
		var count int64
		var avg sql.NullFloat64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		stats.ByStatus[model.FinancialStatus(status)] = model.StatusStats{
			Count:         count,
			AvgConfidence: avg.Float64,
		}
		totalCount += count
		weightedConfidence += float64(count) * avg.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}

	stats.Total = model.StatusStats{Count: totalCount}
	if totalCount > 0 {
		stats.Total.AvgConfidence = weightedConfidence / float64(totalCount)
	}
	return stats, nil
}

// --- settings ---

func (s *SQLiteStore) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list settings")
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan setting")
		}
		settings[k] = v
	}
	return settings, eris.Wrap(rows.Err(), "sqlite: settings iterate")
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func prefixedAccountColumns(alias string) string {
	cols := strings.Split(accountColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func scanAccount(row scannable) (*model.Account, error) {
	a, err := scanAccountAfter(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan account")
	}
	return a, nil
}

// scanAccountAfter scans leading destination fields followed by a full
// account column set. Used by the joined group/post lookups.
func scanAccountAfter(row scannable, leading ...any) (*model.Account, error) {
	var a model.Account
	var cookies, token, proxy sql.NullString

	dest := append(leading,
		&a.ID, &a.Username, &a.Email, &a.Password, &a.IsBlocked, &a.UserAgent,
		&cookies, &token, &proxy, &a.CreatedAt, &a.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if cookies.Valid {
		parsed, err := model.UnmarshalCookies(cookies.String)
		if err != nil {
			return nil, err
		}
		a.Cookies = parsed
	}
	a.AccessToken = token.String
	a.ProxyURL = proxy.String
	return &a, nil
}

func scanProfile(row scannable) (*model.UserProfile, error) {
	var p model.UserProfile
	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Bio, &p.Location, &p.Work,
		&p.Education, &p.RelationshipStatus, &p.ProfileURL, &p.PictureURL,
		&p.PostsSample, &p.IsVerified, &p.LastScraped, &p.ScrapedByAccountID,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan profile")
	}
	return &p, nil
}

func collectProfiles(rows *sql.Rows) ([]model.UserProfile, error) {
	var profiles []model.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: profiles iterate")
}

func scanAnalysis(row scannable) (*model.FinancialAnalysis, error) {
	var a model.FinancialAnalysis
	var status, indicators string
	err := row.Scan(&a.ID, &a.ProfileID, &status, &a.Confidence, &a.Summary,
		&indicators, &a.Model, &a.PromptTokens, &a.OutputTokens, &a.TotalTokens,
		&a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan analysis")
	}
	a.Status = model.FinancialStatus(status)
	if err := json.Unmarshal([]byte(indicators), &a.Indicators); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal indicators")
	}
	return &a, nil
}

func collectAnalyses(rows *sql.Rows) ([]model.FinancialAnalysis, error) {
	var analyses []model.FinancialAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *a)
	}
	return analyses, eris.Wrap(rows.Err(), "sqlite: analyses iterate")
}

// Package scrape coordinates the harvesting flows: linking and joining
// groups, scanning feeds and comments through the graph API, and
// browser-scraping individual profiles.
package scrape

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/browser"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/confirm"
	"github.com/finsight-io/finsight/internal/graph"
	"github.com/finsight-io/finsight/internal/model"
	"github.com/finsight-io/finsight/internal/store"
)

// Sessions is the session-manager surface the orchestrator drives.
type Sessions interface {
	Acquire(ctx context.Context, account *model.Account) (browser.Session, error)
	DeriveAccessToken(ctx context.Context, account *model.Account) (string, error)
}

// GraphAPI is the graph-client surface the orchestrator calls.
type GraphAPI interface {
	Feed(ctx context.Context, groupExternalID, accessToken string) ([]graph.FeedItem, error)
	Comments(ctx context.Context, postExternalID, accessToken string) ([]graph.CommentItem, error)
	PasswordToken(ctx context.Context, email, password string) (string, error)
}

// Orchestrator wires the store, session manager, graph client and
// operator-confirmation port into the scraping operations.
type Orchestrator struct {
	store     store.Store
	sessions  Sessions
	graph     GraphAPI
	confirmer confirm.Confirmer
	network   config.NetworkConfig
	cfg       config.ScrapeConfig

	// sleep is context-aware and overridden in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewOrchestrator builds the scraping orchestrator.
func NewOrchestrator(st store.Store, sessions Sessions, graphAPI GraphAPI, confirmer confirm.Confirmer, network config.NetworkConfig, cfg config.ScrapeConfig) *Orchestrator {
	return &Orchestrator{
		store:     st,
		sessions:  sessions,
		graph:     graphAPI,
		confirmer: confirmer,
		network:   network,
		cfg:       cfg,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// LinkGroup attaches a group to an owning account, creating the group
// row on first link. Re-linking an existing group reassigns its owner.
func (o *Orchestrator) LinkGroup(ctx context.Context, accountID int64, externalID, name string, isJoined bool) (*model.Group, error) {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	group, err := o.store.UpsertGroup(ctx, account.ID, externalID, name, isJoined)
	if err != nil {
		return nil, err
	}

	zap.L().Info("scrape: linked group",
		zap.String("group", group.ExternalID),
		zap.String("name", group.Name),
		zap.Int64("account_id", account.ID),
	)
	return group, nil
}

// JoinGroup opens the group page under the account's session and waits
// for the operator to complete the join by hand, then asks for
// confirmation. The group's joined flag is only set on a confirmed yes.
func (o *Orchestrator) JoinGroup(ctx context.Context, accountID, groupID int64) (bool, error) {
	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !account.Usable() {
		return false, apperr.Precondition("account %d is blocked", account.ID)
	}
	group, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}

	sess, err := o.sessions.Acquire(ctx, account)
	if err != nil {
		return false, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, o.network.GroupURL+group.ExternalID); err != nil {
		return false, apperr.Upstream("join group", err)
	}

	// Wait for the operator to finish and close the window.
	for {
		tabs, err := sess.Tabs(ctx)
		if err != nil || len(tabs) == 0 {
			break
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		o.sleep(ctx, time.Second)
	}

	joined, err := o.confirmer.Ask(ctx, "Status Confirmation", "Did you join the group successfully?")
	if err != nil {
		return false, err
	}
	if joined {
		if err := o.store.SetGroupJoined(ctx, group.ID, true); err != nil {
			return false, err
		}
	}

	zap.L().Info("scrape: join group finished",
		zap.String("group", group.ExternalID),
		zap.Bool("joined", joined),
	)
	return joined, nil
}

// ScanGroup fetches the group's feed through the graph API and stores
// the posts. Post external ids keep only the trailing segment of the
// composite feed id, matching how the comments endpoint addresses them.
// Already-known posts are skipped; the full fetched set is returned.
func (o *Orchestrator) ScanGroup(ctx context.Context, groupExternalID string) ([]model.Post, error) {
	group, err := o.store.GetGroupByExternalID(ctx, groupExternalID)
	if err != nil {
		return nil, err
	}

	token, err := o.ensureToken(ctx, group.Account)
	if err != nil {
		return nil, err
	}

	items, err := o.graph.Feed(ctx, group.ExternalID, token)
	if err != nil {
		return nil, err
	}

	posts := make([]model.Post, 0, len(items))
	for _, item := range items {
		posts = append(posts, model.Post{
			ExternalID: trailingSegment(item.ID),
			GroupID:    group.ID,
			Content:    item.Message,
			CreatedAt:  item.CreatedTime,
		})
	}

	inserted, err := o.store.InsertPosts(ctx, posts)
	if err != nil {
		return nil, err
	}

	zap.L().Info("scrape: scanned group",
		zap.String("group", group.ExternalID),
		zap.Int("fetched", len(posts)),
		zap.Int("inserted", inserted),
	)
	return posts, nil
}

// ScanPost fetches the comments under a post, creating a stub profile
// for every previously unseen author, and marks the post analyzed.
func (o *Orchestrator) ScanPost(ctx context.Context, postExternalID string) ([]model.Comment, error) {
	post, err := o.store.GetPostByExternalID(ctx, postExternalID)
	if err != nil {
		return nil, err
	}

	token, err := o.ensureToken(ctx, post.Group.Account)
	if err != nil {
		return nil, err
	}

	items, err := o.graph.Comments(ctx, post.ExternalID, token)
	if err != nil {
		return nil, err
	}

	comments := make([]model.Comment, 0, len(items))
	for _, item := range items {
		author, err := o.store.GetOrCreateProfileStub(ctx,
			item.AuthorID, item.AuthorName, o.profileURL(item.AuthorID), post.Group.AccountID)
		if err != nil {
			return nil, err
		}
		comments = append(comments, model.Comment{
			ExternalID:      item.ID,
			PostID:          post.ID,
			AuthorProfileID: author.ID,
			Content:         item.Message,
			CreatedAt:       item.CreatedTime,
		})
	}

	inserted, err := o.store.InsertComments(ctx, comments)
	if err != nil {
		return nil, err
	}
	if err := o.store.MarkPostAnalyzed(ctx, post.ID); err != nil {
		return nil, err
	}

	zap.L().Info("scrape: scanned post",
		zap.String("post", post.ExternalID),
		zap.Int("fetched", len(comments)),
		zap.Int("inserted", inserted),
	)
	return comments, nil
}

// ScrapeProfile loads a profile page in an authenticated session and
// extracts its biographic fields. A profile scraped within the
// staleness window is returned from the store without a browser launch
// unless forceRefresh is set.
func (o *Orchestrator) ScrapeProfile(ctx context.Context, profileURL string, account *model.Account, forceRefresh bool) (*model.UserProfile, error) {
	externalID := ExtractProfileID(profileURL, hostOf(o.network.BaseURL))
	if externalID == "" {
		return nil, apperr.Validation("profile_url", "no profile id in %q", profileURL)
	}

	if !forceRefresh {
		existing, err := o.store.GetProfileByExternalID(ctx, externalID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
		if existing != nil && time.Since(existing.LastScraped) < o.cfg.Staleness() {
			zap.L().Info("scrape: profile fresh, skipping",
				zap.String("profile", externalID),
			)
			return existing, nil
		}
	}

	sess, err := o.sessions.Acquire(ctx, account)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, profileURL); err != nil {
		return nil, apperr.Upstream("profile scrape", err)
	}
	html, err := sess.PageHTML(ctx)
	if err != nil {
		return nil, apperr.Upstream("profile scrape", err)
	}

	if IsBlockedWall(html) {
		zap.L().Warn("scrape: access blocked",
			zap.String("profile", externalID),
			zap.Int64("account_id", account.ID),
		)
		return nil, apperr.Precondition("access blocked for profile %s", externalID)
	}

	profile, err := ExtractProfileFields(html)
	if err != nil {
		return nil, err
	}
	if !profile.HasContent() {
		return nil, apperr.Precondition("no meaningful data for profile %s", externalID)
	}

	profile.ExternalID = externalID
	profile.ProfileURL = profileURL
	profile.LastScraped = time.Now().UTC()
	profile.ScrapedByAccountID = account.ID

	saved, err := o.store.UpsertProfile(ctx, *profile)
	if err != nil {
		return nil, err
	}

	zap.L().Info("scrape: profile scraped",
		zap.String("profile", externalID),
		zap.Int64("account_id", account.ID),
	)
	return saved, nil
}

// BatchScrapeProfiles scrapes the given profile URLs sequentially under
// one account, pausing between items to stay under the network's rate
// ceiling. Failures are logged and skipped; the successes are returned.
func (o *Orchestrator) BatchScrapeProfiles(ctx context.Context, profileURLs []string, account *model.Account, delay time.Duration) []model.UserProfile {
	if delay <= 0 {
		delay = o.cfg.Delay()
	}

	results := make([]model.UserProfile, 0, len(profileURLs))
	for i, rawURL := range profileURLs {
		if ctx.Err() != nil {
			break
		}
		zap.L().Info("scrape: batch item",
			zap.Int("index", i+1),
			zap.Int("total", len(profileURLs)),
			zap.String("url", rawURL),
		)

		profile, err := o.ScrapeProfile(ctx, rawURL, account, false)
		if err != nil {
			zap.L().Warn("scrape: batch item failed",
				zap.String("url", rawURL),
				zap.Error(err),
			)
		} else {
			results = append(results, *profile)
		}

		if i < len(profileURLs)-1 {
			o.sleep(ctx, delay)
		}
	}
	return results
}

// ensureToken returns the account's access token, deriving one when
// missing: first through a browser session replay, then through the
// password exchange.
func (o *Orchestrator) ensureToken(ctx context.Context, account *model.Account) (string, error) {
	if account.HasToken() {
		return account.AccessToken, nil
	}

	token, err := o.sessions.DeriveAccessToken(ctx, account)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	if account.Email != "" && account.Password != "" {
		token, err = o.graph.PasswordToken(ctx, account.Email, account.Password)
		if err != nil {
			return "", err
		}
		if token != "" {
			if err := o.store.SetAccountToken(ctx, account.ID, token); err != nil {
				return "", err
			}
			account.AccessToken = token
			return token, nil
		}
	}

	return "", apperr.Precondition("account %d has no access token", account.ID)
}

func (o *Orchestrator) profileURL(externalID string) string {
	return strings.TrimSuffix(o.network.BaseURL, "/") + "/profile.php?id=" + externalID
}

// trailingSegment keeps the part after the last underscore of a
// composite feed id. Feed entries arrive as "<group>_<post>"; the
// comments endpoint addresses the post by the trailing part alone.
func trailingSegment(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// Package session manages authenticated browser sessions for scraping
// accounts: launching, cookie persistence, login polling, and access
// token derivation.
//
// Cookie and token fields on an account are mutated only here. Writes
// are last-writer-wins: two concurrent sessions for the same account
// race on the cookie set and the later persist stands.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/browser"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/model"
)

// Store is the slice of persistence the manager writes through.
type Store interface {
	ReplaceAccountCookies(ctx context.Context, accountID int64, cookies []model.Cookie) error
	SetAccountToken(ctx context.Context, accountID int64, token string) error
}

// tokenPrefix is the fixed marker the target network embeds in
// authenticated page bodies. The bearer token is the substring starting
// at the marker and ending before the next double quote.
const tokenPrefix = "EAAG"

// authCookieName identifies an authenticated session. Its presence
// after navigation means login completed.
const authCookieName = "c_user"

// Manager turns stored accounts into live authenticated sessions.
type Manager struct {
	store    Store
	launcher browser.Launcher
	network  config.NetworkConfig
	browser  config.BrowserConfig
	http     *resty.Client

	// pollInterval is the login-detection cadence. Overridden in tests.
	pollInterval time.Duration
}

// NewManager builds a session manager.
func NewManager(st Store, launcher browser.Launcher, network config.NetworkConfig, browserCfg config.BrowserConfig) *Manager {
	return &Manager{
		store:        st,
		launcher:     launcher,
		network:      network,
		browser:      browserCfg,
		http:         resty.New().SetTimeout(30 * time.Second),
		pollInterval: time.Second,
	}
}

// Acquire launches a browsing session bound to the account's persisted
// cookies and proxy. On successful authentication detection the
// refreshed cookie set is persisted back to the account. The caller
// owns the returned session and must Close it.
func (m *Manager) Acquire(ctx context.Context, account *model.Account) (browser.Session, error) {
	sess, err := m.launcher.Launch(ctx, m.launchOptions(account))
	if err != nil {
		zap.L().Error("session: browser launch failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return nil, apperr.Upstream("browser session", err)
	}

	if err := sess.Navigate(ctx, m.network.BaseURL); err != nil {
		sess.Close()
		return nil, apperr.Upstream("browser session", err)
	}

	for _, cookie := range account.Cookies {
		if err := sess.SetCookie(ctx, cookie); err != nil {
			zap.L().Warn("session: failed to set cookie",
				zap.Int64("account_id", account.ID),
				zap.String("cookie", cookie.Name),
				zap.Error(err),
			)
		}
	}

	// Reload so the replayed cookies take effect.
	if err := sess.Navigate(ctx, m.network.BaseURL); err != nil {
		sess.Close()
		return nil, apperr.Upstream("browser session", err)
	}

	if m.isAuthenticated(ctx, sess) {
		m.persistCookies(ctx, sess, account)
	}

	return sess, nil
}

// Login drives the account's login flow to completion. The operator (or
// an automation layer above) performs the actual credential entry; this
// method polls once per interval, harvesting and persisting cookies on
// every tick, until either the authenticated cookie appears or the
// session's last tab closes. Each persist replaces the stored cookie
// set wholesale, so an interruption mid-poll leaves a consistent,
// merely older set.
//
// Login never returns an error: browser failures are logged against the
// account and reported as false.
func (m *Manager) Login(ctx context.Context, account *model.Account) bool {
	sess, err := m.launcher.Launch(ctx, m.launchOptions(account))
	if err != nil {
		zap.L().Error("session: login launch failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return false
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, m.network.BaseURL); err != nil {
		zap.L().Error("session: login navigation failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return false
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Warn("session: login interrupted",
				zap.Int64("account_id", account.ID),
			)
			return false
		case <-ticker.C:
		}

		// Harvest on every tick so progress survives interruption.
		authenticated := m.harvestCookies(ctx, sess, account)
		if authenticated {
			zap.L().Info("session: login complete",
				zap.Int64("account_id", account.ID),
			)
			return true
		}

		tabs, err := sess.Tabs(ctx)
		if err != nil {
			zap.L().Error("session: tab enumeration failed",
				zap.Int64("account_id", account.ID),
				zap.Error(err),
			)
			return false
		}
		if len(tabs) == 0 {
			// Operator closed the window without completing login.
			zap.L().Warn("session: login window closed",
				zap.Int64("account_id", account.ID),
			)
			return false
		}
	}
}

// DeriveAccessToken replays the account's cookies against the token
// endpoint and scans the body for the token marker. The extracted token
// is persisted on the account. A missing marker or an upstream failure
// yields an empty token without an error; only a persistence failure is
// returned.
func (m *Manager) DeriveAccessToken(ctx context.Context, account *model.Account) (string, error) {
	req := m.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", account.UserAgent)
	req.SetCookies(toHTTPCookies(account.Cookies))

	resp, err := req.Get(m.network.TokenEndpoint)
	if err != nil {
		zap.L().Error("session: token endpoint request failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return "", nil
	}

	token, ok := ExtractToken(resp.String())
	if !ok {
		zap.L().Warn("session: token marker not found",
			zap.Int64("account_id", account.ID),
			zap.Int("status", resp.StatusCode()),
		)
		return "", nil
	}

	if err := m.store.SetAccountToken(ctx, account.ID, token); err != nil {
		return "", err
	}
	account.AccessToken = token

	zap.L().Info("session: derived access token",
		zap.Int64("account_id", account.ID),
	)
	return token, nil
}

// ExtractToken scans body for the token marker and returns the bounded
// substring from the marker up to (excluding) the next double quote.
// This is a deliberate raw scan, not a structured parse: the token is
// embedded in minified script text.
func ExtractToken(body string) (string, bool) {
	start := strings.Index(body, tokenPrefix)
	if start < 0 {
		return "", false
	}
	rest := body[start:]
	if end := strings.IndexByte(rest, '"'); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

func (m *Manager) launchOptions(account *model.Account) browser.LaunchOptions {
	proxyURL := account.ProxyURL
	if proxyURL == "" {
		proxyURL = m.browser.ProxyURL
	}
	return browser.LaunchOptions{
		Headless:    m.browser.Headless,
		UserAgent:   account.UserAgent,
		UserDataDir: m.browser.UserDataDir,
		ProxyURL:    proxyURL,
		ProxyUser:   m.browser.ProxyUser,
		ProxyPass:   m.browser.ProxyPass,
	}
}

// harvestCookies reads the session's cookies, persists them as a full
// replacement, and reports whether the authenticated cookie is present.
func (m *Manager) harvestCookies(ctx context.Context, sess browser.Session, account *model.Account) bool {
	cookies, err := sess.Cookies(ctx)
	if err != nil {
		zap.L().Warn("session: cookie harvest failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return false
	}
	if len(cookies) == 0 {
		return false
	}

	if err := m.store.ReplaceAccountCookies(ctx, account.ID, cookies); err != nil {
		zap.L().Error("session: cookie persist failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return false
	}
	account.Cookies = cookies

	for _, c := range cookies {
		if c.Name == authCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func (m *Manager) isAuthenticated(ctx context.Context, sess browser.Session) bool {
	cookies, err := sess.Cookies(ctx)
	if err != nil {
		return false
	}
	for _, c := range cookies {
		if c.Name == authCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func (m *Manager) persistCookies(ctx context.Context, sess browser.Session, account *model.Account) {
	cookies, err := sess.Cookies(ctx)
	if err != nil || len(cookies) == 0 {
		return
	}
	if err := m.store.ReplaceAccountCookies(ctx, account.ID, cookies); err != nil {
		zap.L().Warn("session: cookie refresh persist failed",
			zap.Int64("account_id", account.ID),
			zap.Error(err),
		)
		return
	}
	account.Cookies = cookies
}

func toHTTPCookies(cookies []model.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

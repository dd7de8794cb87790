// Package browser abstracts the automation driver behind a small
// capability surface: launch a session, navigate, read the DOM, and
// manage cookies. The session manager and orchestrator depend only on
// these interfaces; the chromedp implementation lives in chromedp.go.
package browser

import (
	"context"

	"github.com/finsight-io/finsight/internal/model"
)

// LaunchOptions configures a new browsing session.
type LaunchOptions struct {
	Headless    bool
	UserAgent   string
	UserDataDir string

	// Proxy settings. ProxyUser/ProxyPass enable the credentialed auth
	// handler; an empty ProxyURL disables proxying entirely.
	ProxyURL  string
	ProxyUser string
	ProxyPass string
}

// TabInfo describes one open page target.
type TabInfo struct {
	URL   string
	Title string
}

// Session is a live browser session.
type Session interface {
	// Navigate loads the given URL in the active tab.
	Navigate(ctx context.Context, url string) error

	// PageHTML returns the serialized HTML of the current document.
	PageHTML(ctx context.Context) (string, error)

	// SetCookie installs a cookie into the session.
	SetCookie(ctx context.Context, cookie model.Cookie) error

	// Cookies enumerates all cookies currently held by the session.
	Cookies(ctx context.Context) ([]model.Cookie, error)

	// Tabs enumerates open page targets. An empty result means the
	// operator closed the browser window.
	Tabs(ctx context.Context) ([]TabInfo, error)

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Launcher creates sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

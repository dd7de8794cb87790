package model

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
)

// Account is a scraping identity: login credentials plus the session
// artifacts (cookies, access token) harvested for it. The password is
// never written to logs; String/zap representations go through Redacted.
type Account struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	IsBlocked   bool      `json:"is_blocked"`
	UserAgent   string    `json:"ua"`
	Cookies     []Cookie  `json:"cookies,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	ProxyURL    string    `json:"proxy_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Usable reports whether the account can drive a browser scrape.
func (a *Account) Usable() bool {
	return a != nil && !a.IsBlocked
}

// HasToken reports whether the account can make graph API calls.
func (a *Account) HasToken() bool {
	return a != nil && a.AccessToken != ""
}

// Redacted returns a loggable identity string without secrets.
func (a *Account) Redacted() string {
	return fmt.Sprintf("account(%d %s)", a.ID, a.Username)
}

// Cookie is the stable serialized form of a browser cookie. It is the
// only shape that crosses the store boundary; browser-native cookie
// types are converted at the edges.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
}

// Valid checks the minimum invariants before a cookie is persisted or
// replayed into a browser session.
func (c Cookie) Valid() error {
	if c.Name == "" {
		return eris.New("cookie: empty name")
	}
	if c.Domain == "" {
		return eris.New("cookie: empty domain")
	}
	return nil
}

// MarshalCookies serializes a cookie set for storage. Every cookie is
// validated; a single bad cookie rejects the whole set so a partial
// write can never corrupt the stored session.
func MarshalCookies(cookies []Cookie) (string, error) {
	for _, c := range cookies {
		if err := c.Valid(); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return "", eris.Wrap(err, "model: marshal cookies")
	}
	return string(raw), nil
}

// UnmarshalCookies deserializes a stored cookie set, validating at the
// boundary.
func UnmarshalCookies(raw string) ([]Cookie, error) {
	if raw == "" {
		return nil, nil
	}
	var cookies []Cookie
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return nil, eris.Wrap(err, "model: unmarshal cookies")
	}
	for _, c := range cookies {
		if err := c.Valid(); err != nil {
			return nil, err
		}
	}
	return cookies, nil
}

// desktopUserAgents is the fingerprint pool for new accounts. Recent
// Chrome on Windows, matching what the target network sees most.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
}

// GenerateUserAgent picks a browser fingerprint for a new account.
func GenerateUserAgent() string {
	return desktopUserAgents[rand.IntN(len(desktopUserAgents))]
}

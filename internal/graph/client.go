// Package graph is the typed client for the social network's graph API.
// Calls are rate limited and retried on transient failures; response
// envelopes decode into our own types rather than leaking raw JSON
// upward.
package graph

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/resilience"
)

// createdTimeLayout is the timestamp format the graph API emits.
const createdTimeLayout = "2006-01-02T15:04:05-0700"

// mobileUserAgents is the pool presented to the legacy REST endpoint,
// which serves token responses only to mobile app clients.
var mobileUserAgents = []string{
	"Mozilla/5.0 (Linux; Android 5.0.2; Andromax C46B2G Build/LRX22G) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/37.0.0.0 Mobile Safari/537.36 [FB_IAB/FB4A;FBAV/60.0.0.16.76;]",
	"Mozilla/5.0 (Linux; Android 5.1.1; SM-N9208 Build/LMY47X) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.81 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; U; Android 5.0; en-US; ASUS_Z008 Build/LRX21V) AppleWebKit/534.30 (KHTML, like Gecko) Version/4.0 UCBrowser/10.8.0.718 U3/0.8.0 Mobile Safari/534.30",
	"Mozilla/5.0 (Linux; U; Android 5.1; en-US; E5563 Build/29.1.B.0.101) AppleWebKit/534.30 (KHTML, like Gecko) Version/4.0 UCBrowser/10.10.0.796 U3/0.8.0 Mobile Safari/534.30",
	"Mozilla/5.0 (Linux; U; Android 4.4.2; en-us; Celkon A406 Build/MocorDroid2.3.5) AppleWebKit/533.1 (KHTML, like Gecko) Version/4.0 Mobile Safari/533.1",
}

// FeedItem is one post entry from a group feed.
type FeedItem struct {
	ID          string
	Message     string
	CreatedTime time.Time
}

// CommentItem is one comment entry under a post.
type CommentItem struct {
	ID          string
	Message     string
	AuthorID    string
	AuthorName  string
	CreatedTime time.Time
}

// Cursors carries the pagination cursors of a graph response page.
type Cursors struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

type paging struct {
	Cursors Cursors `json:"cursors"`
}

type envelope[T any] struct {
	Data   []T    `json:"data"`
	Paging paging `json:"paging"`
	Error  *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type feedEntry struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
}

type commentEntry struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	From    struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	CreatedTime string `json:"created_time"`
}

// Client calls the graph API on behalf of an account's access token.
type Client struct {
	http    *resty.Client
	rest    *resty.Client
	cfg     config.GraphConfig
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// New builds a graph client from configuration.
func New(cfg config.GraphConfig) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	retry := resilience.RetryConfigFrom(cfg.RetryMaxAttempts, cfg.RetryBackoffMs)
	retry.OnRetry = resilience.RetryLogger("graph", "query")

	breakerCfg := resilience.BreakerConfigFrom(cfg.BreakerFailures, cfg.BreakerResetSecs)
	breakerCfg.OnStateChange = func(from, to resilience.BreakerState) {
		zap.L().Warn("graph: circuit state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &Client{
		http:    resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(30 * time.Second),
		rest:    resty.New().SetTimeout(30 * time.Second),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retry,
		breaker: resilience.NewBreaker(breakerCfg),
	}
}

// Feed returns up to the configured limit of posts from a group's feed,
// oldest first.
func (c *Client) Feed(ctx context.Context, groupExternalID, accessToken string) ([]FeedItem, error) {
	var env envelope[feedEntry]
	err := c.query(ctx, fmt.Sprintf("/%s/feed", groupExternalID), accessToken, c.cfg.PostFetchLimit, &env)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(env.Data))
	for _, e := range env.Data {
		items = append(items, FeedItem{
			ID:          e.ID,
			Message:     e.Message,
			CreatedTime: parseCreatedTime(e.CreatedTime),
		})
	}
	return items, nil
}

// Comments returns up to the configured limit of comments under a post,
// oldest first.
func (c *Client) Comments(ctx context.Context, postExternalID, accessToken string) ([]CommentItem, error) {
	var env envelope[commentEntry]
	err := c.query(ctx, fmt.Sprintf("/%s/comments", postExternalID), accessToken, c.cfg.CommentFetchLimit, &env)
	if err != nil {
		return nil, err
	}

	items := make([]CommentItem, 0, len(env.Data))
	for _, e := range env.Data {
		items = append(items, CommentItem{
			ID:          e.ID,
			Message:     e.Message,
			AuthorID:    e.From.ID,
			AuthorName:  e.From.Name,
			CreatedTime: parseCreatedTime(e.CreatedTime),
		})
	}
	return items, nil
}

func (c *Client) query(ctx context.Context, path, accessToken string, limit int, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// The breaker sits outside the retry loop so a dead API opens it
	// after whole calls fail, not individual attempts.
	body, err := resilience.Guard(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			resp, err := c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"limit":        strconv.Itoa(limit),
					"order":        "chronological",
					"access_token": accessToken,
				}).
				Get(path)
			if err != nil {
				return nil, err
			}
			if resilience.RetryableStatus(resp.StatusCode()) {
				return nil, resilience.MarkTransient(
					eris.Errorf("graph: %s returned %d", path, resp.StatusCode()),
					resp.StatusCode(),
				)
			}
			return resp.Body(), nil
		})
	})
	if err != nil {
		return apperr.Upstream("graph query", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Upstream("graph query", eris.Wrap(err, "graph: decode response"))
	}

	// The API reports auth and permission failures inside a 200 body.
	if e := envelopeError(out); e != nil {
		zap.L().Warn("graph: api error",
			zap.String("path", path),
			zap.String("type", e.Type),
			zap.Int("code", e.Code),
		)
		return apperr.Upstream("graph query", eris.Errorf("graph: %s (%s, code %d)", e.Message, e.Type, e.Code))
	}
	return nil
}

type apiError struct {
	Message string
	Type    string
	Code    int
}

func envelopeError(out any) *apiError {
	switch env := out.(type) {
	case *envelope[feedEntry]:
		if env.Error != nil {
			return &apiError{env.Error.Message, env.Error.Type, env.Error.Code}
		}
	case *envelope[commentEntry]:
		if env.Error != nil {
			return &apiError{env.Error.Message, env.Error.Type, env.Error.Code}
		}
	}
	return nil
}

// PasswordToken exchanges account credentials for an access token via
// the legacy signed REST endpoint. Used as a fallback when the
// browser-derived token is unavailable. Returns "" without error when
// the endpoint declines the exchange.
func (c *Client) PasswordToken(ctx context.Context, email, password string) (string, error) {
	params := map[string]string{
		"api_key":                  c.cfg.APIKey,
		"credentials_type":         "password",
		"email":                    email,
		"format":                   "JSON",
		"generate_machine_id":      "1",
		"generate_session_cookies": "1",
		"locale":                   "en_US",
		"method":                   "auth.login",
		"password":                 password,
		"return_ssl_resources":     "0",
		"v":                        "1.0",
	}
	params["sig"] = signParams(params, c.cfg.APISecret)

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("User-Agent", mobileUserAgents[rand.IntN(len(mobileUserAgents))]).
		SetQueryParams(params).
		Get(c.cfg.RESTURL)
	if err != nil {
		return "", apperr.Upstream("token exchange", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return "", apperr.Upstream("token exchange", eris.Wrap(err, "graph: decode token response"))
	}
	if payload.AccessToken == "" {
		zap.L().Warn("graph: token exchange declined", zap.String("email", email))
		return "", nil
	}
	return payload.AccessToken, nil
}

// signParams computes the REST call signature: key=value pairs in key
// order, concatenated, with the secret appended, md5-hexed.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, params[k]...)
	}
	buf = append(buf, secret...)

	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])
}

func parseCreatedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(createdTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

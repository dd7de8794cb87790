package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/model"
)

// ChromeLauncher launches Chrome sessions via chromedp.
type ChromeLauncher struct{}

// NewChromeLauncher returns the chromedp-backed launcher.
func NewChromeLauncher() *ChromeLauncher {
	return &ChromeLauncher{}
}

// Launch starts a Chrome instance configured per opts.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ProxyURL != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:         browserCtx,
		cancelAlloc: allocCancel,
		cancelCtx:   browserCancel,
	}

	// Starting the browser eagerly surfaces launch failures here instead
	// of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, eris.Wrap(err, "browser: start chrome")
	}

	if opts.ProxyURL != "" && opts.ProxyUser != "" {
		if err := s.enableProxyAuth(opts.ProxyUser, opts.ProxyPass); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

type chromeSession struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelCtx   context.CancelFunc
	closeOnce   sync.Once
}

// enableProxyAuth answers proxy auth challenges with the configured
// credentials via the fetch domain.
func (s *chromeSession) enableProxyAuth(username, password string) error {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(s.ctx)
				execCtx := cdp.WithExecutor(s.ctx, c.Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					zap.L().Warn("browser: continue request", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(s.ctx)
				execCtx := cdp.WithExecutor(s.ctx, c.Target)
				err := fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}).Do(execCtx)
				if err != nil {
					zap.L().Warn("browser: continue with auth", zap.Error(err))
				}
			}()
		}
	})

	err := chromedp.Run(s.ctx, fetch.Enable().WithHandleAuthRequests(true))
	return eris.Wrap(err, "browser: enable auth handling")
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return eris.Wrapf(chromedp.Run(s.ctx, chromedp.Navigate(url)), "browser: navigate %s", url)
}

func (s *chromeSession) PageHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var html string
	err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", eris.Wrap(err, "browser: page html")
	}
	return html, nil
}

func (s *chromeSession) SetCookie(ctx context.Context, cookie model.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		return network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithPath(cookie.Path).
			WithSecure(cookie.Secure).
			WithHTTPOnly(cookie.HTTPOnly).
			Do(actionCtx)
	}))
	return eris.Wrapf(err, "browser: set cookie %s", cookie.Name)
}

func (s *chromeSession) Cookies(ctx context.Context) ([]model.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cookies []model.Cookie
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		raw, err := storage.GetCookies().Do(actionCtx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, model.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, eris.Wrap(err, "browser: get cookies")
	}
	return cookies, nil
}

func (s *chromeSession) Tabs(ctx context.Context) ([]TabInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targets, err := chromedp.Targets(s.ctx)
	if err != nil {
		return nil, eris.Wrap(err, "browser: list targets")
	}
	var tabs []TabInfo
	for _, t := range targets {
		if t.Type == "page" {
			tabs = append(tabs, TabInfo{URL: t.URL, Title: t.Title})
		}
	}
	return tabs, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancelCtx()
		s.cancelAlloc()
	})
	return nil
}

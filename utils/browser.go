package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"deal-scraper/internal/types"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserClient is a stealth headless browser session: one Chrome process and
// one tab reused for every page of a run, so cookies carry across pages.
type BrowserClient struct {
	config   *types.Config
	logger   types.Logger
	rng      *rand.Rand
	viewport types.Viewport
	pointer  Point

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewBrowserClient launches the browser and applies the fingerprint settings.
func NewBrowserClient(ctx context.Context, config *types.Config, logger types.Logger) (*BrowserClient, error) {
	rng := newRand()

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = RandomUserAgent(rng)
	}
	viewport := config.Viewport
	if viewport.Width == 0 || viewport.Height == 0 {
		viewport = RandomViewport(rng)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(viewport.Width, viewport.Height),
	)
	if config.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(config.Proxy.Server))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Debugf))

	b := &BrowserClient{
		config:      config,
		logger:      logger,
		rng:         rng,
		viewport:    viewport,
		pointer:     Point{X: float64(100 + rng.Intn(400)), Y: float64(100 + rng.Intn(400))},
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}

	if err := b.setup(); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Infof("Browser ready (headless=%v, viewport=%dx%d, proxy=%v)", config.Headless, viewport.Width, viewport.Height, config.Proxy != nil)
	return b, nil
}

func (b *BrowserClient) setup() error {
	headers := network.Headers{}
	for k, v := range browserHeaders(b.config.Locale) {
		headers[k] = v
	}

	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
	if b.config.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(b.config.Timezone))
	}
	if b.config.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(b.config.Locale))
	}
	if geo := b.config.Geolocation; geo != nil {
		actions = append(actions, emulation.SetGeolocationOverride().
			WithLatitude(geo.Latitude).
			WithLongitude(geo.Longitude).
			WithAccuracy(100))
	}
	if p := b.config.Proxy; p != nil && p.Username != "" {
		b.listenProxyAuth(p)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	cookies, err := b.loadCookies()
	if err != nil {
		b.logger.Warnf("Cookie load failed: %v", err)
	}
	if len(cookies) > 0 {
		actions = append(actions, network.SetCookies(cookies))
	}

	return chromedp.Run(b.tabCtx, actions...)
}

// listenProxyAuth answers proxy basic-auth challenges. With the Fetch domain
// enabled every request pauses, so paused requests are continued as well.
func (b *BrowserClient) listenProxyAuth(p *types.Proxy) {
	chromedp.ListenTarget(b.tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(b.tabCtx, fetch.ContinueRequest(ev.RequestID))
			}()
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(b.tabCtx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: p.Username,
					Password: p.Password,
				}))
			}()
		}
	})
}

// Fetch navigates the session tab to url and returns the rendered HTML.
func (b *BrowserClient) Fetch(ctx context.Context, url string) (*types.Page, error) {
	runCtx, cancel := b.runContext(ctx)
	defer cancel()

	var html, location string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	b.logger.Debugf("Successfully retrieved page content from %s (%d bytes)", location, len(html))
	return &types.Page{URL: location, HTML: html}, nil
}

// Interact moves the pointer along jittered paths and scrolls the page.
func (b *BrowserClient) Interact(ctx context.Context) error {
	steps, end := PlanInteraction(b.rng, b.viewport, b.pointer)

	actions := make([]chromedp.Action, 0, len(steps))
	for _, step := range steps {
		switch {
		case step.Move != nil:
			actions = append(actions, chromedp.MouseEvent(input.MouseMoved, step.Move.X, step.Move.Y))
		case step.ScrollTop:
			actions = append(actions, chromedp.Evaluate(`window.scrollTo(0, 0)`, nil))
		case step.ScrollBy != 0:
			actions = append(actions, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, step.ScrollBy), nil))
		case step.Pause > 0:
			actions = append(actions, chromedp.Sleep(step.Pause))
		}
	}

	runCtx, cancel := b.runContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("failed to simulate interaction: %w", err)
	}
	b.pointer = end
	return nil
}

// runContext bounds an operation by the page timeout and by the caller's ctx
// while keeping the tab context as the chromedp executor.
func (b *BrowserClient) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(b.tabCtx, b.config.Timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Close saves session cookies and shuts the browser down.
func (b *BrowserClient) Close() error {
	err := b.saveCookies()
	if cancelErr := chromedp.Cancel(b.tabCtx); cancelErr != nil && !errors.Is(cancelErr, context.Canceled) {
		b.logger.Debugf("Browser shutdown: %v", cancelErr)
	}
	b.tabCancel()
	b.allocCancel()
	return err
}

func (b *BrowserClient) loadCookies() ([]*network.CookieParam, error) {
	if b.config.CookiesPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.config.CookiesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var saved []*network.Cookie
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	params := CookieParams(saved)
	b.logger.Infof("Loaded %d cookies from previous session", len(params))
	return params, nil
}

// CookieParams converts saved cookies back into settable parameters.
// Session cookies (no expiry) stay session cookies.
func CookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func (b *BrowserClient) saveCookies() error {
	if b.config.CookiesPath == "" {
		return nil
	}

	var cookies []*network.Cookie
	err := chromedp.Run(b.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.config.CookiesPath), 0o755); err != nil {
		return fmt.Errorf("create cookie directory: %w", err)
	}
	if err := os.WriteFile(b.config.CookiesPath, data, 0o600); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	b.logger.Infof("Saved %d cookies to %s", len(cookies), b.config.CookiesPath)
	return nil
}

// Package driver owns the automated browser session against the target
// social platform: login with persisted session state, human-paced posting,
// mention scraping, and centralized rate-limit detection.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/herald/pkg/automation"
	"github.com/entrhq/herald/pkg/automation/selectors"
)

// Session is one authenticated browser session. It is a scoped resource:
// acquire via Manager.NewSession, release with Close on every exit path.
type Session struct {
	cfg      Config
	registry *selectors.Registry
	logger   *slog.Logger

	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	limiter  *rateLimiter
	loggedIn bool

	// restoredState is true when persisted session state was loaded at
	// construction; Login verifies it instead of redoing the whole flow.
	restoredState bool
}

func newSession(pw *playwright.Playwright, cfg Config, registry *selectors.Registry, logger *slog.Logger) (*Session, error) {
	args := []string{"--disable-blink-features=AutomationControlled"}
	if cfg.DisableSandbox {
		args = append(args, "--no-sandbox")
		logger.Warn("browser sandbox disabled")
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     args,
	}
	if cfg.ProxyURL != "" {
		proxy := &playwright.Proxy{Server: cfg.ProxyURL}
		if cfg.ProxyUsername != "" {
			proxy.Username = playwright.String(cfg.ProxyUsername)
			proxy.Password = playwright.String(cfg.ProxyPassword)
		}
		launchOpts.Proxy = proxy
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, &automation.Error{Op: "launch browser", Err: err}
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
		UserAgent: playwright.String(userAgent),
		Locale:    playwright.String("en-US"),
	}
	restored := false
	if _, err := os.Stat(cfg.SessionFile); err == nil {
		contextOpts.StorageStatePath = playwright.String(cfg.SessionFile)
		restored = true
	}

	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return nil, &automation.Error{Op: "create browser context", Err: err}
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		_ = browserCtx.Close()
		_ = browser.Close()
		return nil, &automation.Error{Op: "create page", Err: err}
	}

	s := &Session{
		cfg:           cfg,
		registry:      registry,
		logger:        logger,
		browser:       browser,
		context:       browserCtx,
		page:          page,
		limiter:       newRateLimiter(cfg.RateLimitCooldown),
		restoredState: restored,
	}

	// Every response on the session funnels through here; a throttling
	// status anywhere trips the shared cooldown.
	page.OnResponse(func(resp playwright.Response) {
		if resp.Status() == http.StatusTooManyRequests {
			until := s.limiter.trip()
			s.logger.Warn("rate limit detected, pausing outbound actions", "until", until)
		}
	})

	s.logger.Info("browser session started", "headless", cfg.Headless, "restored_state", restored)
	return s, nil
}

// Close releases the page, context, and browser. Safe on partially
// initialized sessions and always attempts every layer.
func (s *Session) Close() error {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.context != nil {
		_ = s.context.Close()
		s.context = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.browser = nil
			return fmt.Errorf("close browser: %w", err)
		}
		s.browser = nil
	}
	return nil
}

// Login authenticates the session. Already-authenticated sessions return
// immediately unless force is set. Restored session state is verified with
// a cheap home navigation before falling back to the full flow.
func (s *Session) Login(ctx context.Context, force bool) (bool, error) {
	if s.loggedIn && !force {
		return true, nil
	}

	if s.restoredState && !force {
		if s.verifyRestoredSession(ctx) {
			s.loggedIn = true
			s.logger.Info("restored session is still authenticated")
			return true, nil
		}
		s.logger.Info("restored session expired, performing full login")
	}

	if err := s.loginFlow(ctx); err != nil {
		return false, err
	}
	s.loggedIn = true
	return true, nil
}

func (s *Session) verifyRestoredSession(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, err := s.page.Goto(s.cfg.BaseURL+"/home", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(15000),
	}); err != nil {
		return false
	}
	err := s.page.WaitForURL("**/home", playwright.PageWaitForURLOptions{Timeout: playwright.Float(10000)})
	return err == nil
}

func (s *Session) loginFlow(ctx context.Context) error {
	fail := func(step string, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.screenshot("login_error")
		return &automation.LoginError{Step: step, Err: err}
	}

	s.logger.Info("logging in", "username", s.cfg.Username)

	if _, err := s.page.Goto(s.cfg.BaseURL+"/i/flow/login", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fail("navigate", err)
	}
	if err := jitter(ctx, 2*time.Second, 4*time.Second); err != nil {
		return err
	}

	usernameSel, err := s.registry.ResolveStrict("login_username_input")
	if err != nil {
		return fail("resolve username input", err)
	}
	usernameInput, err := s.page.WaitForSelector(usernameSel, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(15000),
	})
	if err != nil {
		s.registry.MarkFailed(ctx, "login_username_input")
		return fail("username input", err)
	}
	if err := humanType(ctx, usernameInput, s.cfg.Username); err != nil {
		return fail("enter username", err)
	}
	if err := jitter(ctx, time.Second, 2*time.Second); err != nil {
		return err
	}

	if err := s.clickNamed(ctx, "login_next_button"); err != nil {
		return fail("advance past username", err)
	}
	if err := jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
		return err
	}

	// The verification prompt is an optional branch: its absence within the
	// short wait is normal, not a failure.
	if verifyInput, present := s.waitOptional("verification_input", 3*time.Second); present {
		s.logger.Info("verification prompt shown, entering email")
		if err := humanType(ctx, verifyInput, s.cfg.Email); err != nil {
			return fail("enter verification", err)
		}
		if err := s.clickNamed(ctx, "verification_next_button"); err != nil {
			return fail("advance past verification", err)
		}
		if err := jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return err
		}
	}

	passwordSel, err := s.registry.ResolveStrict("login_password_input")
	if err != nil {
		return fail("resolve password input", err)
	}
	passwordInput, err := s.page.WaitForSelector(passwordSel, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(15000),
	})
	if err != nil {
		s.registry.MarkFailed(ctx, "login_password_input")
		return fail("password input", err)
	}
	if err := humanType(ctx, passwordInput, s.cfg.Password); err != nil {
		return fail("enter password", err)
	}
	if err := jitter(ctx, time.Second, 2*time.Second); err != nil {
		return err
	}

	if err := s.clickNamed(ctx, "login_button"); err != nil {
		return fail("submit", err)
	}
	if err := s.page.WaitForURL("**/home", playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(30000),
	}); err != nil {
		return fail("wait for authenticated home", err)
	}
	if err := jitter(ctx, 3*time.Second, 5*time.Second); err != nil {
		return err
	}

	if err := s.saveSessionState(); err != nil {
		// Login itself succeeded; a failed save only costs the next run a
		// fresh login.
		s.logger.Warn("failed to persist session state", "error", err)
	}

	s.logger.Info("login successful")
	return nil
}

func (s *Session) saveSessionState() error {
	if s.cfg.SessionFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SessionFile), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if _, err := s.context.StorageState(s.cfg.SessionFile); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// PostContent posts text (optionally with media) to the home timeline, or
// as a reply when req.ReplyToURL is set. It fails fast with a
// RateLimitError while a cooldown is active.
func (s *Session) PostContent(ctx context.Context, req PostRequest) (*PostResult, error) {
	if err := s.limiter.check(); err != nil {
		return nil, err
	}

	fail := func(op string, err error) (*PostResult, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.screenshot("post_error")
		return nil, &automation.Error{Op: op, Err: err}
	}

	s.logger.Info("posting content", "reply", req.ReplyToURL != "", "media", len(req.MediaPaths))

	if req.ReplyToURL != "" {
		if _, err := s.page.Goto(req.ReplyToURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return fail("navigate to reply target", err)
		}
		if err := jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return nil, err
		}
		if err := s.clickNamed(ctx, "reply_button"); err != nil {
			return fail("open reply composer", err)
		}
	} else {
		if _, err := s.page.Goto(s.cfg.BaseURL+"/home", playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return fail("navigate home", err)
		}
		if err := jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return nil, err
		}
	}

	composeSel, err := s.registry.ResolveStrict("compose_box")
	if err != nil {
		return fail("resolve compose box", err)
	}
	composeBox, err := s.page.WaitForSelector(composeSel, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(10000),
	})
	if err != nil {
		s.registry.MarkFailed(ctx, "compose_box")
		return fail("compose box", err)
	}
	if err := humanType(ctx, composeBox, req.Text); err != nil {
		return fail("enter content", err)
	}
	if err := jitter(ctx, time.Second, 2*time.Second); err != nil {
		return nil, err
	}

	for _, path := range req.MediaPaths {
		if _, err := os.Stat(path); err != nil {
			return fail("media file", fmt.Errorf("not found: %s", path))
		}
		uploadSel, err := s.registry.ResolveStrict("media_upload_input")
		if err != nil {
			return fail("resolve media input", err)
		}
		if err := s.page.Locator(uploadSel).SetInputFiles(path); err != nil {
			return fail("upload media", fmt.Errorf("%s: %w", path, err))
		}
		if err := jitter(ctx, 2*time.Second, 3*time.Second); err != nil {
			return nil, err
		}
	}

	submit := "post_button"
	if req.ReplyToURL != "" {
		submit = "reply_send_button"
	}
	if err := s.clickNamed(ctx, submit); err != nil {
		return fail("submit post", err)
	}
	if err := jitter(ctx, 3*time.Second, 5*time.Second); err != nil {
		return nil, err
	}

	s.logger.Info("post submitted")
	// The surface does not expose the new post's id on submission.
	return &PostResult{}, nil
}

// FetchMentions scrapes up to limit items from the mentions surface in the
// order the surface renders them. Items that fail extraction are skipped.
func (s *Session) FetchMentions(ctx context.Context, limit int) ([]Mention, error) {
	if err := s.limiter.check(); err != nil {
		return nil, err
	}
	return s.scrapeItems(ctx, s.cfg.BaseURL+"/notifications/mentions", limit)
}

// FetchSearch scrapes recent items matching a search query, reusing the
// mention extraction path against the live-search surface.
func (s *Session) FetchSearch(ctx context.Context, query string, limit int) ([]Mention, error) {
	if err := s.limiter.check(); err != nil {
		return nil, err
	}
	target := fmt.Sprintf("%s/search?q=%s&src=typed_query&f=live", s.cfg.BaseURL, url.QueryEscape(query))
	return s.scrapeItems(ctx, target, limit)
}

func (s *Session) scrapeItems(ctx context.Context, target string, limit int) ([]Mention, error) {
	fail := func(op string, err error) ([]Mention, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.screenshot("fetch_error")
		return nil, &automation.Error{Op: op, Err: err}
	}

	if _, err := s.page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fail("navigate", err)
	}
	if err := jitter(ctx, 3*time.Second, 5*time.Second); err != nil {
		return nil, err
	}

	// Bounded scrolling loads a few more items beyond the first screen.
	for i := 0; i < s.cfg.ScrollSteps; i++ {
		if _, err := s.page.Evaluate("window.scrollBy(0, 1000)"); err != nil {
			return fail("scroll", err)
		}
		if err := jitter(ctx, time.Second, 2*time.Second); err != nil {
			return nil, err
		}
	}

	articleSel, err := s.registry.ResolveStrict("item_article")
	if err != nil {
		return fail("resolve item article", err)
	}
	elements, err := s.page.QuerySelectorAll(articleSel)
	if err != nil {
		return fail("query items", err)
	}

	mentions := make([]Mention, 0, limit)
	for _, el := range elements {
		if len(mentions) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := s.extractItem(el)
		if err != nil {
			s.logger.Debug("skipping unextractable item", "error", err)
			continue
		}
		mentions = append(mentions, m)
	}

	s.logger.Info("items fetched", "count", len(mentions))
	return mentions, nil
}

func (s *Session) extractItem(el playwright.ElementHandle) (Mention, error) {
	return extractItem(el, s.registry, s.cfg.BaseURL)
}

// clickNamed resolves a named selector and clicks it, recording a selector
// failure when the click cannot find the element.
func (s *Session) clickNamed(ctx context.Context, name string) error {
	sel, err := s.registry.ResolveStrict(name)
	if err != nil {
		return err
	}
	if err := s.page.Click(sel, playwright.PageClickOptions{Timeout: playwright.Float(10000)}); err != nil {
		s.registry.MarkFailed(ctx, name)
		return err
	}
	return nil
}

// waitOptional waits briefly for a named element. Absence is an expected
// outcome, reported as a boolean rather than an error.
func (s *Session) waitOptional(name string, timeout time.Duration) (playwright.ElementHandle, bool) {
	sel := s.registry.Resolve(name)
	if sel == "" {
		return nil, false
	}
	el, err := s.page.WaitForSelector(sel, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil || el == nil {
		return nil, false
	}
	return el, true
}

// screenshot captures a timestamped diagnostic screenshot. Failures here
// are logged and swallowed; diagnostics never mask the original error.
func (s *Session) screenshot(name string) {
	if s.cfg.ScreenshotDir == "" || s.page == nil {
		return
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		s.logger.Debug("screenshot dir", "error", err)
		return
	}
	path := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%s_%d.png", name, time.Now().Unix()))
	if _, err := s.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)}); err != nil {
		s.logger.Debug("screenshot failed", "error", err)
		return
	}
	s.logger.Info("diagnostic screenshot captured", "path", path)
}

// extractItem parses a rendered item into a Mention. The id comes from the
// permalink's last path segment; the author from the first line of the user
// block with its @ stripped.
func extractItem(el playwright.ElementHandle, registry *selectors.Registry, baseURL string) (Mention, error) {
	userSel := registry.Resolve("item_user")
	textSel := registry.Resolve("item_text")
	if userSel == "" || textSel == "" {
		return Mention{}, fmt.Errorf("item selectors unresolved")
	}

	var m Mention

	userEl, err := el.QuerySelector(userSel)
	if err != nil || userEl == nil {
		return Mention{}, fmt.Errorf("user block not found")
	}
	userText, err := userEl.InnerText()
	if err != nil {
		return Mention{}, fmt.Errorf("read user block: %w", err)
	}
	m.AuthorUsername = strings.TrimPrefix(strings.SplitN(userText, "\n", 2)[0], "@")

	textEl, err := el.QuerySelector(textSel)
	if err != nil || textEl == nil {
		return Mention{}, fmt.Errorf("text block not found")
	}
	if m.Text, err = textEl.InnerText(); err != nil {
		return Mention{}, fmt.Errorf("read text block: %w", err)
	}

	linkEl, err := el.QuerySelector(`a[href*="/status/"]`)
	if err != nil || linkEl == nil {
		return Mention{}, fmt.Errorf("permalink not found")
	}
	href, err := linkEl.GetAttribute("href")
	if err != nil || href == "" {
		return Mention{}, fmt.Errorf("read permalink: %w", err)
	}

	parts := strings.Split(href, "/")
	m.ID = parts[len(parts)-1]
	m.URL = baseURL + href
	return m, nil
}

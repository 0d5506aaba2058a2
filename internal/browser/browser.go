// Package browser fetches fully-rendered HTML through a headless
// Chrome instance, the Go equivalent of the original project's
// undetected-chromedriver/DrissionPage crawler: it survives
// Cloudflare's JS interstitial, carries per-domain cookies across
// requests, and can drive a CSS-selector login form when a site
// requires one.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/sites"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// cloudflareChallengeIndicators are substrings present on Cloudflare's
// "Just a moment..." interstitial, matching the original's
// cf_indicators list.
var cloudflareChallengeIndicators = []string{
	"Just a moment",
	"Checking your browser",
	"Please wait",
	"DDoS protection by Cloudflare",
}

// cloudflareBlockedIndicators mark a hard block rather than a
// transient challenge.
var cloudflareBlockedIndicators = []string{
	"Access denied",
	"Error 1020",
}

// Options configures the Fetcher, sourced from the pipeline's cfcj
// settings section.
type Options struct {
	CFWaitTime      time.Duration
	RequestDelay    time.Duration
	MaxRetries      int
	PageLoadTimeout time.Duration
	Headless        bool
	UserAgent       string
}

// DefaultOptions matches the original CFCJConfig defaults.
func DefaultOptions() Options {
	return Options{
		CFWaitTime:      15 * time.Second,
		RequestDelay:    1 * time.Second,
		MaxRetries:      3,
		PageLoadTimeout: 30 * time.Second,
		Headless:        true,
		UserAgent:       defaultUserAgent,
	}
}

// Fetcher owns one long-lived headless Chrome instance and a cookie
// jar, serving GetPage/Login calls against it. Reusing the browser
// process across calls avoids the per-request startup cost the
// original project's job-scoped browser pool was built to amortize.
type Fetcher struct {
	opts   Options
	jar    *Jar
	logins map[string]sites.LoginConfig
	logger zerolog.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New constructs a Fetcher. logins maps a registered site's domain to
// its login config, for sites with requires_login set; GetPage uses it
// to detect and drive the login sub-protocol automatically. Start must
// be called before GetPage/Login.
func New(jar *Jar, opts Options, logins map[string]sites.LoginConfig, logger zerolog.Logger) *Fetcher {
	return &Fetcher{opts: opts, jar: jar, logins: logins, logger: logger}
}

// Start launches the headless browser process.
func (f *Fetcher) Start(ctx context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(
		ctx,
		append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", f.opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(f.opts.UserAgent),
		)...,
	)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()

		return fmt.Errorf("%w: start browser: %w", pipeerrs.ErrExtraction, err)
	}

	f.allocCtx = allocCtx
	f.allocCancel = allocCancel
	f.browserCtx = browserCtx
	f.browserCancel = browserCancel

	return nil
}

// Stop shuts down the browser process, saving no further state (the
// jar is persisted incrementally as cookies are captured).
func (f *Fetcher) Stop() {
	if f.browserCancel != nil {
		f.browserCancel()
	}

	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// GetPage fetches url in the browser, waiting out a Cloudflare
// challenge if one appears, and returns the rendered HTML. It makes up
// to MaxRetries attempts on a Cloudflare block or navigation error,
// waiting longer after each Cloudflare block; a failed login or an
// invalid URL is returned at once without another attempt, matching
// the original's get_page retry loop.
func (f *Fetcher) GetPage(ctx context.Context, rawURL string, waitForCF bool) (string, error) {
	var lastErr error

	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		html, err := f.fetchOnce(ctx, rawURL, waitForCF)
		if err == nil {
			return html, nil
		}

		lastErr = err

		if pipeerrs.Is(err, pipeerrs.ErrAuthentication) || pipeerrs.Is(err, pipeerrs.ErrInvalidInput) {
			return "", err
		}

		if pipeerrs.Is(err, pipeerrs.ErrCloudflareBlocked) {
			f.logger.Warn().Str("url", rawURL).Int("attempt", attempt+1).Msg("blocked by cloudflare, retrying")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.opts.CFWaitTime * time.Duration(attempt+1)):
			}

			continue
		}

		f.logger.Warn().Err(err).Str("url", rawURL).Int("attempt", attempt+1).Msg("fetch failed, retrying")
	}

	return "", fmt.Errorf("%w: %d attempts exhausted for %s: %w", pipeerrs.ErrExtraction, f.opts.MaxRetries, rawURL, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, waitForCF bool) (string, error) {
	domain, err := hostOf(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pipeerrs.ErrInvalidInput, err)
	}

	html, err := f.navigate(ctx, rawURL, waitForCF, domain)
	if err != nil {
		return "", err
	}

	login, needsLogin := f.loginFor(domain)
	if !needsLogin || !isLoginWall(html, login) {
		return html, nil
	}

	if login.Username == "" || login.Password == "" {
		f.logger.Warn().Str("domain", domain).Str("url", rawURL).Msg("page requires login but no credentials are configured for this site")
		return html, nil
	}

	f.logger.Info().Str("domain", domain).Str("url", rawURL).Msg("no valid session detected, running login sub-protocol")

	if err := f.Login(ctx, login, login.Username, login.Password); err != nil {
		return "", fmt.Errorf("%w: login required for %s: %w", pipeerrs.ErrAuthentication, rawURL, err)
	}

	return f.navigate(ctx, rawURL, waitForCF, domain)
}

// navigate drives one page load: apply stored cookies, navigate,
// optionally wait out a Cloudflare challenge, then capture whatever
// cookies the page left behind.
func (f *Fetcher) navigate(ctx context.Context, rawURL string, waitForCF bool, domain string) (string, error) {
	if err := f.applyCookies(ctx, domain); err != nil {
		f.logger.Debug().Err(err).Str("domain", domain).Msg("failed to apply stored cookies")
	}

	timeoutCtx, cancel := context.WithTimeout(f.browserCtx, f.opts.PageLoadTimeout)
	defer cancel()

	var html string

	if err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(f.opts.RequestDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", rawURL, err)
	}

	if waitForCF {
		var err error

		html, err = f.waitForCloudflare(timeoutCtx, html)
		if err != nil {
			return "", err
		}
	}

	if err := f.captureCookies(ctx, domain); err != nil {
		f.logger.Debug().Err(err).Str("domain", domain).Msg("failed to capture cookies")
	}

	return html, nil
}

// loginFor matches domain against f.logins using the same
// exact/www.-stripped/subdomain rules as sites.Registry.Detect.
func (f *Fetcher) loginFor(domain string) (sites.LoginConfig, bool) {
	domain = strings.ToLower(domain)
	domainNoWWW := strings.TrimPrefix(domain, "www.")

	for siteDomain, login := range f.logins {
		if domain == siteDomain ||
			domainNoWWW == siteDomain ||
			strings.HasSuffix(domain, "."+siteDomain) ||
			strings.HasSuffix(domainNoWWW, "."+siteDomain) {
			return login, true
		}
	}

	return sites.LoginConfig{}, false
}

// isLoginWall reports whether html is showing the site's login form
// rather than the page that was actually requested, i.e. no valid
// session is present. Matches the original AuthManager's approach of
// checking for the login form's own elements rather than guessing at
// a session cookie's validity.
func isLoginWall(html string, login sites.LoginConfig) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	return doc.Find(login.UsernameSelector).Length() > 0 && doc.Find(login.PasswordSelector).Length() > 0
}

// waitForCloudflare mirrors "_wait_for_cloudflare_selenium": if a
// challenge indicator is present, sleep CFWaitTime and re-read the
// page; a blocked-access indicator, or a challenge still showing after
// the wait, yields ErrCloudflareBlocked.
func (f *Fetcher) waitForCloudflare(ctx context.Context, html string) (string, error) {
	if containsAny(html, cloudflareBlockedIndicators) {
		return "", fmt.Errorf("%w", pipeerrs.ErrCloudflareBlocked)
	}

	if !containsAny(html, cloudflareChallengeIndicators) {
		return html, nil
	}

	f.logger.Info().Dur("wait", f.opts.CFWaitTime).Msg("cloudflare challenge detected, waiting")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(f.opts.CFWaitTime):
	}

	var refreshed string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &refreshed, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("re-read page after cloudflare wait: %w", err)
	}

	if containsAny(refreshed, cloudflareBlockedIndicators) {
		return "", fmt.Errorf("%w", pipeerrs.ErrCloudflareBlocked)
	}

	if containsAny(refreshed, cloudflareChallengeIndicators) {
		return "", fmt.Errorf("%w: challenge still present after %s", pipeerrs.ErrCloudflareBlocked, f.opts.CFWaitTime)
	}

	return refreshed, nil
}

func (f *Fetcher) applyCookies(ctx context.Context, domain string) error {
	stored := f.jar.CookiesFor(domain)
	if len(stored) == 0 {
		return nil
	}

	return chromedp.Run(f.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range stored {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				Do(ctx)
			if err != nil {
				return err
			}
		}

		return nil
	}))
}

func (f *Fetcher) captureCookies(ctx context.Context, domain string) error {
	var cookies []*network.Cookie

	err := chromedp.Run(f.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}

	out := make([]Cookie, 0, len(cookies))

	for _, c := range cookies {
		if !strings.Contains(c.Domain, domain) && !strings.Contains(domain, strings.TrimPrefix(c.Domain, ".")) {
			continue
		}

		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	return f.jar.SetCookies(domain, out)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	return u.Hostname(), nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}

	return false
}

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/sites"
)

// loginSettleDelay gives a site's post-login redirect/JS time to run
// before cookies are captured, matching the original's short sleep
// after submit before checking login success.
const loginSettleDelay = 2 * time.Second

// Login drives a site's CSS-selector login form: navigate, fill
// username/password, submit, then capture the resulting session
// cookies into the jar. Matches the original AuthManager's
// login_with_credentials flow, minus its login-success heuristics
// (the caller decides success by trying the page it actually wants).
func (f *Fetcher) Login(ctx context.Context, login sites.LoginConfig, username, password string) error {
	domain, err := hostOf(login.LoginURL)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeerrs.ErrInvalidInput, err)
	}

	timeoutCtx, cancel := context.WithTimeout(f.browserCtx, f.opts.PageLoadTimeout)
	defer cancel()

	err = chromedp.Run(timeoutCtx,
		chromedp.Navigate(login.LoginURL),
		chromedp.WaitVisible(login.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(login.UsernameSelector, username, chromedp.ByQuery),
		chromedp.SendKeys(login.PasswordSelector, password, chromedp.ByQuery),
		chromedp.Click(login.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(loginSettleDelay),
	)
	if err != nil {
		return fmt.Errorf("%w: login at %s: %w", pipeerrs.ErrAuthentication, login.LoginURL, err)
	}

	if err := f.captureCookies(ctx, domain); err != nil {
		return fmt.Errorf("%w: capture session cookies after login: %w", pipeerrs.ErrAuthentication, err)
	}

	return nil
}

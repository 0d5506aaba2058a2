// Package sites maintains the set of known content sites and detects
// which site rule applies to a given URL by domain matching (exact,
// www.-stripped, or subdomain).
package sites

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
)

// LoginConfig describes the CSS selectors needed to drive a login flow
// for a site behind authentication.
type LoginConfig struct {
	LoginURL         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	Username         string
	Password         string
}

// ExtractionConfig describes the per-site selector extraction rules.
type ExtractionConfig struct {
	TitleSelectors   []string
	ContentSelectors []string
	ExcludeSelectors []string
	AuthorRules      *config.AuthorRuleConfig

	// MainPostSelector, if set, narrows extraction to this container
	// (e.g. "#post_1" on a Discourse forum like linux.do) before
	// content/exclude selectors run, so replies and sidebar content
	// never leak into the extracted article.
	MainPostSelector string
}

// Rule is one registered site's full configuration.
type Rule struct {
	Key           string
	Name          string
	Domain        string
	RequiresLogin bool
	Login         LoginConfig
	Extraction    ExtractionConfig
}

// Detection is the result of matching a URL to a registered Rule.
type Detection struct {
	Rule           Rule
	URL            string
	OriginalDomain string
}

// Registry holds the set of known sites, keyed by a short identifier
// ("linux_do", "nodeseek", ...), and resolves URLs to rules.
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	sites map[string]Rule
}

// NewRegistry builds a Registry from the structured "sites" section of
// Settings, validating each entry before admitting it.
func NewRegistry(settings map[string]config.SiteConfig, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{logger: logger, sites: map[string]Rule{}}

	for key, sc := range settings {
		rule := ruleFromConfig(key, sc)
		if err := Validate(rule); err != nil {
			return nil, fmt.Errorf("site %q: %w", key, err)
		}

		r.sites[key] = rule
	}

	return r, nil
}

func ruleFromConfig(key string, sc config.SiteConfig) Rule {
	name := sc.SiteName
	if name == "" {
		name = key
	}

	var authorRules *config.AuthorRuleConfig
	if sc.AuthorRules != nil {
		authorRules = sc.AuthorRules
	}

	return Rule{
		Key:           key,
		Name:          name,
		Domain:        strings.ToLower(sc.Domain),
		RequiresLogin: sc.RequiresLogin,
		Login: LoginConfig{
			LoginURL:         sc.LoginURL,
			UsernameSelector: sc.UsernameSelector,
			PasswordSelector: sc.PasswordSelector,
			SubmitSelector:   sc.SubmitSelector,
			Username:         sc.Username,
			Password:         sc.Password,
		},
		Extraction: ExtractionConfig{
			TitleSelectors:   sc.TitleSelectors,
			ContentSelectors: sc.ContentSelectors,
			ExcludeSelectors: sc.ExcludeSelectors,
			AuthorRules:      authorRules,
			MainPostSelector: sc.MainPostSelector,
		},
	}
}

// Validate enforces the same invariants the original site detector
// checked before admitting a config: domain required, at least one of
// title/content selectors, and (if requires_login) a full login
// selector set.
func Validate(rule Rule) error {
	if rule.Domain == "" {
		return fmt.Errorf("%w: missing domain", pipeerrs.ErrInvalidInput)
	}

	if len(rule.Extraction.TitleSelectors) == 0 && len(rule.Extraction.ContentSelectors) == 0 {
		return fmt.Errorf("%w: missing content or title selectors", pipeerrs.ErrInvalidInput)
	}

	if rule.RequiresLogin {
		l := rule.Login
		if l.LoginURL == "" || l.UsernameSelector == "" || l.PasswordSelector == "" || l.SubmitSelector == "" {
			return fmt.Errorf("%w: requires_login set but login config incomplete", pipeerrs.ErrInvalidInput)
		}
	}

	return nil
}

// Add registers or replaces a site rule at runtime, matching the
// original's dynamic "add_site_config" capability.
func (r *Registry) Add(rule Rule) error {
	if err := Validate(rule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[rule.Key] = rule

	r.logger.Info().Str("site_key", rule.Key).Msg("registered site config")

	return nil
}

// Detect matches rawURL's host against every registered site's
// domain, trying exact match, www.-stripped match, and subdomain
// (endswith ".domain") match, in that order of preference across
// sites iterated in registration order semantics (map order is
// unspecified but a single match is expected per domain).
func (r *Registry) Detect(rawURL string) (*Detection, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", rawURL).Msg("site detection failed to parse url")
		return nil, false
	}

	domain := strings.ToLower(parsed.Host)
	domainNoWWW := strings.TrimPrefix(domain, "www.")

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.sites {
		siteDomain := rule.Domain

		matches := domain == siteDomain ||
			domainNoWWW == siteDomain ||
			strings.HasSuffix(domain, "."+siteDomain) ||
			strings.HasSuffix(domainNoWWW, "."+siteDomain)

		if matches {
			r.logger.Info().Str("site_name", rule.Name).Str("domain", domain).Msg("detected site")

			return &Detection{Rule: rule, URL: rawURL, OriginalDomain: domain}, true
		}
	}

	r.logger.Warn().Str("domain", domain).Msg("unsupported site")

	return nil, false
}

// Get returns a registered rule by key.
func (r *Registry) Get(key string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.sites[key]

	return rule, ok
}

// LoginsByDomain returns the login config for every registered site
// that requires one, keyed by domain, so the browser fetcher can
// detect and drive a login flow without depending on the full
// Registry type.
func (r *Registry) LoginsByDomain() map[string]LoginConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string]LoginConfig{}

	for _, rule := range r.sites {
		if rule.RequiresLogin {
			out[rule.Domain] = rule.Login
		}
	}

	return out
}

// All returns every registered site's domain -> display-name mapping.
func (r *Registry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.sites))
	for _, rule := range r.sites {
		out[rule.Domain] = rule.Name
	}

	return out
}

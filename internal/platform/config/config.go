// Package config loads the pipeline's configuration from the process
// environment (raw secrets and connection strings) layered with a JSON
// settings file (structured, versionable sections: sites, scheduler
// entries, workflow step parameters, browser/crawler tunables).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

// Config holds everything read from the environment: connection
// strings and credentials that must never be committed to a settings
// file checked into version control.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"local"`

	PostgresDSN string `env:"POSTGRES_DSN,required"`
	MySQLDSN    string `env:"DISCUZ_MYSQL_DSN,required"`

	WechatAuthPath     string `env:"WECHAT_AUTH_PATH" envDefault:"./data/id_info.json"`
	WechatAccountsPath string `env:"WECHAT_ACCOUNTS_PATH" envDefault:"./data/name2fakeid.json"`

	SettingsPath string `env:"SETTINGS_PATH" envDefault:"./config/settings.json"`

	ProgressDir  string `env:"PROGRESS_DIR" envDefault:"./data/progress"`
	CookieDir    string `env:"COOKIE_DIR" envDefault:"./data/cookies"`
	SchedulePath string `env:"SCHEDULE_PATH" envDefault:"./data/schedules.json"`

	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`

	DBMaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns          int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

// Load reads .env (if present), parses environment variables into
// Config, then loads and merges the JSON Settings file it points to.
func Load() (*Config, *Settings, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional in production deployments

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing environment config: %w: %w", pipeerrs.ErrConfig, err)
	}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, nil, err
	}

	return cfg, settings, nil
}

// Settings is the structured, JSON-file-backed half of configuration:
// site rules, workflow step parameters, scheduler tunables, and the
// browser fetcher's crawl-pacing knobs. Missing sections fall back to
// DefaultSettings.
type Settings struct {
	Sites    map[string]SiteConfig `json:"sites"`
	Forum    ForumSettings         `json:"forum"`
	Workflow WorkflowSettings      `json:"workflow"`
	CFCJ     CFCJSettings          `json:"cfcj"`
}

// SiteConfig is the on-disk shape of one entry under "sites" in the
// settings file; internal/sites.Registry converts these into detector
// rules.
type SiteConfig struct {
	Domain           string            `json:"domain"`
	SiteName         string            `json:"site_name"`
	RequiresLogin    bool              `json:"requires_login"`
	LoginURL         string            `json:"login_url"`
	UsernameSelector string            `json:"username_selector"`
	PasswordSelector string            `json:"password_selector"`
	SubmitSelector   string            `json:"submit_selector"`
	TitleSelectors   []string          `json:"title_selectors"`
	ContentSelectors []string          `json:"content_selectors"`
	ExcludeSelectors []string          `json:"exclude_selectors"`
	AuthorRules      *AuthorRuleConfig `json:"author_rules,omitempty"`

	// MainPostSelector narrows extraction to a Discourse-like site's
	// main post container (e.g. "#post_1" on linux.do) before content
	// selectors are applied, so replies and sidebar content never leak
	// into the extracted article.
	MainPostSelector string `json:"main_post_selector,omitempty"`

	// Username and Password drive the login sub-protocol for sites with
	// requires_login set. The original project took these as external,
	// per-invocation CLI/API input rather than static config; this
	// pipeline runs as a long-lived scheduled job with no per-call
	// credential input, so they live alongside the rest of the site's
	// login selectors in the operator-managed settings file instead.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AuthorRuleConfig configures the author-windowed content narrowing
// described for per-site extraction of attributed reposts.
type AuthorRuleConfig struct {
	StartMarker     string `json:"start_marker"`
	EndMarker       string `json:"end_marker"`
	IncludeMarkers  bool   `json:"include_markers"`
	FallbackToFull  bool   `json:"fallback_to_full"`
}

// ForumSettings configures the Discuz republish target.
type ForumSettings struct {
	TargetForumID   int64  `json:"target_forum_id"`
	PublisherName   string `json:"publisher_username"`
	PublisherUserID int64  `json:"publisher_user_id"`
}

// WorkflowSettings configures the three-step workflow engine.
type WorkflowSettings struct {
	Steps map[string]StepSettings `json:"steps"`
}

// StepSettings is the per-step {enabled, timeout, retry_count, params}
// shape the original workflow config used.
type StepSettings struct {
	Enabled    bool                   `json:"enabled"`
	TimeoutSec int                    `json:"timeout"`
	RetryCount int                    `json:"retry_count"`
	Params     map[string]interface{} `json:"params"`
}

// CFCJSettings configures the browser fetcher's crawl pacing.
type CFCJSettings struct {
	CFWaitTimeSec    int `json:"cf_wait_time"`
	RequestDelayMS   int `json:"request_delay"`
	MaxRetries       int `json:"max_retries"`
	PageLoadTimeoutS int `json:"page_load_timeout"`
}

// LoadSettings reads path as JSON and merges it over DefaultSettings.
// A missing file is not an error; it yields the defaults verbatim, per
// the original workflow manager's own "use defaults when the config
// file is absent" behavior.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w: reading settings file %s: %w", pipeerrs.ErrConfig, path, err)
	}

	var onDisk Settings
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("%w: parsing settings file %s: %w", pipeerrs.ErrConfig, path, err)
	}

	mergeSettings(settings, &onDisk)

	return settings, nil
}

func mergeSettings(base, override *Settings) {
	if len(override.Sites) > 0 {
		for k, v := range override.Sites {
			base.Sites[k] = v
		}
	}

	if override.Forum.TargetForumID != 0 {
		base.Forum = override.Forum
	}

	for name, step := range override.Workflow.Steps {
		base.Workflow.Steps[name] = step
	}

	if override.CFCJ.CFWaitTimeSec != 0 {
		base.CFCJ.CFWaitTimeSec = override.CFCJ.CFWaitTimeSec
	}
	if override.CFCJ.RequestDelayMS != 0 {
		base.CFCJ.RequestDelayMS = override.CFCJ.RequestDelayMS
	}
	if override.CFCJ.MaxRetries != 0 {
		base.CFCJ.MaxRetries = override.CFCJ.MaxRetries
	}
	if override.CFCJ.PageLoadTimeoutS != 0 {
		base.CFCJ.PageLoadTimeoutS = override.CFCJ.PageLoadTimeoutS
	}
}

// DefaultSettings mirrors the original workflow manager's hardcoded
// defaults so a fresh deployment works without a settings file.
func DefaultSettings() *Settings {
	return &Settings{
		Sites: map[string]SiteConfig{},
		Forum: ForumSettings{
			TargetForumID:   2,
			PublisherName:   "砂鱼",
			PublisherUserID: 4,
		},
		Workflow: WorkflowSettings{
			Steps: map[string]StepSettings{
				"link_crawl": {
					Enabled: true, TimeoutSec: 600, RetryCount: 2,
					Params: map[string]interface{}{"limit_per_account": 10, "total_limit": 50, "accounts": []interface{}{"all"}},
				},
				"content_crawl": {
					Enabled: true, TimeoutSec: 1800, RetryCount: 1,
					Params: map[string]interface{}{"limit": 50, "batch_size": 5},
				},
				"forum_publish": {
					Enabled: true, TimeoutSec: 3600, RetryCount: 1,
					Params: map[string]interface{}{"limit": 100, "interval_min": 60, "interval_max": 120},
				},
			},
		},
		CFCJ: CFCJSettings{
			CFWaitTimeSec:    15,
			RequestDelayMS:   1000,
			MaxRetries:       3,
			PageLoadTimeoutS: 30,
		},
	}
}

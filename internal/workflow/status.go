package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sifangyu/weipc/internal/platform/config"
	"github.com/sifangyu/weipc/internal/store"
)

// linkCrawlFreshnessWindow is how long since an account's last fetch
// before link_crawl is considered worth retrying, matching the
// status checker's 12-hour heuristic.
const linkCrawlFreshnessWindow = 12 * time.Hour

// defaultAccounts is used when a step's "accounts" param is "all" (or
// absent) and no explicit account list is configured.
var defaultAccounts = []string{"舞林攻略指南", "人类砂舞行为研究", "砂砂之家"}

// AccountDetail reports one account's link-crawl gating evaluation.
type AccountDetail struct {
	AccountName    string     `json:"account_name"`
	TotalArticles  int        `json:"total_articles"`
	LastFetchTime  *time.Time `json:"last_fetch_time,omitempty"`
	EstimatedNew   int        `json:"estimated_new"`
	Reason         string     `json:"reason"`
}

// Gate is a gating check's verdict: whether the step should run, why,
// and how much work it expects to find.
type Gate struct {
	ShouldExecute   bool           `json:"should_execute"`
	Reason          string         `json:"reason"`
	EstimatedCount  int            `json:"estimated_count"`
	Accounts        []AccountDetail `json:"accounts,omitempty"`
}

// AccountStatsStore is the subset of *store.DB link-crawl gating needs.
type AccountStatsStore interface {
	AccountStatsFor(ctx context.Context, account string) (store.AccountStats, error)
}

// PendingCountStore is the subset of *store.DB the content-crawl and
// forum-publish gating checks need.
type PendingCountStore interface {
	CountPendingContentCrawl(ctx context.Context) (int, error)
	CountPendingForumPublish(ctx context.Context) (int, error)
}

// StatusChecker evaluates whether each workflow step has work to do,
// ported from status_checker.py's three check_* methods.
type StatusChecker struct {
	accountStats AccountStatsStore
	pending      PendingCountStore
	now          func() time.Time
}

// NewStatusChecker constructs a StatusChecker against the Article Store.
func NewStatusChecker(accountStats AccountStatsStore, pending PendingCountStore) *StatusChecker {
	return &StatusChecker{accountStats: accountStats, pending: pending, now: time.Now}
}

// ParamInt reads an integer-ish step parameter, tolerating the
// int/int64/float64 shapes JSON unmarshaling and direct map literals
// both produce.
func ParamInt(params map[string]interface{}, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}

	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// ParamAccounts reads the "accounts" step parameter, expanding "all"
// (or an absent/empty list) to defaultAccounts.
func ParamAccounts(params map[string]interface{}) []string {
	raw, ok := params["accounts"]
	if !ok {
		return defaultAccounts
	}

	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return defaultAccounts
	}

	for _, v := range list {
		if s, ok := v.(string); ok && s == "all" {
			return defaultAccounts
		}
	}

	accounts := make([]string, 0, len(list))

	for _, v := range list {
		if s, ok := v.(string); ok {
			accounts = append(accounts, s)
		}
	}

	return accounts
}

// CheckLinkCrawl evaluates whether link_crawl should run: each
// configured account is stale (no articles yet, or last fetched more
// than linkCrawlFreshnessWindow ago) contributes limitPerAccount to the
// estimate, clamped to totalLimit.
func (c *StatusChecker) CheckLinkCrawl(ctx context.Context, params map[string]interface{}) (Gate, error) {
	limitPerAccount := ParamInt(params, "limit_per_account", 3)
	totalLimit := ParamInt(params, "total_limit", 50)
	accounts := ParamAccounts(params)

	now := c.now()

	details := make([]AccountDetail, 0, len(accounts))
	total := 0

	for _, account := range accounts {
		stats, err := c.accountStats.AccountStatsFor(ctx, account)
		if err != nil {
			return Gate{}, fmt.Errorf("account stats for %s: %w", account, err)
		}

		var (
			shouldCrawl bool
			reason      string
		)

		switch {
		case stats.Count == 0:
			shouldCrawl = true
			reason = "first crawl for this account"
		case stats.LastFetched == nil:
			shouldCrawl = true
			reason = "no fetch timestamp on record"
		default:
			elapsed := now.Sub(*stats.LastFetched)
			if elapsed >= linkCrawlFreshnessWindow {
				shouldCrawl = true
				reason = fmt.Sprintf("%.1f hours since last fetch, retrying", elapsed.Hours())
			} else {
				reason = fmt.Sprintf("only %.1f hours since last fetch, skipping", elapsed.Hours())
			}
		}

		estimated := 0
		if shouldCrawl {
			estimated = limitPerAccount
		}

		total += estimated

		details = append(details, AccountDetail{
			AccountName:   account,
			TotalArticles: stats.Count,
			LastFetchTime: stats.LastFetched,
			EstimatedNew:  estimated,
			Reason:        reason,
		})
	}

	if total > totalLimit {
		total = totalLimit
	}

	gate := Gate{EstimatedCount: total, Accounts: details}

	if total > 0 {
		gate.ShouldExecute = true
		gate.Reason = fmt.Sprintf("accounts need checking, up to %d new articles expected", total)
	} else {
		gate.Reason = "every account was crawled within the last 12 hours"
	}

	return gate, nil
}

// CheckContentCrawl evaluates whether content_crawl should run: any
// article with crawl_status=pending counts toward the estimate,
// clamped to limit.
func (c *StatusChecker) CheckContentCrawl(ctx context.Context, params map[string]interface{}) (Gate, error) {
	limit := ParamInt(params, "limit", 50)

	pendingCount, err := c.pending.CountPendingContentCrawl(ctx)
	if err != nil {
		return Gate{}, fmt.Errorf("count pending content crawl: %w", err)
	}

	actual := pendingCount
	if actual > limit {
		actual = limit
	}

	gate := Gate{EstimatedCount: actual}

	if actual > 0 {
		gate.ShouldExecute = true
		gate.Reason = fmt.Sprintf("%d articles awaiting content crawl, processing %d", pendingCount, actual)
	} else {
		gate.Reason = "no articles awaiting content crawl"
	}

	return gate, nil
}

// CheckForumPublish evaluates whether forum_publish should run: any
// extracted-but-unpublished article counts toward the estimate,
// clamped to limit.
func (c *StatusChecker) CheckForumPublish(ctx context.Context, params map[string]interface{}) (Gate, error) {
	limit := ParamInt(params, "limit", 100)

	pendingCount, err := c.pending.CountPendingForumPublish(ctx)
	if err != nil {
		return Gate{}, fmt.Errorf("count pending forum publish: %w", err)
	}

	actual := pendingCount
	if actual > limit {
		actual = limit
	}

	gate := Gate{EstimatedCount: actual}

	if actual > 0 {
		gate.ShouldExecute = true
		gate.Reason = fmt.Sprintf("%d articles awaiting forum publish, publishing %d", pendingCount, actual)
	} else {
		gate.Reason = "no articles awaiting forum publish"
	}

	return gate, nil
}

// Check dispatches to the step-specific gating function by name,
// matching get_overall_status's per-step branch.
func (c *StatusChecker) Check(ctx context.Context, step string, params map[string]interface{}) (Gate, error) {
	switch step {
	case StepLinkCrawl:
		return c.CheckLinkCrawl(ctx, params)
	case StepContentCrawl:
		return c.CheckContentCrawl(ctx, params)
	case StepForumPublish:
		return c.CheckForumPublish(ctx, params)
	default:
		return Gate{Reason: fmt.Sprintf("unknown step: %s", step)}, nil
	}
}

// OverallStatus evaluates every enabled step in settings and reports a
// summary, matching get_overall_status.
func (c *StatusChecker) OverallStatus(ctx context.Context, settings config.WorkflowSettings) (map[string]Gate, error) {
	out := make(map[string]Gate, len(settings.Steps))

	for _, name := range StepOrder {
		step, ok := settings.Steps[name]
		if !ok || !step.Enabled {
			out[name] = Gate{Reason: "step disabled"}
			continue
		}

		gate, err := c.Check(ctx, name, step.Params)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", name, err)
		}

		out[name] = gate
	}

	return out, nil
}

// Package wechat discovers article links published by WeChat Official
// Accounts through the same private mp.weixin.qq.com backend endpoints
// the official web console uses: searchbiz (account name -> fakeid)
// and appmsgpublish (fakeid -> recent publish history).
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

const (
	searchBizURL     = "https://mp.weixin.qq.com/cgi-bin/searchbiz?"
	appMsgPublishURL = "https://mp.weixin.qq.com/cgi-bin/appmsgpublish?"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36"
	referer          = "https://mp.weixin.qq.com/"

	maxArticlesPerRequest = 5

	fieldAccount = "account"
	fieldAPI     = "api"
)

// Article is one entry discovered from an account's publish history.
type Article struct {
	Title            string
	ArticleURL       string
	PublishTimestamp time.Time
	AccountName      string
}

// AuthInfo is the persisted session the crawler authenticates with,
// refreshed out-of-band by the Browser Fetcher's login flow.
type AuthInfo struct {
	Token  string `json:"token"`
	Cookie string `json:"cookie"`
}

// Crawler discovers recent article links for a set of WeChat Official
// Accounts, caching the account-name -> fakeid mapping to disk.
type Crawler struct {
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rate.Limiter

	auth     AuthInfo
	accounts *AccountCache
}

// New constructs a Crawler from persisted auth info and an account
// cache. requestsPerSecond paces outbound requests, matching the
// original's one-request-per-second-between-accounts pacing.
func New(auth AuthInfo, accounts *AccountCache, logger zerolog.Logger, requestsPerSecond float64) *Crawler {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}

	return &Crawler{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		auth:       auth,
		accounts:   accounts,
	}
}

// IsAuthenticated reports whether a token and cookie are present.
func (c *Crawler) IsAuthenticated() bool {
	return c.auth.Token != "" && c.auth.Cookie != ""
}

type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

type envelope struct {
	BaseResp baseResp `json:"base_resp"`
}

// checkCredentialStatus inspects base_resp.err_msg the way the
// original crawler did: session/csrf failures become
// ErrCredentialsExpired, frequency-control responses become
// ErrRateLimited, any other non-zero ret is logged but not fatal.
func checkCredentialStatus(env envelope, apiName string, logger zerolog.Logger) error {
	errMsg := strings.ToLower(env.BaseResp.ErrMsg)

	switch errMsg {
	case "invalid session", "invalid csrf token", "missing session", "missing csrf token":
		return fmt.Errorf("%w: %s (ret=%d msg=%s)", pipeerrs.ErrCredentialsExpired, apiName, env.BaseResp.Ret, errMsg)
	}

	if strings.Contains(errMsg, "freq control") {
		return fmt.Errorf("%w: %s (ret=%d msg=%s)", pipeerrs.ErrRateLimited, apiName, env.BaseResp.Ret, errMsg)
	}

	if env.BaseResp.Ret != 0 {
		logger.Warn().Str(fieldAPI, apiName).Int("ret", env.BaseResp.Ret).Str("msg", errMsg).Msg("wechat api returned non-zero ret")
	}

	return nil
}

func (c *Crawler) doGet(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeerrs.ErrTimeout, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Cookie", c.auth.Cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return body, nil
}

// GetAccountFakeID resolves account_name to its fakeid, checking the
// on-disk cache first and only calling searchbiz on a cache miss.
func (c *Crawler) GetAccountFakeID(ctx context.Context, accountName string) (string, error) {
	if id, ok := c.accounts.Get(accountName); ok && id != "" {
		return id, nil
	}

	params := url.Values{
		"action": {"search_biz"},
		"begin":  {"0"},
		"count":  {"5"},
		"query":  {accountName},
		"token":  {c.auth.Token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
	}

	body, err := c.doGet(ctx, searchBizURL, params)
	if err != nil {
		return "", err
	}

	var resp struct {
		envelope
		List []struct {
			Nickname string `json:"nickname"`
			FakeID   string `json:"fakeid"`
		} `json:"list"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse search_biz response: %w", err)
	}

	if err := checkCredentialStatus(resp.envelope, "search_biz", c.logger); err != nil {
		return "", err
	}

	for _, account := range resp.List {
		if account.Nickname == accountName && account.FakeID != "" {
			c.accounts.Set(accountName, account.FakeID)
			return account.FakeID, nil
		}
	}

	c.logger.Info().Str(fieldAccount, accountName).Msg("account not found via search_biz")

	return "", nil
}

// GetArticles fetches up to limit recent published articles for
// accountName, parsing the nested publish_page -> publish_list ->
// publish_info -> appmsgex envelope the appmsgpublish endpoint returns.
func (c *Crawler) GetArticles(ctx context.Context, accountName string, limit int) ([]Article, error) {
	if !c.IsAuthenticated() {
		return nil, fmt.Errorf("%w: not authenticated", pipeerrs.ErrCredentialsExpired)
	}

	fakeID, err := c.GetAccountFakeID(ctx, accountName)
	if err != nil {
		return nil, err
	}

	if fakeID == "" {
		return nil, nil
	}

	count := limit
	if count > maxArticlesPerRequest {
		count = maxArticlesPerRequest
	}

	params := url.Values{
		"sub":                {"list"},
		"search_field":       {"null"},
		"begin":              {"0"},
		"count":              {strconv.Itoa(count)},
		"query":              {""},
		"fakeid":             {fakeID},
		"type":               {"101_1"},
		"free_publish_type":  {"1"},
		"sub_action":         {"list_ex"},
		"token":              {c.auth.Token},
		"lang":               {"zh_CN"},
		"f":                  {"json"},
		"ajax":               {"1"},
	}

	body, err := c.doGet(ctx, appMsgPublishURL, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		PublishPage string `json:"publish_page"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse appmsgpublish response: %w", pipeerrs.ErrExtraction, err)
	}

	if err := checkCredentialStatus(resp.envelope, "appmsgpublish", c.logger); err != nil {
		return nil, err
	}

	if resp.PublishPage == "" {
		c.logger.Warn().Str(fieldAccount, accountName).Msg("appmsgpublish response missing publish_page")
		return nil, nil
	}

	return parsePublishPage(resp.PublishPage, accountName, limit)
}

func parsePublishPage(publishPage, accountName string, limit int) ([]Article, error) {
	var outer struct {
		PublishList []struct {
			PublishInfo string `json:"publish_info"`
		} `json:"publish_list"`
	}

	if err := json.Unmarshal([]byte(publishPage), &outer); err != nil {
		return nil, fmt.Errorf("%w: parse publish_page: %w", pipeerrs.ErrExtraction, err)
	}

	var articles []Article

	for _, item := range outer.PublishList {
		if item.PublishInfo == "" {
			continue
		}

		var info struct {
			AppMsgEx []struct {
				Title      string `json:"title"`
				Link       string `json:"link"`
				CreateTime int64  `json:"create_time"`
			} `json:"appmsgex"`
		}

		if err := json.Unmarshal([]byte(item.PublishInfo), &info); err != nil {
			continue
		}

		for _, detail := range info.AppMsgEx {
			if detail.CreateTime == 0 {
				continue
			}

			articles = append(articles, Article{
				Title:            detail.Title,
				ArticleURL:       detail.Link,
				PublishTimestamp: jstimeToDatetime(detail.CreateTime),
				AccountName:      accountName,
			})

			if len(articles) >= limit {
				return articles, nil
			}
		}
	}

	return articles, nil
}

// jstimeEpoch is the Beijing-time anchor the original crawler converts
// WeChat's epoch-minute "create_time" field against:
// 1970-01-01 08:00 (China Standard Time, UTC+8).
var jstimeEpoch = time.Date(1970, 1, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))

// jstimeToDatetime reproduces the original's
// `datetime(1970-01-01 08:00) + timedelta(minutes=jstime // 60)`.
func jstimeToDatetime(jstime int64) time.Time {
	return jstimeEpoch.Add(time.Duration(jstime/60) * time.Minute)
}

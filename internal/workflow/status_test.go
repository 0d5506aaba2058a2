package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifangyu/weipc/internal/store"
)

type fakeAccountStats struct {
	byAccount map[string]store.AccountStats
}

func (f *fakeAccountStats) AccountStatsFor(_ context.Context, account string) (store.AccountStats, error) {
	if s, ok := f.byAccount[account]; ok {
		return s, nil
	}

	return store.AccountStats{AccountName: account}, nil
}

type fakePendingCounts struct {
	contentCrawl  int
	forumPublish  int
}

func (f *fakePendingCounts) CountPendingContentCrawl(context.Context) (int, error) {
	return f.contentCrawl, nil
}

func (f *fakePendingCounts) CountPendingForumPublish(context.Context) (int, error) {
	return f.forumPublish, nil
}

func newTestChecker(accounts *fakeAccountStats, pending *fakePendingCounts, now time.Time) *StatusChecker {
	checker := NewStatusChecker(accounts, pending)
	checker.now = func() time.Time { return now }

	return checker
}

func TestCheckLinkCrawl_NeverCrawledAccountShouldExecute(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	accounts := &fakeAccountStats{byAccount: map[string]store.AccountStats{}}
	checker := newTestChecker(accounts, &fakePendingCounts{}, now)

	gate, err := checker.CheckLinkCrawl(context.Background(), map[string]interface{}{
		"accounts":          []interface{}{"acct-a"},
		"limit_per_account": 10,
		"total_limit":       50,
	})
	require.NoError(t, err)
	assert.True(t, gate.ShouldExecute)
	assert.Equal(t, 10, gate.EstimatedCount)
	require.Len(t, gate.Accounts, 1)
	assert.Equal(t, "first crawl for this account", gate.Accounts[0].Reason)
}

func TestCheckLinkCrawl_RecentlyFetchedAccountSkips(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastFetch := now.Add(-1 * time.Hour)
	accounts := &fakeAccountStats{byAccount: map[string]store.AccountStats{
		"acct-a": {AccountName: "acct-a", Count: 5, LastFetched: &lastFetch},
	}}
	checker := newTestChecker(accounts, &fakePendingCounts{}, now)

	gate, err := checker.CheckLinkCrawl(context.Background(), map[string]interface{}{
		"accounts": []interface{}{"acct-a"},
	})
	require.NoError(t, err)
	assert.False(t, gate.ShouldExecute)
	assert.Equal(t, 0, gate.EstimatedCount)
}

func TestCheckLinkCrawl_StaleAccountPastFreshnessWindowShouldExecute(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastFetch := now.Add(-13 * time.Hour)
	accounts := &fakeAccountStats{byAccount: map[string]store.AccountStats{
		"acct-a": {AccountName: "acct-a", Count: 5, LastFetched: &lastFetch},
	}}
	checker := newTestChecker(accounts, &fakePendingCounts{}, now)

	gate, err := checker.CheckLinkCrawl(context.Background(), map[string]interface{}{
		"accounts":          []interface{}{"acct-a"},
		"limit_per_account": 7,
	})
	require.NoError(t, err)
	assert.True(t, gate.ShouldExecute)
	assert.Equal(t, 7, gate.EstimatedCount)
}

func TestCheckLinkCrawl_EstimateClampedToTotalLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	accounts := &fakeAccountStats{byAccount: map[string]store.AccountStats{}}
	checker := newTestChecker(accounts, &fakePendingCounts{}, now)

	gate, err := checker.CheckLinkCrawl(context.Background(), map[string]interface{}{
		"accounts":          []interface{}{"a", "b", "c"},
		"limit_per_account": 10,
		"total_limit":       15,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, gate.EstimatedCount)
}

func TestCheckContentCrawl_ClampsToLimit(t *testing.T) {
	checker := newTestChecker(&fakeAccountStats{}, &fakePendingCounts{contentCrawl: 100}, time.Now())

	gate, err := checker.CheckContentCrawl(context.Background(), map[string]interface{}{"limit": 20})
	require.NoError(t, err)
	assert.True(t, gate.ShouldExecute)
	assert.Equal(t, 20, gate.EstimatedCount)
}

func TestCheckContentCrawl_NoPendingDoesNotExecute(t *testing.T) {
	checker := newTestChecker(&fakeAccountStats{}, &fakePendingCounts{contentCrawl: 0}, time.Now())

	gate, err := checker.CheckContentCrawl(context.Background(), map[string]interface{}{"limit": 20})
	require.NoError(t, err)
	assert.False(t, gate.ShouldExecute)
}

func TestCheckForumPublish_ClampsToLimit(t *testing.T) {
	checker := newTestChecker(&fakeAccountStats{}, &fakePendingCounts{forumPublish: 500}, time.Now())

	gate, err := checker.CheckForumPublish(context.Background(), map[string]interface{}{"limit": 100})
	require.NoError(t, err)
	assert.True(t, gate.ShouldExecute)
	assert.Equal(t, 100, gate.EstimatedCount)
}

func TestStepAccountsParam_AllExpandsToDefaultAccounts(t *testing.T) {
	accounts := ParamAccounts(map[string]interface{}{"accounts": []interface{}{"all"}})
	assert.Equal(t, defaultAccounts, accounts)
}

func TestStepAccountsParam_MissingDefaultsToAll(t *testing.T) {
	accounts := ParamAccounts(map[string]interface{}{})
	assert.Equal(t, defaultAccounts, accounts)
}

package wechat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

func TestJstimeToDatetime(t *testing.T) {
	// jstime is in seconds; the original divides by 60 to get minutes
	// since the 1970-01-01 08:00 CST anchor.
	got := jstimeToDatetime(0)
	want := time.Date(1970, 1, 1, 8, 0, 0, 0, time.FixedZone("CST", 8*3600))
	assert.True(t, got.Equal(want))

	got2 := jstimeToDatetime(120) // 2 minutes
	assert.True(t, got2.Equal(want.Add(2*time.Minute)))
}

func TestCheckCredentialStatus_ExpiredSession(t *testing.T) {
	logger := zerolog.Nop()
	err := checkCredentialStatus(envelope{BaseResp: baseResp{Ret: -1, ErrMsg: "invalid session"}}, "search_biz", logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrs.ErrCredentialsExpired)
}

func TestCheckCredentialStatus_RateLimited(t *testing.T) {
	logger := zerolog.Nop()
	err := checkCredentialStatus(envelope{BaseResp: baseResp{Ret: 200013, ErrMsg: "freq control"}}, "appmsgpublish", logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrs.ErrRateLimited)
}

func TestCheckCredentialStatus_OtherNonZeroRetIsNonFatal(t *testing.T) {
	logger := zerolog.Nop()
	err := checkCredentialStatus(envelope{BaseResp: baseResp{Ret: 1, ErrMsg: "some other error"}}, "search_biz", logger)
	assert.NoError(t, err)
}

func TestParsePublishPage(t *testing.T) {
	publishPage := `{"publish_list":[{"publish_info":"{\"appmsgex\":[{\"title\":\"hello\",\"link\":\"https://mp.weixin.qq.com/s/abc\",\"create_time\":120}]}"}]}`

	articles, err := parsePublishPage(publishPage, "test-account", 10)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "hello", articles[0].Title)
	assert.Equal(t, "https://mp.weixin.qq.com/s/abc", articles[0].ArticleURL)
	assert.Equal(t, "test-account", articles[0].AccountName)
}

func TestParsePublishPage_SkipsArticlesWithoutCreateTime(t *testing.T) {
	publishPage := `{"publish_list":[{"publish_info":"{\"appmsgex\":[{\"title\":\"no time\",\"link\":\"https://x\",\"create_time\":0}]}"}]}`

	articles, err := parsePublishPage(publishPage, "acct", 10)
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestParsePublishPage_RespectsLimit(t *testing.T) {
	publishPage := `{"publish_list":[{"publish_info":"{\"appmsgex\":[{\"title\":\"a\",\"link\":\"u1\",\"create_time\":60},{\"title\":\"b\",\"link\":\"u2\",\"create_time\":120}]}"}]}`

	articles, err := parsePublishPage(publishPage, "acct", 1)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "a", articles[0].Title)
}

package extract

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sifangyu/weipc/internal/sites"
)

func TestSelectBestResult_OnlyOneSucceeds(t *testing.T) {
	a := Article{Content: "content a"}
	b := Article{Content: "content b"}

	got, ok := selectBestResult(a, true, Article{}, false)
	assert.True(t, ok)
	assert.Equal(t, a, got)

	got, ok = selectBestResult(Article{}, false, b, true)
	assert.True(t, ok)
	assert.Equal(t, b, got)
}

func TestSelectBestResult_BothFail(t *testing.T) {
	_, ok := selectBestResult(Article{}, false, Article{}, false)
	assert.False(t, ok)
}

func TestSelectBestResult_CloseLengthsPrefersEngineA(t *testing.T) {
	a := Article{Content: strings.Repeat("x", 100)}
	b := Article{Content: strings.Repeat("y", 110)}

	got, ok := selectBestResult(a, true, b, true)
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestSelectBestResult_LargeDifferencePrefersLonger(t *testing.T) {
	a := Article{Content: strings.Repeat("x", 50)}
	b := Article{Content: strings.Repeat("y", 200)}

	got, ok := selectBestResult(a, true, b, true)
	assert.True(t, ok)
	assert.Equal(t, b, got)
}

func TestEngineBSelector_ReadsWechatContentContainer(t *testing.T) {
	registry, err := sites.NewRegistry(nil, zerolog.Nop())
	assert.NoError(t, err)

	e := New(registry, zerolog.Nop())

	html := `<html><body>
		<h1 id="activity-name">  文章标题  </h1>
		<span id="js_name"> 公众号名称 </span>
		<div id="js_content"><p>正文第一段内容，包含一些文字。</p><img data-src="//example.com/a.png"></div>
	</body></html>`

	article, ok := e.engineBSelector(html, "https://mp.weixin.qq.com/s/abc")
	assert.True(t, ok)
	assert.Equal(t, "文章标题", article.Title)
	assert.Equal(t, "公众号名称", article.Author)
	assert.Contains(t, article.Content, "正文第一段内容")
	require.Len(t, article.Images, 1)
	assert.Equal(t, "https://example.com/a.png", article.Images[0].URL)
}

func TestEngineBSelector_NoContentContainerFails(t *testing.T) {
	registry, err := sites.NewRegistry(nil, zerolog.Nop())
	assert.NoError(t, err)

	e := New(registry, zerolog.Nop())

	_, ok := e.engineBSelector("<html><body><p>no wechat markup here</p></body></html>", "https://mp.weixin.qq.com/s/abc")
	assert.False(t, ok)
}

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanWechatContent_RemovesPromotionalLines(t *testing.T) {
	content := "这是正文第一段，内容足够长。\n点击上方蓝字关注我们\n这是正文第二段，继续讲述故事。\n商务合作请联系我们\n"

	cleaned := cleanWechatContent(content)

	assert.Contains(t, cleaned, "正文第一段")
	assert.Contains(t, cleaned, "正文第二段")
	assert.NotContains(t, cleaned, "关注我们")
	assert.NotContains(t, cleaned, "商务合作")
}

func TestCleanWechatContent_DropsShortAndSymbolLines(t *testing.T) {
	content := "ab\n***\n这是一段有意义的正文内容。\n"

	cleaned := cleanWechatContent(content)

	assert.Equal(t, "这是一段有意义的正文内容。", cleaned)
}

func TestCleanWechatContent_CollapsesBlankLineRuns(t *testing.T) {
	content := "第一段内容在这里。\n\n\n\n第二段内容在这里。"

	cleaned := cleanWechatContent(content)

	assert.NotContains(t, cleaned, "\n\n\n")
}

func TestCleaningRatio(t *testing.T) {
	assert.Equal(t, 0.5, cleaningRatio("abcd", "ab"))
	assert.Equal(t, float64(0), cleaningRatio("", ""))
}

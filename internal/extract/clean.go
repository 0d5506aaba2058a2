package extract

import (
	"regexp"
	"strings"
)

// unwantedLinePatterns mirrors the original content optimizer's
// promotional/boilerplate line filters: follow prompts, engagement
// prompts, cross-promotion, copyright boilerplate, masthead credits.
var unwantedLinePatterns = compilePatterns([]string{
	`点击.*?关注`, `长按.*?关注`, `扫码关注`, `关注.*?公众号`, `点击上方.*?关注`, `点击.*?关注`, `星标置顶`,
	`点击.*?阅读原文`, `在看点这里`, `分享点这里`, `点赞.*?在看`, `转发.*?朋友圈`,
	`推荐阅读`, `往期精彩`, `更多精彩内容`, `热门文章`, `相关阅读`,
	`免责声明`, `版权声明`, `版权所有`, `转载请注明`,
	`商务合作`, `投稿邮箱`, `联系我们`, `广告投放`,
	`——.*?节选自`, `来源[:：]`, `编辑[:：]`, `审核[:：]`,
})

var pureSymbolLine = regexp.MustCompile(`^[^\w\p{Han}]*$`)

var blankRunCollapser = regexp.MustCompile(`\n{3,}`)

const minMeaningfulLineLength = 3

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}

	return out
}

// cleanWechatContent strips promotional boilerplate lines, very short
// lines, and pure-symbol lines, then collapses runs of blank lines,
// matching the original's "clean_wechat_content".
func cleanWechatContent(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			kept = append(kept, line)
			continue
		}

		if shouldSkipLine(line) {
			continue
		}

		kept = append(kept, line)
	}

	cleaned := strings.Join(kept, "\n")
	cleaned = blankRunCollapser.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}

func shouldSkipLine(line string) bool {
	for _, pattern := range unwantedLinePatterns {
		if pattern.MatchString(line) {
			return true
		}
	}

	if len([]rune(line)) < minMeaningfulLineLength {
		return true
	}

	return pureSymbolLine.MatchString(line)
}

// cleaningRatio reports the fraction of characters removed by
// cleaning, matching the original's "cleaning_ratio" metric.
func cleaningRatio(original, cleaned string) float64 {
	origLen := len([]rune(original))
	if origLen == 0 {
		return 0
	}

	return float64(origLen-len([]rune(cleaned))) / float64(origLen)
}

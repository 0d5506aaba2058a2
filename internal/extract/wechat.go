package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

// wechatContentSelectors and friends mirror the DOM ids WeChat's
// article template has used for years: js_content holds the article
// body, activity-name/rich_media_title the headline, js_name the
// account display name shown as byline.
var (
	wechatContentSelectors = []string{"#js_content", ".rich_media_content"}
	wechatTitleSelectors   = []string{"#activity-name", ".rich_media_title", "h1"}
	wechatAuthorSelectors  = []string{"#js_name", ".rich_media_meta_text"}
)

// extractWechat runs two independent extraction engines over the same
// page and keeps whichever result looks more complete, matching the
// original optimizer's dual trafilatura/newspaper3k pass: engine A is
// a readability-style full-page reader, engine B reads WeChat's own
// content container directly. The winner is cleaned of promotional
// boilerplate and, if the account's site rule defines author markers,
// narrowed to the author's own text.
func (e *Extractor) extractWechat(html, rawURL string) (Article, error) {
	docA, okA := e.engineAReadability(html, rawURL)
	docB, okB := e.engineBSelector(html, rawURL)

	best, ok := selectBestResult(docA, okA, docB, okB)
	if !ok {
		return Article{}, fmt.Errorf("%w: both wechat extraction engines failed for %s", pipeerrs.ErrExtraction, rawURL)
	}

	original := best.Content
	best.Content = cleanWechatContent(best.Content)

	ratio := cleaningRatio(original, best.Content)
	e.logger.Debug().Str("url", rawURL).Float64("cleaning_ratio", ratio).Msg("wechat content cleaned")

	if rule, ok := e.registry.Get("wechat"); ok && rule.Extraction.AuthorRules != nil {
		best.Content = applyAuthorWindow(best.Content, rule.Extraction.AuthorRules)
	}

	best.URL = rawURL
	best.WordCount = len([]rune(best.Content))
	best.ExtractedAt = time.Now().UTC()

	return best, nil
}

// engineAReadability wraps the go-readability v2 reader-mode
// algorithm, the original optimizer's trafilatura-equivalent path.
func (e *Extractor) engineAReadability(html, rawURL string) (Article, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", rawURL).Msg("readability extraction failed")
		return Article{}, false
	}

	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return Article{}, false
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return Article{}, false
	}

	return Article{
		Title:   article.Title(),
		Content: content,
		Author:  article.Byline(),
	}, true
}

// engineBSelector reads WeChat's own content container directly, the
// original optimizer's newspaper3k-equivalent path: less forgiving of
// layout drift than readability, but free of readability's tendency to
// pull in sidebar/related-article text on pages it misjudges.
func (e *Extractor) engineBSelector(html, rawURL string) (Article, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, false
	}

	sel := doc.Find(strings.Join(wechatContentSelectors, ", ")).First()
	if sel.Length() == 0 {
		return Article{}, false
	}

	normalizeImages(sel, rawURL)

	contentHTML, err := sel.Html()
	if err != nil {
		return Article{}, false
	}

	content := strings.TrimSpace(stripTags(contentHTML))
	if content == "" {
		return Article{}, false
	}

	return Article{
		Title:   firstMatchText(doc, wechatTitleSelectors),
		Content: content,
		Author:  firstMatchText(doc, wechatAuthorSelectors),
		Images:  extractImages(doc.Selection, rawURL),
	}, true
}

// selectBestResult mirrors "_select_best_result": if only one engine
// succeeded, use it; if both did and their lengths are within 20% of
// each other, prefer engine A as the cleaner of the two; otherwise
// prefer whichever is longer.
func selectBestResult(a Article, okA bool, b Article, okB bool) (Article, bool) {
	if okA && !okB {
		return a, true
	}

	if okB && !okA {
		return b, true
	}

	if !okA && !okB {
		return Article{}, false
	}

	lenA := len([]rune(a.Content))
	lenB := len([]rune(b.Content))

	maxLen := lenA
	if lenB > maxLen {
		maxLen = lenB
	}

	if maxLen == 0 {
		return a, true
	}

	diff := lenA - lenB
	if diff < 0 {
		diff = -diff
	}

	if float64(diff)/float64(maxLen) < 0.2 {
		return a, true
	}

	if lenA > lenB {
		return a, true
	}

	return b, true
}

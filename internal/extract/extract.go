// Package extract turns a fetched HTML page into a structured
// Article: title, content, author, tags, and images. It implements
// two extraction paths described for the pipeline's Content Extractor:
// per-site CSS-selector rules (internal/sites) and a WeChat-specific
// dual engine (readability vs. a selector-based extractor), selecting
// between the two by content length.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
	"github.com/sifangyu/weipc/internal/sites"
	"github.com/sifangyu/weipc/internal/store"
)

// Article is the structured result of extraction, matching the
// original extractor's output shape.
type Article struct {
	URL         string
	Title       string
	Content     string
	Author      string
	PublishTime time.Time
	Tags        []string
	Images      []store.Image
	WordCount   int
	ExtractedAt time.Time
}

// Extractor dispatches to the per-site or WeChat extraction path based
// on site detection, mirroring the original multi-site extractor's
// routing.
type Extractor struct {
	registry *sites.Registry
	logger   zerolog.Logger
}

// New constructs an Extractor backed by a site Registry.
func New(registry *sites.Registry, logger zerolog.Logger) *Extractor {
	return &Extractor{registry: registry, logger: logger}
}

const wechatHost = "mp.weixin.qq.com"

// ExtractArticle extracts an Article from html fetched from url,
// dispatching by detected site: WeChat gets the dual-engine path,
// registered sites get their selector rules, anything else falls back
// to the generic longest-block heuristic.
func (e *Extractor) ExtractArticle(html, url string) (Article, error) {
	if strings.Contains(url, wechatHost) {
		return e.extractWechat(html, url)
	}

	if detection, ok := e.registry.Detect(url); ok {
		return e.extractWithRule(html, url, detection.Rule)
	}

	return e.extractGeneric(html, url)
}

// extractWithRule applies a registered site's CSS selector rules
// (title/content/exclude) plus its optional author-window narrowing.
func (e *Extractor) extractWithRule(html, url string, rule sites.Rule) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("%w: parse html: %w", pipeerrs.ErrExtraction, err)
	}

	removeSelectors(doc, rule.Extraction.ExcludeSelectors)

	scope := doc.Selection
	if rule.Extraction.MainPostSelector != "" {
		if mainPost := doc.Find(rule.Extraction.MainPostSelector).First(); mainPost.Length() > 0 {
			scope = mainPost
		} else {
			e.logger.Warn().Str("url", url).Str("selector", rule.Extraction.MainPostSelector).Msg("main post selector matched nothing, falling back to full document")
		}
	}

	title := firstMatchText(doc, rule.Extraction.TitleSelectors)
	content, err := contentHTML(scope, url, rule.Extraction.ContentSelectors)
	if err != nil {
		return Article{}, err
	}

	if rule.Extraction.AuthorRules != nil {
		content = applyAuthorWindow(content, rule.Extraction.AuthorRules)
	}

	images := extractImages(scope, url)
	plain := stripTags(content)

	return Article{
		URL:         url,
		Title:       title,
		Content:     content,
		Images:      images,
		WordCount:   len([]rune(plain)),
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// extractGeneric picks the div/article/section/main with the longest
// visible text, the original's fallback for unregistered sites.
func (e *Extractor) extractGeneric(html, url string) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Article{}, fmt.Errorf("%w: parse html: %w", pipeerrs.ErrExtraction, err)
	}

	best := findMainContent(doc)
	if best == nil {
		return Article{}, fmt.Errorf("%w: no main content block found", pipeerrs.ErrExtraction)
	}

	contentHTML, _ := best.Html()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	plain := strings.TrimSpace(best.Text())

	return Article{
		URL:         url,
		Title:       title,
		Content:     contentHTML,
		Images:      extractImages(doc.Selection, url),
		WordCount:   len([]rune(plain)),
		ExtractedAt: time.Now().UTC(),
	}, nil
}

func removeSelectors(doc *goquery.Document, selectors []string) {
	for _, sel := range selectors {
		doc.Find(sel).Remove()
	}
}

func firstMatchText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}

	return ""
}

func contentHTML(scope *goquery.Selection, baseURL string, selectors []string) (string, error) {
	for _, sel := range selectors {
		s := scope.Find(sel).First()
		if s.Length() == 0 {
			continue
		}

		normalizeImages(s, baseURL)

		html, err := s.Html()
		if err != nil {
			return "", fmt.Errorf("%w: render content selector %q: %w", pipeerrs.ErrExtraction, sel, err)
		}

		if strings.TrimSpace(html) != "" {
			return html, nil
		}
	}

	return "", fmt.Errorf("%w: no content selector matched", pipeerrs.ErrExtraction)
}

// AuthorRuleConfig aliases the settings shape so callers outside this
// package don't need to import internal/platform/config directly.
type AuthorRuleConfig = config.AuthorRuleConfig

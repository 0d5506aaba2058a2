// Package crawler is the Integrated Crawler: it claims pending
// articles from the Article Store, fetches each through the Browser
// Fetcher, extracts structured content, and writes the result back.
// It mirrors the original integrated_crawler.py's claim/process loop,
// generalized from a single wechat_articles table to the store's
// source-agnostic Article type.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/extract"
	"github.com/sifangyu/weipc/internal/store"
)

// Stats summarizes one Batch/CrawlURLs run, matching the original's
// stats dict (total_processed/successful/failed/skipped).
type Stats struct {
	TotalProcessed int
	Successful     int
	Failed         int
	Skipped        int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// ArticleStore is the subset of *store.DB the crawler needs, named so
// tests can supply a fake.
type ArticleStore interface {
	UpsertLink(ctx context.Context, a store.Article) (string, error)
	ClaimPending(ctx context.Context, limit int) ([]store.Article, error)
	MarkCrawling(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, content, author string, tags []string, images []store.Image, wordCount int) error
	MarkFailed(ctx context.Context, id string, crawlErr error) error
}

// Fetcher is the subset of *browser.Fetcher the crawler needs.
type Fetcher interface {
	GetPage(ctx context.Context, rawURL string, waitForCF bool) (string, error)
}

// Crawler drives the content-crawl step of the pipeline: claim work,
// fetch, extract, persist.
type Crawler struct {
	store        ArticleStore
	fetcher      Fetcher
	extractor    *extract.Extractor
	limiter      *rate.Limiter
	requestDelay time.Duration
	logger       zerolog.Logger
}

// New constructs a Crawler. requestsPerSecond throttles fetches across
// all sites, matching the original's single global request_delay.
func New(articleStore ArticleStore, fetcher Fetcher, extractor *extract.Extractor, requestsPerSecond float64, requestDelay time.Duration, logger zerolog.Logger) *Crawler {
	return &Crawler{
		store:        articleStore,
		fetcher:      fetcher,
		extractor:    extractor,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		requestDelay: requestDelay,
		logger:       logger,
	}
}

// CrawlOne fetches and extracts a single already-claimed article,
// recording the outcome in the store. Matches crawl_single_article.
func (c *Crawler) CrawlOne(ctx context.Context, article store.Article) error {
	crawlArticlesProcessedTotal.Inc()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", pipeerrs.ErrTimeout, err)
	}

	c.logger.Info().Str("article_id", article.ID).Str("url", article.ArticleURL).Msg("crawling article")

	html, err := c.fetcher.GetPage(ctx, article.ArticleURL, true)
	if err != nil {
		crawlArticlesFailedTotal.Inc()

		if markErr := c.store.MarkFailed(ctx, article.ID, err); markErr != nil {
			c.logger.Warn().Err(markErr).Str("article_id", article.ID).Msg("failed to record crawl failure")
		}

		return fmt.Errorf("%w: fetch %s: %w", pipeerrs.ErrExtraction, article.ArticleURL, err)
	}

	extracted, err := c.extractor.ExtractArticle(html, article.ArticleURL)
	if err != nil {
		crawlArticlesFailedTotal.Inc()

		if markErr := c.store.MarkFailed(ctx, article.ID, err); markErr != nil {
			c.logger.Warn().Err(markErr).Str("article_id", article.ID).Msg("failed to record crawl failure")
		}

		return fmt.Errorf("%w: extract %s: %w", pipeerrs.ErrExtraction, article.ArticleURL, err)
	}

	if err := c.store.MarkCompleted(ctx, article.ID, extracted.Content, extracted.Author, extracted.Tags, extracted.Images, extracted.WordCount); err != nil {
		crawlArticlesFailedTotal.Inc()
		return fmt.Errorf("%w: persist extracted content for %s: %w", pipeerrs.ErrDatabase, article.ArticleURL, err)
	}

	crawlArticlesSucceededTotal.Inc()
	c.logger.Info().Str("article_id", article.ID).Int("word_count", extracted.WordCount).Msg("article crawled")

	return nil
}

// Batch claims up to limit pending articles in one claim and crawls
// them one after another, waiting requestDelay between articles. The
// claimed articles are not split into smaller batches, and there is no
// longer pause between groups of articles.
func (c *Crawler) Batch(ctx context.Context, limit int) (Stats, error) {
	stats := Stats{StartedAt: time.Now()}

	pending, err := c.store.ClaimPending(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("%w: claim pending articles: %w", pipeerrs.ErrDatabase, err)
	}

	if len(pending) == 0 {
		c.logger.Info().Msg("no pending articles to crawl")
		stats.FinishedAt = time.Now()

		return stats, nil
	}

	for i, article := range pending {
		select {
		case <-ctx.Done():
			stats.FinishedAt = time.Now()
			return stats, ctx.Err()
		default:
		}

		stats.TotalProcessed++

		if err := c.CrawlOne(ctx, article); err != nil {
			stats.Failed++
			c.logger.Warn().Err(err).Str("url", article.ArticleURL).Msg("article crawl failed")
		} else {
			stats.Successful++
		}

		if i < len(pending)-1 && c.requestDelay > 0 {
			select {
			case <-ctx.Done():
				stats.FinishedAt = time.Now()
				return stats, ctx.Err()
			case <-time.After(c.requestDelay):
			}
		}
	}

	stats.FinishedAt = time.Now()

	return stats, nil
}

// CrawlURLs ingests a list of URLs directly: each is upserted into
// the store and immediately crawled. A URL already in the store is
// crawled again rather than skipped, so Stats.Skipped stays zero.
func (c *Crawler) CrawlURLs(ctx context.Context, urls []string, sourceType store.SourceType, accountName string) (Stats, error) {
	stats := Stats{StartedAt: time.Now()}

	for _, rawURL := range urls {
		select {
		case <-ctx.Done():
			stats.FinishedAt = time.Now()
			return stats, ctx.Err()
		default:
		}

		stats.TotalProcessed++

		id, err := c.store.UpsertLink(ctx, store.Article{
			SourceType:  sourceType,
			AccountName: accountName,
			Title:       rawURL,
			ArticleURL:  rawURL,
		})
		if err != nil {
			stats.Failed++
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("failed to register url")

			continue
		}

		if err := c.store.MarkCrawling(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("failed to mark crawling")
		}

		if err := c.CrawlOne(ctx, store.Article{ID: id, ArticleURL: rawURL, SourceType: sourceType, AccountName: accountName}); err != nil {
			stats.Failed++
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("article crawl failed")

			continue
		}

		stats.Successful++
	}

	stats.FinishedAt = time.Now()

	return stats, nil
}

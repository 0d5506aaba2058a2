package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
)

// Crawl status values stored in articles.crawl_status. Status 0
// ("pending") is what the original status checker queried for with
// `crawl_status=0 AND article_url IS NOT NULL`.
const (
	CrawlStatusPending   int16 = 0
	CrawlStatusCrawling  int16 = 1
	CrawlStatusCompleted int16 = 2
	CrawlStatusFailed    int16 = 3
)

// SourceType enumerates where an article's URL was discovered.
type SourceType string

const (
	SourceWechat   SourceType = "wechat"
	SourceLinuxDo  SourceType = "linux_do"
	SourceNodeSeek SourceType = "nodeseek"
	SourceGeneric  SourceType = "generic"
)

// Image is one image discovered in an article's content, matching the
// original extractor's per-image dict (url plus whatever optional
// descriptive attributes the source page carried).
type Image struct {
	URL    string `json:"url"`
	Alt    string `json:"alt,omitempty"`
	Title  string `json:"title,omitempty"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

// Article is the canonical record tracked by the Article Store,
// mirroring the lifecycle described for link discovery -> content
// crawl -> forum publish.
type Article struct {
	ID               string     `json:"id"`
	SourceType       SourceType `json:"source_type"`
	AccountName      string     `json:"account_name,omitempty"`
	SiteName         string     `json:"site_name,omitempty"`
	Title            string     `json:"title"`
	ArticleURL       string     `json:"article_url"`
	PublishTimestamp *time.Time `json:"publish_timestamp,omitempty"`
	Content          string     `json:"content,omitempty"`
	Author           string     `json:"author,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Images           []Image    `json:"images,omitempty"`
	WordCount        int        `json:"word_count,omitempty"`
	CrawlStatus      int16      `json:"crawl_status"`
	CrawlAttempts    int        `json:"crawl_attempts,omitempty"`
	CrawlError       string     `json:"crawl_error,omitempty"`
	ForumPublished   *bool      `json:"forum_published,omitempty"`
	FetchedAt        *time.Time `json:"fetched_at,omitempty"`
	ExtractedAt      *time.Time `json:"extracted_at,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AccountStats summarizes the store's current state for a single WeChat
// account, used by the Workflow Engine's link-crawl gating check.
type AccountStats struct {
	AccountName string
	LastFetched *time.Time
	Count       int
}

// UpsertLink inserts a newly discovered link, or, if a row already
// exists for the same (source_type, article_url) pair, refreshes its
// fetched_at so the link-crawl freshness gate sees this account as
// just-checked, matching the discoverer's "idempotent link ingestion"
// requirement.
func (db *DB) UpsertLink(ctx context.Context, a Article) (string, error) {
	tagsJSON, err := toJSONB(a.Tags)
	if err != nil {
		return "", fmt.Errorf("%w: encode tags: %w", pipeerrs.ErrDatabase, err)
	}

	const q = `
		INSERT INTO articles (source_type, account_name, site_name, title, article_url, publish_timestamp, tags, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (source_type, article_url) DO UPDATE SET fetched_at = now()
		RETURNING id`

	var id string

	row := db.Pool.QueryRow(ctx, q,
		string(a.SourceType), toText(a.AccountName), toText(a.SiteName), a.Title, a.ArticleURL,
		toTimestamptzPtr(a.PublishTimestamp), tagsJSON,
	)
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("%w: upsert article: %w", pipeerrs.ErrDatabase, err)
	}

	return id, nil
}

// ClaimPending atomically selects up to limit articles awaiting
// content crawl and marks them "crawling" so concurrent crawler
// instances never double-claim the same row.
func (db *DB) ClaimPending(ctx context.Context, limit int) ([]Article, error) {
	const q = `
		WITH claimed AS (
			SELECT id FROM articles
			WHERE crawl_status = $1 AND article_url IS NOT NULL
			ORDER BY fetched_at ASC NULLS LAST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE articles SET crawl_status = $3, updated_at = now()
		WHERE id IN (SELECT id FROM claimed)
		RETURNING id, source_type, account_name, site_name, title, article_url, publish_timestamp,
			content, author, tags, images, word_count, crawl_status, crawl_attempts, crawl_error,
			forum_published, fetched_at, extracted_at, published_at, created_at, updated_at`

	rows, err := db.Pool.Query(ctx, q, CrawlStatusPending, limit, CrawlStatusCrawling)
	if err != nil {
		return nil, fmt.Errorf("%w: claim pending: %w", pipeerrs.ErrDatabase, err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// MarkCrawling marks a single article as actively being crawled, for
// the url-list mode of the Integrated Crawler where callers operate on
// one explicit URL rather than a claimed batch.
func (db *DB) MarkCrawling(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE articles SET crawl_status=$1, updated_at=now() WHERE id=$2`, CrawlStatusCrawling, toUUID(id))
	if err != nil {
		return fmt.Errorf("%w: mark crawling: %w", pipeerrs.ErrDatabase, err)
	}

	return nil
}

// MarkCompleted records a successful extraction result on the article.
func (db *DB) MarkCompleted(ctx context.Context, id string, content, author string, tags []string, images []Image, wordCount int) error {
	tagsJSON, err := toJSONB(tags)
	if err != nil {
		return fmt.Errorf("%w: encode tags: %w", pipeerrs.ErrDatabase, err)
	}

	imagesJSON, err := toJSONB(images)
	if err != nil {
		return fmt.Errorf("%w: encode images: %w", pipeerrs.ErrDatabase, err)
	}

	const q = `
		UPDATE articles SET
			crawl_status=$1, content=$2, author=$3, tags=$4, images=$5,
			word_count=$6, crawl_error=NULL, extracted_at=now(), updated_at=now()
		WHERE id=$7`

	_, err = db.Pool.Exec(ctx, q, CrawlStatusCompleted, toText(content), toText(author), tagsJSON, imagesJSON, wordCount, toUUID(id))
	if err != nil {
		return fmt.Errorf("%w: mark completed: %w", pipeerrs.ErrDatabase, err)
	}

	return nil
}

// MarkFailed records an extraction failure and increments
// crawl_attempts. The article stays in the failed status; ClaimPending
// selects only pending rows, so it is not claimed again.
func (db *DB) MarkFailed(ctx context.Context, id string, crawlErr error) error {
	const q = `
		UPDATE articles SET
			crawl_status=$1, crawl_attempts = crawl_attempts + 1, crawl_error=$2, updated_at=now()
		WHERE id=$3`

	_, err := db.Pool.Exec(ctx, q, CrawlStatusFailed, toText(crawlErr.Error()), toUUID(id))
	if err != nil {
		return fmt.Errorf("%w: mark failed: %w", pipeerrs.ErrDatabase, err)
	}

	return nil
}

// ClaimUnpublished selects up to limit extracted-but-not-yet-published
// articles, newest publish time first, matching the original forum
// publisher's "get pending articles" query. The rows are neither
// locked nor marked, so two concurrent callers can select the same
// article.
func (db *DB) ClaimUnpublished(ctx context.Context, limit int) ([]Article, error) {
	const q = `
		SELECT id, source_type, account_name, site_name, title, article_url, publish_timestamp,
			content, author, tags, images, word_count, crawl_status, crawl_attempts, crawl_error,
			forum_published, fetched_at, extracted_at, published_at, created_at, updated_at
		FROM articles
		WHERE forum_published IS NULL AND content IS NOT NULL AND content != ''
		ORDER BY publish_timestamp DESC NULLS LAST
		LIMIT $1`

	rows, err := db.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim unpublished: %w", pipeerrs.ErrDatabase, err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// MarkPublished flags an article as republished to the forum.
func (db *DB) MarkPublished(ctx context.Context, id string) error {
	published := true

	_, err := db.Pool.Exec(ctx, `UPDATE articles SET forum_published=$1, published_at=now(), updated_at=now() WHERE id=$2`, toBool(&published), toUUID(id))
	if err != nil {
		return fmt.Errorf("%w: mark published: %w", pipeerrs.ErrDatabase, err)
	}

	return nil
}

// AccountStatsFor returns the last-fetched timestamp and total article
// count for a single WeChat account, used by the link-crawl gating
// check's 12-hour freshness heuristic.
func (db *DB) AccountStatsFor(ctx context.Context, account string) (AccountStats, error) {
	const q = `SELECT MAX(fetched_at), COUNT(*) FROM articles WHERE account_name=$1`

	var stats AccountStats
	stats.AccountName = account

	var lastFetched pgtype.Timestamptz

	row := db.Pool.QueryRow(ctx, q, account)
	if err := row.Scan(&lastFetched, &stats.Count); err != nil {
		return stats, fmt.Errorf("%w: account stats: %w", pipeerrs.ErrDatabase, err)
	}

	stats.LastFetched = fromTimestamptzPtr(lastFetched)

	return stats, nil
}

// CountPendingContentCrawl matches the original's
// `SELECT COUNT(*) FROM wechat_articles WHERE crawl_status=0 AND article_url IS NOT NULL`.
func (db *DB) CountPendingContentCrawl(ctx context.Context) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles WHERE crawl_status=$1 AND article_url IS NOT NULL`, CrawlStatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count pending content crawl: %w", pipeerrs.ErrDatabase, err)
	}

	return count, nil
}

// CountPendingForumPublish matches the original's
// `SELECT COUNT(*) FROM wechat_articles WHERE forum_published IS NULL AND content IS NOT NULL AND content!=''`.
func (db *DB) CountPendingForumPublish(ctx context.Context) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles WHERE forum_published IS NULL AND content IS NOT NULL AND content != ''`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count pending forum publish: %w", pipeerrs.ErrDatabase, err)
	}

	return count, nil
}

func scanArticles(rows pgx.Rows) ([]Article, error) {
	var out []Article

	for rows.Next() {
		a, err := scanArticleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan article: %w", pipeerrs.ErrDatabase, err)
		}

		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate articles: %w", pipeerrs.ErrDatabase, err)
	}

	return out, nil
}

func scanArticleRow(rows pgx.Rows) (Article, error) {
	var (
		a                                       Article
		rowID                                   pgtype.UUID
		sourceType                              string
		accountName, siteName                   pgtype.Text
		content, author, crawlErr               pgtype.Text
		tagsRaw, imagesRaw                      []byte
		publishTS, fetchedAt, extractedAt        pgtype.Timestamptz
		publishedAt                             pgtype.Timestamptz
		createdAt, updatedAt                     time.Time
		forumPublished                           pgtype.Bool
	)

	if err := rows.Scan(
		&rowID, &sourceType, &accountName, &siteName, &a.Title, &a.ArticleURL, &publishTS,
		&content, &author, &tagsRaw, &imagesRaw, &a.WordCount, &a.CrawlStatus, &a.CrawlAttempts, &crawlErr,
		&forumPublished, &fetchedAt, &extractedAt, &publishedAt, &createdAt, &updatedAt,
	); err != nil {
		return a, err
	}

	a.ID = fromUUID(rowID)
	a.SourceType = SourceType(sourceType)
	a.AccountName = fromText(accountName)
	a.SiteName = fromText(siteName)
	a.Content = fromText(content)
	a.Author = fromText(author)
	a.CrawlError = fromText(crawlErr)
	a.Tags = fromJSONBStrings(tagsRaw)
	a.Images = fromJSONBImages(imagesRaw)
	a.ForumPublished = fromBool(forumPublished)
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	a.PublishTimestamp = fromTimestamptzPtr(publishTS)
	a.FetchedAt = fromTimestamptzPtr(fetchedAt)
	a.ExtractedAt = fromTimestamptzPtr(extractedAt)
	a.PublishedAt = fromTimestamptzPtr(publishedAt)

	return a, nil
}

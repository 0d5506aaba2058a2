package forum

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/config"
	"github.com/sifangyu/weipc/internal/platform/observability"
	"github.com/sifangyu/weipc/internal/store"
)

// Stats summarizes one batch publish run.
type Stats struct {
	TotalProcessed int
	Successful     int
	Failed         int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// ArticleSource is the subset of *store.DB the Republisher needs.
type ArticleSource interface {
	ClaimUnpublished(ctx context.Context, limit int) ([]store.Article, error)
	MarkPublished(ctx context.Context, id string) error
}

// Republisher drives forum_publish: claim unpublished articles, write
// each to Discuz, pace between publishes.
type Republisher struct {
	db       *DB
	settings config.ForumSettings
	logger   zerolog.Logger
	rng      *rand.Rand
}

// New constructs a Republisher against an open Discuz DB.
func New(db *DB, settings config.ForumSettings, logger zerolog.Logger) *Republisher {
	return &Republisher{
		db:       db,
		settings: settings,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // publish pacing jitter, not security sensitive
	}
}

// Batch claims up to limit unpublished articles from source and
// publishes each, sleeping a uniform-random duration in
// [intervalMin, intervalMax] between publishes, matching the
// forum_publish step's configured pacing.
func (r *Republisher) Batch(ctx context.Context, source ArticleSource, limit int, intervalMin, intervalMax time.Duration) (Stats, error) {
	stats := Stats{StartedAt: time.Now()}

	pending, err := source.ClaimUnpublished(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("%w: claim unpublished articles: %w", pipeerrs.ErrDatabase, err)
	}

	observability.ForumPublishPending.Set(float64(len(pending)))

	for i, article := range pending {
		select {
		case <-ctx.Done():
			stats.FinishedAt = time.Now()
			return stats, ctx.Err()
		default:
		}

		stats.TotalProcessed++

		err := r.db.Publish(ctx, Article{Title: article.Title, Content: article.Content}, r.settings)
		if err != nil {
			stats.Failed++
			observability.ForumPublishAttempts.WithLabelValues("publish_error").Inc()
			r.logger.Warn().Err(err).Str("article_id", article.ID).Msg("forum publish failed")
		} else if markErr := source.MarkPublished(ctx, article.ID); markErr != nil {
			stats.Failed++
			observability.ForumPublishAttempts.WithLabelValues("mark_published_error").Inc()
			r.logger.Warn().Err(markErr).Str("article_id", article.ID).Msg("failed to record published status")
		} else {
			stats.Successful++
			observability.ForumPublishAttempts.WithLabelValues("success").Inc()
			r.logger.Info().Str("article_id", article.ID).Msg("article published to forum")
		}

		if i < len(pending)-1 {
			if err := r.sleepInterval(ctx, intervalMin, intervalMax); err != nil {
				stats.FinishedAt = time.Now()
				return stats, err
			}
		}
	}

	stats.FinishedAt = time.Now()

	return stats, nil
}

func (r *Republisher) sleepInterval(ctx context.Context, min, max time.Duration) error {
	delay := min
	if max > min {
		delay = min + time.Duration(r.rng.Int63n(int64(max-min)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Package main is the entrypoint for the content pipeline service.
//
// The service supports two operational modes via the --mode flag:
//   - serve: runs the control-plane HTTP API and the in-process
//     scheduler, waiting for triggers until the process is signaled
//     to stop.
//   - run: executes the three-step workflow once (optionally starting
//     from --from-step or resuming --execution-id) and exits, using
//     the exit codes external callers key off of (0 success, 2
//     credentials expired, 3 rate limited, 1 any other failure).
//
// Example:
//
//	go run ./cmd/pipeline --mode=run
//	go run ./cmd/pipeline --mode=serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"

	"github.com/sifangyu/weipc/internal/browser"
	"github.com/sifangyu/weipc/internal/control"
	"github.com/sifangyu/weipc/internal/crawler"
	"github.com/sifangyu/weipc/internal/extract"
	"github.com/sifangyu/weipc/internal/forum"
	"github.com/sifangyu/weipc/internal/platform/config"
	"github.com/sifangyu/weipc/internal/platform/schedule"
	"github.com/sifangyu/weipc/internal/sites"
	"github.com/sifangyu/weipc/internal/store"
	"github.com/sifangyu/weipc/internal/wechat"
	"github.com/sifangyu/weipc/internal/workflow"
)

const (
	modeServe = "serve"
	modeRun   = "run"

	exitSuccess             = 0
	exitGenericFailure      = 1
	exitCredentialsExpired  = 2
	exitRateLimited         = 3

	wechatRequestsPerSecond = 1
)

func main() {
	mode := flag.String("mode", modeServe, "Service mode (serve, run)")
	fromStep := flag.String("from-step", "", "Step to start a run from (link_crawl, content_crawl, forum_publish)")
	executionID := flag.String("execution-id", "", "Resume a previously interrupted execution by id")

	flag.Parse()

	cfg, settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitGenericFailure)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg, settings, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start pipeline")
	}
	defer app.Close()

	switch *mode {
	case modeServe:
		if err := app.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("pipeline server stopped with error")
		}
	case modeRun:
		os.Exit(app.RunOnce(ctx, *fromStep, *executionID))
	default:
		logger.Fatal().Str("mode", *mode).Msg("invalid service mode")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// pipeline owns every long-lived component wired together for one
// running process.
type pipeline struct {
	cfg      *config.Config
	settings *config.Settings
	logger   *zerolog.Logger

	db        *store.DB
	forumDB   *forum.DB
	fetcher   *browser.Fetcher
	discoverer *wechat.Crawler

	engine    *workflow.Engine
	tracker   *workflow.Tracker
	schedules *schedule.Store
	control   *control.Server
}

func bootstrap(ctx context.Context, cfg *config.Config, settings *config.Settings, logger *zerolog.Logger) (*pipeline, error) {
	db, err := store.NewWithOptions(ctx, cfg.PostgresDSN, store.PoolOptions{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect article store: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate article store: %w", err)
	}

	forumDB, err := forum.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect forum database: %w", err)
	}

	auth, err := wechat.LoadAuthInfo(cfg.WechatAuthPath)
	if err != nil {
		return nil, fmt.Errorf("load wechat auth info: %w", err)
	}

	accounts, err := wechat.LoadAccountCache(cfg.WechatAccountsPath)
	if err != nil {
		return nil, fmt.Errorf("load wechat account cache: %w", err)
	}

	discoverer := wechat.New(auth, accounts, *logger, wechatRequestsPerSecond)

	jar, err := browser.LoadJar(filepath.Join(cfg.CookieDir, "jar.json"))
	if err != nil {
		return nil, fmt.Errorf("load cookie jar: %w", err)
	}

	registry, err := sites.NewRegistry(settings.Sites, *logger)
	if err != nil {
		return nil, fmt.Errorf("build site registry: %w", err)
	}

	fetcherOpts := browser.DefaultOptions()
	fetcherOpts.CFWaitTime = time.Duration(settings.CFCJ.CFWaitTimeSec) * time.Second
	fetcherOpts.RequestDelay = time.Duration(settings.CFCJ.RequestDelayMS) * time.Millisecond
	fetcherOpts.MaxRetries = settings.CFCJ.MaxRetries
	fetcherOpts.PageLoadTimeout = time.Duration(settings.CFCJ.PageLoadTimeoutS) * time.Second

	fetcher := browser.New(jar, fetcherOpts, registry.LoginsByDomain(), *logger)
	if err := fetcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("start browser fetcher: %w", err)
	}

	extractor := extract.New(registry, *logger)

	requestDelay := time.Duration(settings.CFCJ.RequestDelayMS) * time.Millisecond

	contentCrawler := crawler.New(db, fetcher, extractor, wechatRequestsPerSecond, requestDelay, *logger)
	republisher := forum.New(forumDB, settings.Forum, *logger)

	tracker, err := workflow.NewTracker(cfg.ProgressDir)
	if err != nil {
		fetcher.Stop()
		return nil, fmt.Errorf("open execution tracker: %w", err)
	}

	checker := workflow.NewStatusChecker(db, db)

	steps := map[string]workflow.StepFunc{
		workflow.StepLinkCrawl:    linkCrawlStep(discoverer, db, *logger),
		workflow.StepContentCrawl: contentCrawlStep(contentCrawler),
		workflow.StepForumPublish: forumPublishStep(republisher, db),
	}

	engine := workflow.NewEngine(checker, tracker, steps, *logger)

	schedules, err := schedule.OpenStore(cfg.SchedulePath)
	if err != nil {
		fetcher.Stop()
		return nil, fmt.Errorf("open schedule store: %w", err)
	}

	p := &pipeline{
		cfg: cfg, settings: settings, logger: logger,
		db: db, forumDB: forumDB, fetcher: fetcher, discoverer: discoverer,
		engine: engine, tracker: tracker, schedules: schedules,
	}

	p.control = control.NewServer(cfg.HealthPort, db, discoverer, contentCrawler, republisher, schedules, *logger)

	return p, nil
}

func (p *pipeline) Close() {
	p.fetcher.Stop()
	_ = p.forumDB.Close()
	p.db.Close()
}

// Serve runs the control-plane HTTP API and the schedule ticker
// concurrently until ctx is cancelled.
func (p *pipeline) Serve(ctx context.Context) error {
	scheduler := schedule.NewScheduler(p.schedules, p.triggerScheduledRun, *p.logger)

	errCh := make(chan error, 2)

	go func() { errCh <- p.control.Start(ctx) }()
	go func() { errCh <- scheduler.Run(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh

		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// triggerScheduledRun is the Scheduler's Trigger callback: it runs the
// workflow starting from the fired entry's step, respecting the
// control server's single-execution guard so a scheduled and an
// HTTP-triggered run can never overlap.
func (p *pipeline) triggerScheduledRun(entry schedule.Entry) {
	if !p.control.TryAcquireRun() {
		p.logger.Warn().Str("entry_id", entry.ID).Msg("skipping scheduled trigger, an execution is already running")
		return
	}
	defer p.control.ReleaseRun()

	runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	result, err := p.engine.Run(runCtx, p.settings.Workflow, entry.Step)
	if err != nil {
		p.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("scheduled workflow run failed")
		return
	}

	p.logger.Info().Str("entry_id", entry.ID).Str("execution_id", result.ExecutionID).Bool("success", result.Success).Msg("scheduled workflow run finished")
}

// RunOnce executes (or resumes) the workflow once and returns the
// process exit code callers should use.
func (p *pipeline) RunOnce(ctx context.Context, fromStep, executionID string) int {
	var (
		result workflow.RunResult
		err    error
	)

	if executionID != "" {
		result, err = p.engine.Resume(ctx, p.settings.Workflow, executionID)
	} else {
		result, err = p.engine.Run(ctx, p.settings.Workflow, fromStep)
	}

	if err != nil {
		return exitCodeFor(err, p.logger)
	}

	if !result.Success {
		p.logger.Error().Str("execution_id", result.ExecutionID).Str("status", string(result.Status)).Msg("workflow run did not complete successfully")

		if result.Err != nil {
			return exitCodeFor(result.Err, p.logger)
		}

		return exitGenericFailure
	}

	p.logger.Info().Str("execution_id", result.ExecutionID).Msg("workflow run completed")

	return exitSuccess
}

func exitCodeFor(err error, logger *zerolog.Logger) int {
	switch {
	case pipeerrs.Is(err, pipeerrs.ErrCredentialsExpired):
		logger.Error().Err(err).Msg("workflow run stopped: credentials expired")
		return exitCredentialsExpired
	case pipeerrs.Is(err, pipeerrs.ErrRateLimited):
		logger.Error().Err(err).Msg("workflow run stopped: rate limited")
		return exitRateLimited
	default:
		logger.Error().Err(err).Msg("workflow run failed")
		return exitGenericFailure
	}
}

// linkCrawlStep discovers recent articles for every configured account
// and upserts each as a new pending link.
func linkCrawlStep(discoverer *wechat.Crawler, articleStore *store.DB, logger zerolog.Logger) workflow.StepFunc {
	return func(ctx context.Context, params map[string]interface{}) (workflow.StepResult, error) {
		limitPerAccount := workflow.ParamInt(params, "limit_per_account", 3)
		accounts := workflow.ParamAccounts(params)

		discovered := 0

		for _, account := range accounts {
			articles, err := discoverer.GetArticles(ctx, account, limitPerAccount)
			if err != nil {
				return workflow.StepResult{}, fmt.Errorf("discover articles for %s: %w", account, err)
			}

			for _, a := range articles {
				pub := a.PublishTimestamp

				if _, err := articleStore.UpsertLink(ctx, store.Article{
					SourceType:       store.SourceWechat,
					AccountName:      a.AccountName,
					Title:            a.Title,
					ArticleURL:       a.ArticleURL,
					PublishTimestamp: &pub,
				}); err != nil {
					logger.Warn().Err(err).Str("url", a.ArticleURL).Msg("failed to upsert discovered link")
					continue
				}

				discovered++
			}
		}

		return workflow.StepResult{
			Message: fmt.Sprintf("discovered %d new links across %d accounts", discovered, len(accounts)),
			Details: map[string]any{"discovered": discovered, "accounts": len(accounts)},
		}, nil
	}
}

// contentCrawlStep claims and extracts pending articles.
func contentCrawlStep(contentCrawler *crawler.Crawler) workflow.StepFunc {
	return func(ctx context.Context, params map[string]interface{}) (workflow.StepResult, error) {
		limit := workflow.ParamInt(params, "limit", 50)

		stats, err := contentCrawler.Batch(ctx, limit)
		if err != nil {
			return workflow.StepResult{}, err
		}

		return workflow.StepResult{
			Message: fmt.Sprintf("processed %d articles, %d succeeded, %d failed", stats.TotalProcessed, stats.Successful, stats.Failed),
			Details: map[string]any{"total": stats.TotalProcessed, "successful": stats.Successful, "failed": stats.Failed},
		}, nil
	}
}

// forumPublishStep republishes extracted-but-unpublished articles.
func forumPublishStep(republisher *forum.Republisher, articleStore *store.DB) workflow.StepFunc {
	return func(ctx context.Context, params map[string]interface{}) (workflow.StepResult, error) {
		limit := workflow.ParamInt(params, "limit", 100)
		intervalMin := time.Duration(workflow.ParamInt(params, "interval_min", 60)) * time.Second
		intervalMax := time.Duration(workflow.ParamInt(params, "interval_max", 120)) * time.Second

		stats, err := republisher.Batch(ctx, articleStore, limit, intervalMin, intervalMax)
		if err != nil {
			return workflow.StepResult{}, err
		}

		return workflow.StepResult{
			Message: fmt.Sprintf("published %d articles, %d failed", stats.Successful, stats.Failed),
			Details: map[string]any{"successful": stats.Successful, "failed": stats.Failed},
		}, nil
	}
}

// Package control exposes the pipeline's HTTP trigger surface: on-demand
// crawl/publish triggers, status reads, and schedule management. No
// extraction or publish logic lives here; every handler delegates to
// the Integrated Crawler, Discuz Republisher, or WeChat Link Discoverer
// and serializes their result.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sifangyu/weipc/internal/crawler"
	"github.com/sifangyu/weipc/internal/forum"
	pipeerrs "github.com/sifangyu/weipc/internal/core/errors"
	"github.com/sifangyu/weipc/internal/platform/schedule"
	"github.com/sifangyu/weipc/internal/store"
	"github.com/sifangyu/weipc/internal/wechat"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second

	defaultCrawlLimit        = 10
	defaultContentCrawlLimit = 50
	defaultForumPublishLimit = 100
	defaultIntervalMinSec    = 60
	defaultIntervalMaxSec    = 120

	forumPublishStatusSampleSize = 5
)

// LinkDiscoverer is the subset of *wechat.Crawler the /crawl handler
// needs.
type LinkDiscoverer interface {
	GetArticles(ctx context.Context, accountName string, limit int) ([]wechat.Article, error)
}

// ArticleStore is the subset of *store.DB the control surface reads
// and writes directly (outside the Crawler/Republisher's own narrower
// interfaces).
type ArticleStore interface {
	UpsertLink(ctx context.Context, a store.Article) (string, error)
	CountPendingContentCrawl(ctx context.Context) (int, error)
	CountPendingForumPublish(ctx context.Context) (int, error)
	ClaimUnpublished(ctx context.Context, limit int) ([]store.Article, error)
	MarkPublished(ctx context.Context, id string) error
}

// ContentCrawler is the subset of *crawler.Crawler the /crawl_content
// handler drives.
type ContentCrawler interface {
	Batch(ctx context.Context, limit int) (crawler.Stats, error)
}

// ForumPublisher is the subset of *forum.Republisher the
// /batch_publish_forum handler drives.
type ForumPublisher interface {
	Batch(ctx context.Context, source forum.ArticleSource, limit int, intervalMin, intervalMax time.Duration) (forum.Stats, error)
}

// Server serves the pipeline's trigger API. A single run mutex ensures
// at most one crawl/publish operation is in flight at a time, matching
// the "no parallel executions" resource-model invariant.
type Server struct {
	port int

	store       ArticleStore
	discoverer  LinkDiscoverer
	crawler     ContentCrawler
	republisher ForumPublisher
	schedules   *schedule.Store

	logger zerolog.Logger

	runMu   sync.Mutex
	running bool
}

// NewServer constructs the control-plane HTTP server.
func NewServer(
	port int,
	articleStore ArticleStore,
	discoverer LinkDiscoverer,
	crawlerSvc ContentCrawler,
	republisher ForumPublisher,
	schedules *schedule.Store,
	logger zerolog.Logger,
) *Server {
	return &Server{
		port:        port,
		store:       articleStore,
		discoverer:  discoverer,
		crawler:     crawlerSvc,
		republisher: republisher,
		schedules:   schedules,
		logger:      logger,
	}
}

// Start runs the HTTP server until ctx is cancelled, shutting down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "OK")
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/crawl", s.handleCrawl)
	mux.HandleFunc("/crawl_content", s.handleCrawlContent)
	mux.HandleFunc("/batch_publish_forum", s.handleBatchPublishForum)
	mux.HandleFunc("/forum_publish_status", s.handleForumPublishStatus)
	mux.HandleFunc("/api/crawl_status", s.handleCrawlStatus)
	mux.HandleFunc("/schedule", s.handleAddSchedule(schedule.Daily))
	mux.HandleFunc("/schedule_content", s.handleAddSchedule(schedule.Daily))
	mux.HandleFunc("/delete_schedule", s.handleDeleteSchedule)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("control server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control http server: %w", err)
	}

	return nil
}

// acquireRun enforces the single-in-flight-execution invariant. It
// returns false if another run is already in progress.
func (s *Server) acquireRun() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return false
	}

	s.running = true

	return true
}

func (s *Server) releaseRun() {
	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()
}

// TryAcquireRun attempts to claim the single-execution slot, for
// callers outside the HTTP handlers (the scheduler's trigger) that
// must respect the same "no parallel executions" guard.
func (s *Server) TryAcquireRun() bool { return s.acquireRun() }

// ReleaseRun releases the slot claimed by TryAcquireRun.
func (s *Server) ReleaseRun() { s.releaseRun() }

type crawlRequest struct {
	Account string `json:"account"`
	Limit   int    `json:"limit"`
}

type crawlResponse struct {
	Summary  crawler.Stats  `json:"summary"`
	Articles []store.Article `json:"articles,omitempty"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req crawlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultCrawlLimit
	}

	if !s.acquireRun() {
		writeError(w, http.StatusConflict, errExecutionInProgress)
		return
	}
	defer s.releaseRun()

	ctx := r.Context()

	articles, err := s.discoverer.GetArticles(ctx, req.Account, req.Limit)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	discovered := make([]store.Article, 0, len(articles))

	for _, a := range articles {
		pub := a.PublishTimestamp
		id, err := s.store.UpsertLink(ctx, store.Article{
			SourceType:       store.SourceWechat,
			AccountName:      a.AccountName,
			Title:            a.Title,
			ArticleURL:       a.ArticleURL,
			PublishTimestamp: &pub,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("url", a.ArticleURL).Msg("failed to upsert discovered link")
			continue
		}

		discovered = append(discovered, store.Article{ID: id, Title: a.Title, ArticleURL: a.ArticleURL, AccountName: a.AccountName})
	}

	writeJSON(w, http.StatusOK, crawlResponse{
		Summary:  crawler.Stats{TotalProcessed: len(articles), Successful: len(discovered), Failed: len(articles) - len(discovered)},
		Articles: discovered,
	})
}

type crawlContentRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleCrawlContent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req crawlContentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultContentCrawlLimit
	}

	if !s.acquireRun() {
		writeError(w, http.StatusConflict, errExecutionInProgress)
		return
	}
	defer s.releaseRun()

	stats, err := s.crawler.Batch(r.Context(), req.Limit)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type batchPublishRequest struct {
	Limit       int `json:"limit"`
	IntervalMin int `json:"interval_min"`
	IntervalMax int `json:"interval_max"`
}

func (s *Server) handleBatchPublishForum(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req batchPublishRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultForumPublishLimit
	}

	if req.IntervalMin <= 0 {
		req.IntervalMin = defaultIntervalMinSec
	}

	if req.IntervalMax <= 0 {
		req.IntervalMax = defaultIntervalMaxSec
	}

	if !s.acquireRun() {
		writeError(w, http.StatusConflict, errExecutionInProgress)
		return
	}
	defer s.releaseRun()

	stats, err := s.republisher.Batch(r.Context(), s.store, req.Limit,
		time.Duration(req.IntervalMin)*time.Second, time.Duration(req.IntervalMax)*time.Second)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleForumPublishStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	pending, err := s.store.CountPendingForumPublish(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sample, err := s.store.ClaimUnpublished(r.Context(), forumPublishStatusSampleSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending_count": pending,
		"sample":        sample,
	})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	pendingContent, err := s.store.CountPendingContentCrawl(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	pendingForum, err := s.store.CountPendingForumPublish(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending_content_crawl": pendingContent,
		"pending_forum_publish": pendingForum,
	})
}

type addScheduleRequest struct {
	Step         string                 `json:"type"`
	ScheduleType schedule.ScheduleType  `json:"schedule_type"`
	Days         []time.Weekday         `json:"days,omitempty"`
	Time         string                 `json:"time"`
	Params       map[string]interface{} `json:"params,omitempty"`
}

func (s *Server) handleAddSchedule(defaultType schedule.ScheduleType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		var req addScheduleRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if req.ScheduleType == "" {
			req.ScheduleType = defaultType
		}

		entry := schedule.Entry{
			ID:           newEntryID(),
			Step:         req.Step,
			ScheduleType: req.ScheduleType,
			Days:         req.Days,
			Time:         req.Time,
			Params:       req.Params,
		}

		if err := s.schedules.Add(entry); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		writeJSON(w, http.StatusOK, entry)
	}
}

type deleteScheduleRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req deleteScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.schedules.Delete(req.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

var errExecutionInProgress = errors.New("an execution is already in progress")

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	return true
}

func decodeBody(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}

	defer r.Body.Close()

	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeTriggerError maps the pipeline's error taxonomy onto HTTP
// status codes, mirroring the exit-code mapping the CLI trigger uses.
func writeTriggerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeerrs.ErrCredentialsExpired):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pipeerrs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func newEntryID() string {
	return fmt.Sprintf("sched-%d", time.Now().UnixNano())
}

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"litigation-backend/internal/browser"
	"litigation-backend/internal/credentials"
	"litigation-backend/internal/queue"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/shared/util"
)

const (
	defaultInterceptTimeout = 30 * time.Second
	defaultScrapeTimeout    = 60 * time.Second
	defaultDelayMin         = time.Second
	defaultDelayMax         = 2 * time.Second
	defaultRunTimeout       = 30 * time.Minute
)

// TokenProvider resolves tokens and adapts them for HTTP clients.
type TokenProvider interface {
	Resolve(ctx context.Context, site, account string) (credentials.Token, error)
	TokenSource(ctx context.Context, site, account string) oauth2.TokenSource
}

// DocumentCapturer is the interception path.
type DocumentCapturer interface {
	Capture(ctx context.Context, spec browser.InterceptSpec) ([]byte, error)
}

// DocumentScraper is the DOM fallback path.
type DocumentScraper interface {
	Scrape(ctx context.Context, spec browser.ScrapeSpec) ([]browser.ScrapedDocument, error)
}

// Service runs document retrieval tasks.
type Service struct {
	Repo       Repo
	Tokens     TokenProvider
	Capturer   DocumentCapturer
	Scraper    DocumentScraper
	Downloader *Downloader
	Queue      queue.Client
	// ExecuteInProcess runs submitted tasks on a goroutine when no queue is configured.
	ExecuteInProcess bool

	Site             string
	TaskURLTemplate  string
	DocumentsPattern string
	StorageKey       string
	ItemSelector     string
	InterceptTimeout time.Duration
	ScrapeTimeout    time.Duration
	DelayMin         time.Duration
	DelayMax         time.Duration
	// RunTimeout bounds a shared run once it no longer follows any caller's context.
	RunTimeout time.Duration

	// HTTPClient builds the download client; defaults to oauth2.NewClient.
	HTTPClient func(ctx context.Context, ts oauth2.TokenSource) *http.Client
	// Sleep waits between downloads; defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	runs    singleflight.Group
	logOnce sync.Once
	log     zerolog.Logger
}

// Submit stores a pending task and hands it to the queue.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (DocumentTask, error) {
	taskRef := strings.TrimSpace(in.TaskRef)
	if taskRef == "" {
		return DocumentTask{}, fmt.Errorf("%w: taskRef is required", ErrInvalidInput)
	}
	now := s.now()
	task := DocumentTask{
		ID:        uuid.NewString(),
		TaskRef:   taskRef,
		CaseRef:   strings.TrimSpace(in.CaseRef),
		Account:   strings.TrimSpace(in.Account),
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.CreateTask(ctx, task); err != nil {
		return DocumentTask{}, err
	}

	switch {
	case s.Queue != nil:
		msg := queue.Message{
			Kind:       queue.KindDocumentsExecute,
			TargetID:   task.ID,
			RequestID:  util.RequestIDFromContext(ctx),
			EnqueuedAt: now.Format(time.RFC3339),
			Version:    1,
		}
		if err := s.Queue.Send(ctx, msg); err != nil {
			task.Status = TaskFailed
			task.Error = "enqueue failed"
			task.UpdatedAt = s.now()
			if uerr := s.Repo.UpdateTask(context.WithoutCancel(ctx), task); uerr != nil {
				s.logger().Error().Err(uerr).Str("taskId", task.ID).Msg("retrieval.status_update_failed")
			}
			return DocumentTask{}, fmt.Errorf("enqueue document task: %w", err)
		}
	case s.ExecuteInProcess:
		go func(ctx context.Context, id string) {
			if _, err := s.Execute(ctx, id); err != nil {
				s.logger().Warn().Err(err).Str("taskId", id).Msg("retrieval.execute_async_failed")
			}
		}(util.Detach(ctx), task.ID)
	}

	s.logger().Info().Str("taskId", task.ID).Str("taskRef", task.TaskRef).Msg("retrieval.submitted")
	return task, nil
}

// Get returns the task with its records.
func (s *Service) Get(ctx context.Context, id string) (TaskSummary, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return TaskSummary{}, err
	}
	recs, err := s.Repo.ListRecords(ctx, id)
	if err != nil {
		return TaskSummary{}, err
	}
	if recs == nil {
		recs = []DocumentRecord{}
	}
	return TaskSummary{Task: task, Records: recs}, nil
}

// Execute discovers and downloads the task's documents. Concurrent calls for the same
// task share one run. The run is detached from the callers' contexts and bounded by
// RunTimeout; a caller whose context ends stops waiting and gets ctx.Err().
func (s *Service) Execute(ctx context.Context, id string) (DocumentTask, error) {
	type result struct {
		task DocumentTask
		err  error
	}
	ch := s.runs.DoChan(id, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout())
		defer cancel()
		task, err := s.run(rctx, id)
		return result{task: task, err: err}, nil
	})
	select {
	case <-ctx.Done():
		return DocumentTask{}, ctx.Err()
	case r := <-ch:
		out := r.Val.(result)
		return out.task, out.err
	}
}

func (s *Service) run(ctx context.Context, id string) (DocumentTask, error) {
	task, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return DocumentTask{}, err
	}
	store := context.WithoutCancel(ctx)
	log := s.logger().With().Str("taskId", task.ID).Str("taskRef", task.TaskRef).Logger()

	task.Status = TaskRunning
	task.Error = ""
	task.UpdatedAt = s.now()
	if err := s.Repo.UpdateTask(store, task); err != nil {
		return DocumentTask{}, err
	}

	tok, err := s.Tokens.Resolve(ctx, s.Site, task.Account)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNoTokenAvailable, err)
		return s.fail(store, task, err), err
	}

	docs, strategy, err := s.discover(ctx, task, tok.Value)
	task.Strategy = strategy
	if err != nil {
		metrics.IncDocumentDiscovery("failed")
		wrapped := eris.Wrap(err, "discover documents")
		log.Error().Str("strategy", strategy).Interface("trace", eris.ToJSON(wrapped, true)).Msg("retrieval.discovery_failed")
		return s.fail(store, task, wrapped), fmt.Errorf("discover documents: %w", err)
	}
	metrics.IncDocumentDiscovery(strategy)
	if deduped := DedupeDiscovered(docs); len(deduped) != len(docs) {
		log.Warn().Int("listed", len(docs)).Int("distinct", len(deduped)).Msg("retrieval.duplicate_documents")
		docs = deduped
	}

	recs := s.toRecords(task, docs)
	batch := UpsertBatch(store, s.Repo, recs)
	for key, uerr := range batch.Errors {
		log.Error().Err(uerr).Str("document", key).Msg("retrieval.record_upsert_failed")
	}
	task.Discovered = len(docs)
	task.Downloaded = 0
	task.Failed = batch.Failed
	task.UpdatedAt = s.now()
	if err := s.Repo.UpdateTask(store, task); err != nil {
		return DocumentTask{}, err
	}
	log.Info().Str("strategy", strategy).Int("discovered", len(docs)).Int("persisted", batch.Succeeded).Msg("retrieval.discovered")

	client := s.httpClient(ctx, s.Tokens.TokenSource(ctx, s.Site, tok.Account))
	first := true
	for _, rec := range batch.Records {
		if rec.Status == RecordSuccess && rec.FilePath != "" {
			task.Downloaded++
			continue
		}
		if !first {
			if err := s.sleep(ctx, s.jitter()); err != nil {
				return s.fail(store, task, err), err
			}
		}
		first = false

		if s.downloadOne(ctx, store, client, rec, log) {
			task.Downloaded++
		} else {
			task.Failed++
		}
		task.UpdatedAt = s.now()
		if err := s.Repo.UpdateTask(store, task); err != nil {
			log.Error().Err(err).Msg("retrieval.progress_update_failed")
		}
	}

	task.Status = TaskSucceeded
	if task.Failed > 0 {
		task.Error = fmt.Sprintf("%d of %d documents failed", task.Failed, task.Discovered)
	}
	task.UpdatedAt = s.now()
	if err := s.Repo.UpdateTask(store, task); err != nil {
		return DocumentTask{}, err
	}
	metrics.IncDocumentTask(task.Status)
	log.Info().
		Str("strategy", task.Strategy).
		Int("downloaded", task.Downloaded).
		Int("failed", task.Failed).
		Msg("retrieval.completed")
	return task, nil
}

// discover tries interception first and falls back to scraping. When both fail the
// error carries both causes.
func (s *Service) discover(ctx context.Context, task DocumentTask, token string) ([]Discovered, string, error) {
	pageURL := s.pageURL(task.TaskRef)
	log := s.logger().With().Str("taskId", task.ID).Logger()

	docs, interceptErr := s.intercept(ctx, pageURL, token)
	if interceptErr == nil {
		return docs, StrategyInterception, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, StrategyInterception, err
	}
	log.Warn().Err(interceptErr).
		Bool("timeout", errors.Is(interceptErr, ErrInterceptionTimeout)).
		Msg("retrieval.fallback_triggered")

	sctx, cancel := context.WithTimeout(ctx, s.scrapeTimeout())
	defer cancel()
	scraped, scrapeErr := s.Scraper.Scrape(sctx, browser.ScrapeSpec{
		PageURL:      pageURL,
		Token:        token,
		StorageKey:   s.StorageKey,
		ItemSelector: s.ItemSelector,
	})
	if scrapeErr == nil {
		if docs := fromScraped(scraped); len(docs) > 0 {
			return docs, StrategyFallback, nil
		}
		scrapeErr = browser.ErrNoDocumentsFound
	}
	return nil, StrategyFallback, &FallbackFailedError{Interception: interceptErr, Fallback: scrapeErr}
}

func (s *Service) intercept(ctx context.Context, pageURL, token string) ([]Discovered, error) {
	ictx, cancel := context.WithTimeout(ctx, s.interceptTimeout())
	defer cancel()
	body, err := s.Capturer.Capture(ictx, browser.InterceptSpec{
		PageURL:    pageURL,
		Pattern:    s.DocumentsPattern,
		Token:      token,
		StorageKey: s.StorageKey,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrInterceptionTimeout) {
			err = fmt.Errorf("%w: %w", ErrInterceptionTimeout, err)
		}
		return nil, err
	}
	return ParseDocumentList(body)
}

func (s *Service) fail(ctx context.Context, task DocumentTask, err error) DocumentTask {
	task.Status = TaskFailed
	task.Error = eris.ToString(err, false)
	task.UpdatedAt = s.now()
	if uerr := s.Repo.UpdateTask(ctx, task); uerr != nil {
		s.logger().Error().Err(uerr).Str("taskId", task.ID).Msg("retrieval.status_update_failed")
	}
	metrics.IncDocumentTask(TaskFailed)
	return task
}

func (s *Service) toRecords(task DocumentTask, docs []Discovered) []DocumentRecord {
	now := s.now()
	out := make([]DocumentRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentRecord{
			ID:             uuid.NewString(),
			TaskID:         task.ID,
			CaseRef:        task.CaseRef,
			DocumentNumber: d.DocumentNumber,
			DeliveryNumber: d.DeliveryNumber,
			Name:           d.Name,
			FileURL:        d.FileURL,
			FileType:       d.FileType,
			Status:         RecordPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return out
}

// downloadOne fetches a single file. Its failure is recorded on the record only.
func (s *Service) downloadOne(ctx, store context.Context, client *http.Client, rec DocumentRecord, log zerolog.Logger) bool {
	start := time.Now()
	file, err := s.Downloader.Download(ctx, client, rec)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.ObserveDocumentDownload("failed", elapsed)
		log.Warn().Err(err).Str("document", rec.Key()).Msg("retrieval.download_failed")
		if uerr := s.Repo.UpdateRecordResult(store, rec.ID, RecordFailed, "", 0, 0, err.Error(), s.now()); uerr != nil {
			log.Error().Err(uerr).Str("document", rec.Key()).Msg("retrieval.record_update_failed")
		}
		return false
	}
	metrics.ObserveDocumentDownload("success", elapsed)
	if err := s.Repo.UpdateRecordResult(store, rec.ID, RecordSuccess, file.Path, file.Size, file.Pages, "", s.now()); err != nil {
		log.Error().Err(err).Str("document", rec.Key()).Msg("retrieval.record_update_failed")
		return false
	}
	log.Info().
		Str("document", rec.Key()).
		Str("path", file.Path).
		Int64("size_bytes", file.Size).
		Int("pages", file.Pages).
		Msg("retrieval.downloaded")
	return true
}

func (s *Service) pageURL(taskRef string) string {
	return strings.ReplaceAll(s.TaskURLTemplate, "{task}", url.QueryEscape(taskRef))
}

func (s *Service) jitter() time.Duration {
	lo, hi := s.DelayMin, s.DelayMax
	if lo <= 0 && hi <= 0 {
		lo, hi = defaultDelayMin, defaultDelayMax
	}
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) httpClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient(ctx, ts)
	}
	return oauth2.NewClient(ctx, ts)
}

func (s *Service) interceptTimeout() time.Duration {
	if s.InterceptTimeout > 0 {
		return s.InterceptTimeout
	}
	return defaultInterceptTimeout
}

func (s *Service) runTimeout() time.Duration {
	if s.RunTimeout > 0 {
		return s.RunTimeout
	}
	return defaultRunTimeout
}

func (s *Service) scrapeTimeout() time.Duration {
	if s.ScrapeTimeout > 0 {
		return s.ScrapeTimeout
	}
	return defaultScrapeTimeout
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *zerolog.Logger {
	s.logOnce.Do(func() {
		s.log = telemetry.Component("retrieval")
	})
	return &s.log
}

package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"litigation-backend/internal/audit"
	"litigation-backend/internal/credentials"
	"litigation-backend/internal/pricing"
	"litigation-backend/internal/queue"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/shared/util"
)

const (
	defaultMaxConcurrency = 8
	defaultRunTimeout     = 10 * time.Minute
	// maxAttemptConflicts bounds re-numbering when another writer took the attempt number.
	maxAttemptConflicts = 3
)

// TokenResolver hands out a usable token for a site.
type TokenResolver interface {
	Resolve(ctx context.Context, site, account string) (credentials.Token, error)
	Invalidate(ctx context.Context, site, account string)
}

// PriceFetcher performs one premium call.
type PriceFetcher interface {
	FetchPremium(ctx context.Context, token string, q pricing.PremiumQuery) pricing.PriceResult
}

// Service orchestrates quote requests.
type Service struct {
	Repo            Repo
	Tokens          TokenResolver
	Prices          PriceFetcher
	Catalog         config.Catalog
	Queue           queue.Client
	Site            string
	InstitutionCode string
	MaxConcurrency  int
	// ExecuteInProcess runs submitted requests on a goroutine when no queue is configured.
	ExecuteInProcess bool
	// RunTimeout bounds a shared run once it no longer follows any caller's context.
	RunTimeout time.Duration
	Now        func() time.Time

	runs  singleflight.Group
	locks requestLocks
}

// Submit validates and stores a pending request, then hands it to the queue.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (QuoteRequest, error) {
	caseRef := strings.TrimSpace(in.CaseRef)
	if caseRef == "" {
		return QuoteRequest{}, fmt.Errorf("%w: caseRef is required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return QuoteRequest{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	providers := normalizeProviders(in.Providers)
	if len(providers) == 0 {
		providers = s.Catalog.EnabledCodes()
	}
	if len(providers) == 0 {
		return QuoteRequest{}, ErrNoProviders
	}
	institution := strings.TrimSpace(in.InstitutionCode)
	if institution == "" {
		institution = s.InstitutionCode
	}

	now := s.now()
	req := QuoteRequest{
		ID:              uuid.NewString(),
		CaseRef:         caseRef,
		Amount:          in.Amount,
		InstitutionCode: institution,
		Providers:       providers,
		Account:         strings.TrimSpace(in.Account),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Repo.CreateRequest(ctx, req); err != nil {
		return QuoteRequest{}, err
	}
	metrics.IncQuoteRequest(StatusPending)

	switch {
	case s.Queue != nil:
		msg := queue.Message{
			Kind:       queue.KindQuoteExecute,
			TargetID:   req.ID,
			RequestID:  util.RequestIDFromContext(ctx),
			EnqueuedAt: now.Format(time.RFC3339),
			Version:    1,
		}
		if err := s.Queue.Send(ctx, msg); err != nil {
			if uerr := s.Repo.UpdateRequestStatus(context.WithoutCancel(ctx), req.ID, StatusFailed, "enqueue failed", s.now()); uerr != nil {
				telemetry.Error("quotes.status_update_failed", map[string]any{
					"quoteId": req.ID,
					"error":   uerr.Error(),
				})
			}
			return QuoteRequest{}, fmt.Errorf("enqueue quote request: %w", err)
		}
	case s.ExecuteInProcess:
		go func(ctx context.Context, id string) {
			if _, err := s.Execute(ctx, id); err != nil {
				telemetry.Warn("quotes.execute_async_failed", map[string]any{
					"quoteId":    id,
					"request_id": util.RequestIDFromContext(ctx),
					"error":      err.Error(),
				})
			}
		}(util.Detach(ctx), req.ID)
	}

	telemetry.Info("quotes.submitted", map[string]any{
		"quoteId":   req.ID,
		"caseRef":   req.CaseRef,
		"providers": len(req.Providers),
	})
	return req, nil
}

// Execute runs the fan-out for every provider of the request. Concurrent calls for the
// same request share one run, and runs on one request never overlap with RetryFailed.
func (s *Service) Execute(ctx context.Context, id string) (QuoteRequest, error) {
	return s.shared(ctx, "execute:"+id, id, false)
}

// RetryFailed re-runs only providers whose latest result failed or that never ran.
// Providers that already succeeded are left untouched.
func (s *Service) RetryFailed(ctx context.Context, id string) (QuoteRequest, error) {
	return s.shared(ctx, "retry:"+id, id, true)
}

// Get returns the request with the latest result per provider.
func (s *Service) Get(ctx context.Context, id string) (QuoteSummary, error) {
	req, err := s.Repo.GetRequest(ctx, id)
	if err != nil {
		return QuoteSummary{}, err
	}
	results, err := s.Repo.ListResults(ctx, id)
	if err != nil {
		return QuoteSummary{}, err
	}
	return Summarize(req, results), nil
}

// RetrySweep retries recent partially failed requests and reports how many were retried.
func (s *Service) RetrySweep(ctx context.Context, window time.Duration, limit int) (int, error) {
	since := s.now().Add(-window)
	reqs, err := s.Repo.ListRequestsByStatus(ctx, StatusPartiallyFailed, since, limit)
	if err != nil {
		return 0, err
	}
	retried := 0
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return retried, err
		}
		if _, err := s.RetryFailed(ctx, req.ID); err != nil {
			telemetry.Warn("quotes.retry_sweep_item_failed", map[string]any{
				"quoteId": req.ID,
				"error":   err.Error(),
			})
			continue
		}
		retried++
	}
	return retried, nil
}

type runResult struct {
	req QuoteRequest
	err error
}

// shared joins callers of the same mode onto one run. The run is detached from the
// callers' contexts and bounded by RunTimeout; a caller whose context ends stops
// waiting and gets ctx.Err(). Runs of different modes on one request take turns.
func (s *Service) shared(ctx context.Context, key, id string, onlyFailed bool) (QuoteRequest, error) {
	ch := s.runs.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout())
		defer cancel()
		unlock := s.locks.lock(id)
		defer unlock()
		req, err := s.run(rctx, id, onlyFailed)
		return runResult{req: req, err: err}, nil
	})
	select {
	case <-ctx.Done():
		return QuoteRequest{}, ctx.Err()
	case r := <-ch:
		out := r.Val.(runResult)
		return out.req, out.err
	}
}

// requestLocks hands out one mutex per request id and drops it when nobody holds it.
type requestLocks struct {
	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	sync.Mutex
	refs int
}

func (l *requestLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*requestLock)
	}
	rl, ok := l.locks[id]
	if !ok {
		rl = &requestLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (s *Service) run(ctx context.Context, id string, onlyFailed bool) (QuoteRequest, error) {
	req, err := s.Repo.GetRequest(ctx, id)
	if err != nil {
		return QuoteRequest{}, err
	}
	existing, err := s.Repo.ListResults(ctx, id)
	if err != nil {
		return QuoteRequest{}, err
	}
	latest := LatestByProvider(existing)

	targets := req.Providers
	if onlyFailed {
		targets = failedProviders(req.Providers, latest)
		if len(targets) == 0 {
			return req, nil
		}
	}

	// Persistence below must finish even when the caller stops waiting.
	store := context.WithoutCancel(ctx)

	if err := s.Repo.UpdateRequestStatus(store, id, StatusRunning, "", s.now()); err != nil {
		return QuoteRequest{}, err
	}

	tok, err := s.Tokens.Resolve(ctx, s.Site, req.Account)
	if err != nil {
		status := Aggregate(req.Providers, latest)
		if uerr := s.Repo.UpdateRequestStatus(store, id, status, "no token available: "+err.Error(), s.now()); uerr != nil {
			telemetry.Error("quotes.status_update_failed", map[string]any{"quoteId": id, "error": uerr.Error()})
		}
		metrics.IncQuoteRequest(status)
		telemetry.Warn("quotes.no_token", map[string]any{
			"quoteId": id,
			"site":    s.Site,
			"error":   err.Error(),
		})
		req, _ = s.Repo.GetRequest(store, id)
		return req, fmt.Errorf("%w: %w", ErrNoTokenAvailable, err)
	}

	var invalidate sync.Once
	g := new(errgroup.Group)
	g.SetLimit(s.maxConcurrency())
	for _, code := range targets {
		attempt := latest[code].Attempt + 1
		g.Go(func() error {
			res := s.quoteProvider(ctx, store, req, code, attempt, tok.Value)
			if isAuthFailure(res) {
				invalidate.Do(func() { s.Tokens.Invalidate(store, s.Site, tok.Account) })
			}
			return nil
		})
	}
	_ = g.Wait()

	all, err := s.Repo.ListResults(store, id)
	if err != nil {
		return QuoteRequest{}, err
	}
	summary := Summarize(req, all)
	status := Aggregate(req.Providers, LatestByProvider(all))
	errMsg := ""
	if status != StatusCompleted {
		errMsg = fmt.Sprintf("%d of %d providers quoted", summary.Quoted, summary.Total)
	}
	if err := s.Repo.UpdateRequestStatus(store, id, status, errMsg, s.now()); err != nil {
		return QuoteRequest{}, err
	}
	metrics.IncQuoteRequest(status)
	telemetry.Info("quotes.executed", map[string]any{
		"quoteId":    id,
		"request_id": util.RequestIDFromContext(ctx),
		"status":     status,
		"account":    tok.Account,
		"quoted":     summary.Quoted,
		"total":      summary.Total,
		"attempted":  len(targets),
	})
	return s.Repo.GetRequest(store, id)
}

// quoteProvider makes one call and persists its result immediately. Failures are recorded,
// never returned, so one provider cannot abort the others.
func (s *Service) quoteProvider(ctx, store context.Context, req QuoteRequest, code string, attempt int, token string) pricing.PriceResult {
	started := s.now()
	res := s.Prices.FetchPremium(ctx, token, pricing.PremiumQuery{
		Amount:          req.Amount,
		ProviderCode:    code,
		InstitutionCode: req.InstitutionCode,
	})
	completed := s.now()

	row := QuoteResult{
		ID:               uuid.NewString(),
		RequestID:        req.ID,
		ProviderCode:     code,
		Attempt:          attempt,
		RequestSnapshot:  audit.Encode(res.Request),
		ResponseSnapshot: audit.Encode(res.Response),
		StartedAt:        started,
		CompletedAt:      completed,
		CreatedAt:        completed,
	}
	if res.OK() {
		row.Status = ResultSuccess
		row.Premium = res.Premium
		row.MinPremium = res.Rate.MinPremium
		row.MaxPremium = res.Rate.MaxPremium
		row.MinRate = res.Rate.MinRate
		row.MaxRate = res.Rate.MaxRate
		row.MaxAmount = res.Rate.MaxAmount
	} else {
		row.Status = ResultFailed
		row.ErrorKind = string(res.FailureKind())
	}

	row, err := s.insertResult(store, row)
	if err != nil {
		telemetry.Error("quotes.result_persist_failed", map[string]any{
			"quoteId":  req.ID,
			"provider": code,
			"attempt":  row.Attempt,
			"error":    err.Error(),
		})
		return res
	}

	fields := map[string]any{
		"quoteId":     req.ID,
		"provider":    code,
		"attempt":     row.Attempt,
		"outcome":     string(res.Outcome),
		"duration_ms": completed.Sub(started).Milliseconds(),
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
		telemetry.Warn("quotes.provider_failed", fields)
	} else {
		telemetry.Info("quotes.provider_quoted", fields)
	}
	return res
}

// insertResult stores row, moving it to the next free attempt number when another
// writer already recorded the one it was given.
func (s *Service) insertResult(ctx context.Context, row QuoteResult) (QuoteResult, error) {
	for conflicts := 0; ; conflicts++ {
		err := s.Repo.InsertResult(ctx, row)
		if err == nil || !errors.Is(err, ErrDuplicateAttempt) || conflicts == maxAttemptConflicts {
			return row, err
		}
		all, lerr := s.Repo.ListResults(ctx, row.RequestID)
		if lerr != nil {
			return row, err
		}
		prev := row.Attempt
		row.Attempt = LatestByProvider(all)[row.ProviderCode].Attempt + 1
		row.ID = uuid.NewString()
		telemetry.Warn("quotes.attempt_renumbered", map[string]any{
			"quoteId":  row.RequestID,
			"provider": row.ProviderCode,
			"from":     prev,
			"to":       row.Attempt,
		})
	}
}

func (s *Service) runTimeout() time.Duration {
	if s.RunTimeout > 0 {
		return s.RunTimeout
	}
	return defaultRunTimeout
}

func (s *Service) maxConcurrency() int {
	if s.MaxConcurrency > 0 {
		return s.MaxConcurrency
	}
	return defaultMaxConcurrency
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func failedProviders(providers []string, latest map[string]QuoteResult) []string {
	var out []string
	for _, code := range providers {
		if r, ok := latest[code]; ok && r.Status == ResultSuccess {
			continue
		}
		out = append(out, code)
	}
	return out
}

func normalizeProviders(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, code := range in {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func isAuthFailure(res pricing.PriceResult) bool {
	var httpErr *pricing.HTTPError
	if !errors.As(res.Err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}

// ParseAmount accepts a decimal string like "6652.90".
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a number", ErrInvalidInput, raw)
	}
	return amount, nil
}

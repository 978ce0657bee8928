package quotes

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litigation-backend/internal/audit"
	"litigation-backend/internal/credentials"
	"litigation-backend/internal/pricing"
	"litigation-backend/internal/queue"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/tokens"
)

const testToken = "eyJ.test-token-value"

type stubTokens struct {
	mu          sync.Mutex
	tok         credentials.Token
	err         error
	resolved    int
	invalidated []string
}

func (s *stubTokens) Resolve(ctx context.Context, site, account string) (credentials.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved++
	if s.err != nil {
		return credentials.Token{}, s.err
	}
	return s.tok, nil
}

func (s *stubTokens) Invalidate(ctx context.Context, site, account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, site+"/"+account)
}

type stubQueue struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (q *stubQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

const rateBody = `{"code":200,"msg":"ok","data":{"premium":"12.00","minPremium":"10.5","maxPremium":300,"minRate":"0.0015","maxRate":0.003,"maxApplyAmount":"5000000"}}`

// providerServer answers per insuranceCode using the supplied handlers; unknown codes succeed.
func providerServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Query().Get("insuranceCode")]; ok {
			h(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(rateBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, baseURL string, tok *stubTokens) (*Service, *MemoryRepo) {
	t.Helper()
	client, err := pricing.NewClient(pricing.Config{
		BaseURL:     baseURL,
		Path:        "/api/v1/premium",
		TokenHeader: "Bearer",
		Timeout:     time.Second,
	})
	require.NoError(t, err)
	repo := NewMemoryRepo()
	return &Service{
		Repo:            repo,
		Tokens:          tok,
		Prices:          client,
		Catalog:         config.Catalog{Providers: []config.Provider{{Code: "001", Enabled: true}, {Code: "002", Enabled: true}, {Code: "003"}}},
		Site:            "court",
		InstitutionCode: "INST",
	}, repo
}

func validTokens() *stubTokens {
	now := time.Now().UTC()
	return &stubTokens{tok: credentials.Token{Site: "court", Account: "a1", Value: testToken, IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute)}}
}

func submit(t *testing.T, svc *Service, amount string, providers ...string) QuoteRequest {
	t.Helper()
	req, err := svc.Submit(context.Background(), SubmitInput{
		CaseRef:   "case-1",
		Amount:    decimal.RequireFromString(amount),
		Providers: providers,
	})
	require.NoError(t, err)
	return req
}

func TestExecuteSingleProviderSuccess(t *testing.T) {
	srv := providerServer(t, nil)
	svc, repo := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "3", "002")

	got, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultSuccess, results[0].Status)
	assert.Equal(t, 1, results[0].Attempt)
	require.True(t, results[0].MinPremium.Valid)
	assert.True(t, results[0].MinPremium.Decimal.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, results[0].Premium.Decimal.Equal(decimal.NewFromInt(12)))

	reqSnap, err := audit.DecodeRequest(results[0].RequestSnapshot)
	require.NoError(t, err)
	assert.Equal(t, "3", reqSnap.Query["preserveAmount"])
	assert.Equal(t, "INST", reqSnap.Query["institutionCode"])
	assert.NotContains(t, results[0].RequestSnapshot, testToken)
}

func TestExecutePartialFailure(t *testing.T) {
	srv := providerServer(t, map[string]http.HandlerFunc{
		"A": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	})
	svc, repo := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "100", "A", "B")

	got, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, got.Status)
	assert.Equal(t, "1 of 2 providers quoted", got.Error)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	latest := LatestByProvider(results)
	assert.Equal(t, ResultFailed, latest["A"].Status)
	assert.Equal(t, string(audit.KindHTTPError), latest["A"].ErrorKind)
	assert.False(t, latest["A"].MinPremium.Valid)
	assert.Equal(t, ResultSuccess, latest["B"].Status)

	respSnap, err := audit.DecodeResponse(latest["A"].ResponseSnapshot)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, respSnap.StatusCode)
	assert.Contains(t, respSnap.Body, "boom")
}

func TestExecuteAllFailed(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":null}`))
	}
	srv := providerServer(t, map[string]http.HandlerFunc{"A": fail, "B": fail})
	svc, repo := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "100", "A", "B")

	got, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, string(audit.KindNoRateData), r.ErrorKind)
	}
}

func TestExecuteWithoutTokenPersistsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	unavailable := &tokens.CredentialUnavailableError{Site: "court", Causes: []error{
		&tokens.AccountError{Account: "a1", Err: tokens.ErrRefreshTimeout},
	}}
	svc, repo := newTestService(t, srv.URL, &stubTokens{err: unavailable})
	req := submit(t, svc, "100", "A", "B")

	got, err := svc.Execute(context.Background(), req.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTokenAvailable)
	assert.ErrorIs(t, err, tokens.ErrCredentialUnavailable)
	assert.ErrorIs(t, err, tokens.ErrRefreshTimeout)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no token available")

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, calls.Load())
}

func TestRetryFailedOnlyRerunsFailedProviders(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	srv := providerServer(t, map[string]http.HandlerFunc{
		"A": func(w http.ResponseWriter, r *http.Request) {
			if aCalls.Add(1) == 1 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(rateBody))
		},
		"B": func(w http.ResponseWriter, r *http.Request) {
			bCalls.Add(1)
			_, _ = w.Write([]byte(rateBody))
		},
	})
	svc, repo := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "100", "A", "B")

	first, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyFailed, first.Status)

	second, err := svc.RetryFailed(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Empty(t, second.Error)

	assert.Equal(t, int32(2), aCalls.Load())
	assert.Equal(t, int32(1), bCalls.Load())

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	latest := LatestByProvider(results)
	assert.Equal(t, 2, latest["A"].Attempt)
	assert.Equal(t, ResultSuccess, latest["A"].Status)
	assert.Equal(t, 1, latest["B"].Attempt)

	// Nothing left to retry.
	third, err := svc.RetryFailed(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, third.Status)
	results, err = repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestExecuteInvalidatesTokenOnUnauthorized(t *testing.T) {
	unauthorized := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	srv := providerServer(t, map[string]http.HandlerFunc{"A": unauthorized, "B": unauthorized})
	tok := validTokens()
	svc, _ := newTestService(t, srv.URL, tok)
	req := submit(t, svc, "100", "A", "B")

	got, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, []string{"court/a1"}, tok.invalidated)
}

func TestExecuteUnknownRequest(t *testing.T) {
	svc, _ := newTestService(t, "http://127.0.0.1:1", validTokens())
	_, err := svc.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitDefaultsProvidersAndEnqueues(t *testing.T) {
	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	q := &stubQueue{}
	svc.Queue = q

	req, err := svc.Submit(context.Background(), SubmitInput{
		CaseRef:   " case-9 ",
		Amount:    decimal.RequireFromString("6652.90"),
		Providers: []string{" ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "case-9", req.CaseRef)
	assert.Equal(t, []string{"001", "002"}, req.Providers)
	assert.Equal(t, "INST", req.InstitutionCode)

	stored, err := repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	require.Len(t, q.messages, 1)
	assert.Equal(t, queue.KindQuoteExecute, q.messages[0].Kind)
	assert.Equal(t, req.ID, q.messages[0].TargetID)
}

func TestSubmitDeduplicatesProviders(t *testing.T) {
	svc, _ := newTestService(t, "http://127.0.0.1:1", validTokens())
	req := submit(t, svc, "10", "B", "A", "B")
	assert.Equal(t, []string{"B", "A"}, req.Providers)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t, "http://127.0.0.1:1", validTokens())

	_, err := svc.Submit(context.Background(), SubmitInput{CaseRef: "c", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Submit(context.Background(), SubmitInput{Amount: decimal.NewFromInt(3)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	svc.Catalog = config.Catalog{}
	_, err = svc.Submit(context.Background(), SubmitInput{CaseRef: "c", Amount: decimal.NewFromInt(3)})
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestSubmitEnqueueFailureMarksRequestFailed(t *testing.T) {
	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	svc.Queue = &stubQueue{err: errors.New("queue down")}

	_, err := svc.Submit(context.Background(), SubmitInput{CaseRef: "c", Amount: decimal.NewFromInt(3), Providers: []string{"A"}})
	require.Error(t, err)

	failed, err := repo.ListRequestsByStatus(context.Background(), StatusFailed, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "enqueue failed", failed[0].Error)
}

func TestGetSummarizesLatestAttempts(t *testing.T) {
	srv := providerServer(t, map[string]http.HandlerFunc{
		"A": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
	})
	svc, _ := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "100", "A", "B", "C")

	_, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)

	summary, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Quoted)
	assert.Equal(t, 3, summary.Total)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "A", summary.Results[0].ProviderCode)
}

func TestRetrySweepRetriesPartiallyFailed(t *testing.T) {
	var aCalls atomic.Int32
	srv := providerServer(t, map[string]http.HandlerFunc{
		"A": func(w http.ResponseWriter, r *http.Request) {
			if aCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(rateBody))
		},
	})
	svc, _ := newTestService(t, srv.URL, validTokens())
	req := submit(t, svc, "100", "A", "B")
	_, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)

	n, err := svc.RetrySweep(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	summary, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, summary.Request.Status)
}

type blockingPrices struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingPrices) FetchPremium(ctx context.Context, token string, q pricing.PremiumQuery) pricing.PriceResult {
	b.calls.Add(1)
	b.started <- struct{}{}
	<-b.release
	return pricing.PriceResult{Outcome: pricing.OutcomeRateData, Rate: &pricing.RateSchedule{}}
}

func TestConcurrentExecuteSharesOneRun(t *testing.T) {
	svc, _ := newTestService(t, "http://127.0.0.1:1", validTokens())
	prices := &blockingPrices{started: make(chan struct{}, 4), release: make(chan struct{})}
	svc.Prices = prices
	req := submit(t, svc, "100", "A")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Execute(context.Background(), req.ID)
		errs <- err
	}()
	<-prices.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Execute(context.Background(), req.ID)
		errs <- err
	}()
	// Give the second caller time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)
	close(prices.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), prices.calls.Load())
}

func TestProviderTimeoutIsIsolated(t *testing.T) {
	srv := providerServer(t, map[string]http.HandlerFunc{
		"SLOW": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	})
	tok := validTokens()
	svc, repo := newTestService(t, srv.URL, tok)
	client, err := pricing.NewClient(pricing.Config{BaseURL: srv.URL, Path: "/p", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	svc.Prices = client
	req := submit(t, svc, "100", "SLOW", "FAST")

	got, err := svc.Execute(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, got.Status)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	latest := LatestByProvider(results)
	assert.Equal(t, string(audit.KindTimeout), latest["SLOW"].ErrorKind)
	assert.Equal(t, ResultSuccess, latest["FAST"].Status)
}

// gatedPrices holds the first call until release is closed. The first call fails with
// firstOutcome; later calls succeed at once. Calls observe ctx like a real client.
type gatedPrices struct {
	firstOutcome pricing.Outcome
	entered      chan struct{}
	release      chan struct{}
	calls        atomic.Int32
}

func newGatedPrices(firstOutcome pricing.Outcome) *gatedPrices {
	return &gatedPrices{firstOutcome: firstOutcome, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPrices) FetchPremium(ctx context.Context, token string, q pricing.PremiumQuery) pricing.PriceResult {
	if g.calls.Add(1) > 1 {
		return pricing.PriceResult{Outcome: pricing.OutcomeRateData, Rate: &pricing.RateSchedule{}}
	}
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return pricing.PriceResult{Outcome: pricing.OutcomeTransportError, Err: ctx.Err()}
	}
	if g.firstOutcome == pricing.OutcomeRateData {
		return pricing.PriceResult{Outcome: pricing.OutcomeRateData, Rate: &pricing.RateSchedule{}}
	}
	return pricing.PriceResult{Outcome: g.firstOutcome, StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
}

func TestRetryFailedWaitsForInFlightExecute(t *testing.T) {
	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	prices := newGatedPrices(pricing.OutcomeHTTPError)
	svc.Prices = prices
	req := submit(t, svc, "100", "A")

	type outcome struct {
		req QuoteRequest
		err error
	}
	executed := make(chan outcome, 1)
	go func() {
		got, err := svc.Execute(context.Background(), req.ID)
		executed <- outcome{got, err}
	}()
	<-prices.entered

	retried := make(chan outcome, 1)
	go func() {
		got, err := svc.RetryFailed(context.Background(), req.ID)
		retried <- outcome{got, err}
	}()
	// Let the retry reach the request lock while the execute still holds it.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), prices.calls.Load())
	close(prices.release)

	first := <-executed
	require.NoError(t, first.err)
	second := <-retried
	require.NoError(t, second.err)
	assert.Equal(t, StatusCompleted, second.req.Status)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Attempt)
	assert.Equal(t, ResultFailed, results[0].Status)
	assert.Equal(t, 2, results[1].Attempt)
	assert.Equal(t, ResultSuccess, results[1].Status)
	assert.Equal(t, int32(2), prices.calls.Load())
}

func TestExecuteContinuesAfterCallerCancels(t *testing.T) {
	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	prices := newGatedPrices(pricing.OutcomeRateData)
	svc.Prices = prices
	req := submit(t, svc, "100", "A")

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Execute(ctx, req.ID)
		first <- err
	}()
	<-prices.entered

	type outcome struct {
		req QuoteRequest
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		got, err := svc.Execute(context.Background(), req.ID)
		second <- outcome{got, err}
	}()
	// Give the second caller time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(prices.release)
	var out outcome
	select {
	case out = <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	require.NoError(t, out.err)
	assert.Equal(t, StatusCompleted, out.req.Status)

	results, err := repo.ListResults(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultSuccess, results[0].Status)
	assert.Empty(t, results[0].ErrorKind)
}

func TestInsertResultRenumbersTakenAttempt(t *testing.T) {
	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	ctx := context.Background()
	now := time.Now().UTC()
	taken := QuoteResult{ID: "r1", RequestID: "q1", ProviderCode: "A", Attempt: 1, Status: ResultFailed, CreatedAt: now}
	require.NoError(t, repo.InsertResult(ctx, taken))

	row, err := svc.insertResult(ctx, QuoteResult{ID: "r2", RequestID: "q1", ProviderCode: "A", Attempt: 1, Status: ResultSuccess, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 2, row.Attempt)
	assert.NotEqual(t, "r2", row.ID)

	results, err := repo.ListResults(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ResultFailed, results[0].Status)
	assert.Equal(t, ResultSuccess, results[1].Status)
}

func TestRequestLocksReleaseEntries(t *testing.T) {
	var l requestLocks
	unlock := l.lock("q1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("q1")()
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second holder acquired a held lock")
	default:
	}
	unlock()
	<-done
	assert.Empty(t, l.locks)
}

type failingStatusRepo struct {
	*MemoryRepo
	err error
}

func (r *failingStatusRepo) UpdateRequestStatus(ctx context.Context, id, status, errMsg string, at time.Time) error {
	return r.err
}

func TestSubmitLogsStatusUpdateFailureAfterEnqueueError(t *testing.T) {
	var buf bytes.Buffer
	telemetry.SetOutput(&buf, "info")
	t.Cleanup(func() { telemetry.Setup("info", false) })

	svc, repo := newTestService(t, "http://127.0.0.1:1", validTokens())
	svc.Repo = &failingStatusRepo{MemoryRepo: repo, err: errors.New("table locked")}
	svc.Queue = &stubQueue{err: errors.New("queue down")}

	_, err := svc.Submit(context.Background(), SubmitInput{CaseRef: "c", Amount: decimal.NewFromInt(3), Providers: []string{"A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")

	logs := buf.String()
	assert.Contains(t, logs, "quotes.status_update_failed")
	assert.Contains(t, logs, "table locked")
}

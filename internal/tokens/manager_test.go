package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litigation-backend/internal/browser"
	"litigation-backend/internal/credentials"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDriver struct {
	mu     sync.Mutex
	calls  map[string]int
	behave func(ctx context.Context, cred credentials.Credential) (browser.CapturedToken, error)
}

func (d *fakeDriver) Login(ctx context.Context, spec browser.LoginSpec, cred credentials.Credential) (browser.CapturedToken, error) {
	d.mu.Lock()
	d.calls[cred.Account]++
	d.mu.Unlock()
	return d.behave(ctx, cred)
}

func (d *fakeDriver) count(account string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[account]
}

type harness struct {
	clock  *clock
	store  *credentials.MemoryTokenStore
	driver *fakeDriver
	mgr    *Manager
}

func newHarness(t *testing.T, creds ...credentials.Credential) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := credentials.NewMemoryTokenStore()
	driver := &fakeDriver{
		calls: map[string]int{},
		behave: func(ctx context.Context, cred credentials.Credential) (browser.CapturedToken, error) {
			return browser.CapturedToken{Value: "tok-" + cred.Account}, nil
		},
	}
	mgr := &Manager{
		Credentials:  credentials.NewMemorySource(creds...),
		Store:        store,
		Cache:        credentials.NewMemoryCache(clk.Now),
		Driver:       driver,
		Specs:        map[string]browser.LoginSpec{"court": {URL: "https://login.test"}},
		TTL:          10 * time.Minute,
		LoginTimeout: time.Second,
		Now:          clk.Now,
	}
	return &harness{clock: clk, store: store, driver: driver, mgr: mgr}
}

func cred(account string, priority int) credentials.Credential {
	return credentials.Credential{ID: "id-" + account, Site: "court", Account: account, Secret: "pw", Priority: priority, Enabled: true}
}

func blockUntilDone(ctx context.Context, _ credentials.Credential) (browser.CapturedToken, error) {
	<-ctx.Done()
	return browser.CapturedToken{}, ctx.Err()
}

func TestResolveConcurrentCallersShareOneLogin(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	release := make(chan struct{})
	h.driver.behave = func(ctx context.Context, c credentials.Credential) (browser.CapturedToken, error) {
		<-release
		return browser.CapturedToken{Value: "tok-a1"}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	values := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := h.mgr.Resolve(context.Background(), "court", "a1")
			values[i], errs[i] = tok.Value, err
		}(i)
	}

	require.Eventually(t, func() bool { return h.mgr.Refreshing("court", "a1") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.driver.count("a1"))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-a1", values[i])
	}
	history, err := h.store.History(context.Background(), "court", "a1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResolveNeverReturnsExpiredToken(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	ctx := context.Background()
	now := h.clock.Now()
	require.NoError(t, h.store.Append(ctx, credentials.Token{
		ID: "old", Site: "court", Account: "a1", Value: "stale",
		IssuedAt: now.Add(-20 * time.Minute), ExpiresAt: now.Add(-time.Second),
	}))

	tok, err := h.mgr.Resolve(ctx, "court", "a1")
	require.NoError(t, err)
	assert.Equal(t, "tok-a1", tok.Value)
	assert.True(t, tok.ExpiresAt.After(now))

	// Served from cache until it expires, then refreshed again.
	_, err = h.mgr.Resolve(ctx, "court", "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.driver.count("a1"))

	h.clock.Advance(10 * time.Minute)
	tok, err = h.mgr.Resolve(ctx, "court", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.driver.count("a1"))
	assert.True(t, tok.Valid(h.clock.Now()))
}

func TestResolveTokenExpiresAtIssuedPlusTTL(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	tok, err := h.mgr.Resolve(context.Background(), "court", "a1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))
}

func TestResolveFailoverPrefersExistingValidToken(t *testing.T) {
	h := newHarness(t, cred("a1", 0), cred("a2", 1))
	ctx := context.Background()
	now := h.clock.Now()
	require.NoError(t, h.store.Append(ctx, credentials.Token{
		ID: "t2", Site: "court", Account: "a2", Value: "stored-a2",
		IssuedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}))

	tok, err := h.mgr.Resolve(ctx, "court", "")
	require.NoError(t, err)
	assert.Equal(t, "stored-a2", tok.Value)
	assert.Equal(t, 0, h.driver.count("a1"))
	assert.Equal(t, 0, h.driver.count("a2"))
}

func TestResolveFailoverSkipsTimedOutAccount(t *testing.T) {
	h := newHarness(t, cred("a1", 0), cred("a2", 1))
	h.mgr.LoginTimeout = 30 * time.Millisecond
	h.driver.behave = func(ctx context.Context, c credentials.Credential) (browser.CapturedToken, error) {
		if c.Account == "a1" {
			return blockUntilDone(ctx, c)
		}
		return browser.CapturedToken{Value: "tok-a2"}, nil
	}

	tok, err := h.mgr.Resolve(context.Background(), "court", "")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.Account)
	assert.Equal(t, 1, h.driver.count("a1"))
}

func TestResolveAllAccountsFailIsCredentialUnavailable(t *testing.T) {
	h := newHarness(t, cred("a1", 0), cred("a2", 1))
	h.mgr.LoginTimeout = 30 * time.Millisecond
	h.driver.behave = func(ctx context.Context, c credentials.Credential) (browser.CapturedToken, error) {
		if c.Account == "a1" {
			return browser.CapturedToken{}, fmt.Errorf("%w: bad password", browser.ErrLoginRejected)
		}
		return blockUntilDone(ctx, c)
	}

	_, err := h.mgr.Resolve(context.Background(), "court", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.ErrorIs(t, err, ErrRefreshRejected)
	assert.ErrorIs(t, err, ErrRefreshTimeout)

	var unavailable *CredentialUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Len(t, unavailable.Causes, 2)
	assert.NotContains(t, err.Error(), "pw")

	history, _ := h.store.History(context.Background(), "court", "a1", 0)
	assert.Empty(t, history)
}

func TestResolveNoCredentials(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Resolve(context.Background(), "court", "")
	assert.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAbandonCancelsInFlightRefresh(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	h.mgr.LoginTimeout = time.Minute
	h.driver.behave = blockUntilDone

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Resolve(context.Background(), "court", "a1")
		done <- err
	}()

	require.Eventually(t, func() bool { return h.mgr.Refreshing("court", "a1") }, time.Second, time.Millisecond)
	assert.True(t, h.mgr.Abandon("court", "a1"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRefreshAbandoned)
	case <-time.After(time.Second):
		t.Fatal("resolve did not return after abandon")
	}
	assert.False(t, h.mgr.Abandon("court", "a1"))
}

func TestCallerGivingUpDoesNotCancelSharedLogin(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	release := make(chan struct{})
	h.driver.behave = func(ctx context.Context, c credentials.Credential) (browser.CapturedToken, error) {
		select {
		case <-release:
			return browser.CapturedToken{Value: "tok-a1"}, nil
		case <-ctx.Done():
			return browser.CapturedToken{}, ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.mgr.Resolve(ctx, "court", "a1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return !h.mgr.Refreshing("court", "a1") }, time.Second, time.Millisecond)

	tok, err := h.mgr.Resolve(context.Background(), "court", "a1")
	require.NoError(t, err)
	assert.Equal(t, "tok-a1", tok.Value)
	assert.Equal(t, 1, h.driver.count("a1"))
}

func TestEffectiveTTLHonoursJWTExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	short, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": issued.Add(2 * time.Minute).Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	long, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": issued.Add(24 * time.Hour).Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, EffectiveTTL(short, issued, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, EffectiveTTL(long, issued, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, EffectiveTTL("opaque-token", issued, 10*time.Minute))
}

func TestTokenSourceAdaptsResolve(t *testing.T) {
	h := newHarness(t, cred("a1", 0))
	src := h.mgr.TokenSource(context.Background(), "court", "a1")

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-a1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

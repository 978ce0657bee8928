package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"litigation-backend/internal/browser"
	"litigation-backend/internal/credentials"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/shared/util"
)

// DefaultTTL is used when no TTL is configured. The site's real token lifetime is much
// shorter than the JWT exp it advertises on some deployments; configure TOKEN_TTL from observation.
const DefaultTTL = 10 * time.Minute

// Manager hands out valid site tokens, logging in through the browser when needed.
type Manager struct {
	Credentials credentials.CredentialSource
	Store       credentials.TokenStore
	Cache       credentials.Cache
	Driver      browser.LoginDriver
	// Specs maps a site to its login surface.
	Specs map[string]browser.LoginSpec

	TTL          time.Duration
	LoginTimeout time.Duration
	Now          func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	log      zerolog.Logger
	logOnce  sync.Once
}

// Resolve returns a valid token for (site, account). With an empty account it fails
// over across the site's enabled credentials in priority order.
func (m *Manager) Resolve(ctx context.Context, site, account string) (credentials.Token, error) {
	if account != "" {
		return m.resolveAccount(ctx, site, account)
	}

	creds, err := m.Credentials.ListBySite(ctx, site)
	if err != nil {
		return credentials.Token{}, fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		return credentials.Token{}, &CredentialUnavailableError{Site: site, Causes: []error{ErrNoCredentials}}
	}

	// Any account already holding a valid token wins before anyone logs in.
	for _, cred := range creds {
		if tok, ok := m.lookup(ctx, site, cred.Account); ok {
			return tok, nil
		}
	}

	var causes []error
	for _, cred := range creds {
		tok, err := m.refresh(ctx, cred)
		if err == nil {
			return tok, nil
		}
		causes = append(causes, &AccountError{Account: cred.Account, Err: err})
		if ctx.Err() != nil {
			break
		}
		m.logger().Warn().Str("site", site).Str("account", cred.Account).Err(err).Msg("account skipped")
	}
	return credentials.Token{}, &CredentialUnavailableError{Site: site, Causes: causes}
}

func (m *Manager) resolveAccount(ctx context.Context, site, account string) (credentials.Token, error) {
	if tok, ok := m.lookup(ctx, site, account); ok {
		return tok, nil
	}
	cred, err := m.Credentials.Get(ctx, site, account)
	if err != nil {
		return credentials.Token{}, &CredentialUnavailableError{Site: site, Causes: []error{&AccountError{Account: account, Err: err}}}
	}
	if !cred.Enabled {
		return credentials.Token{}, &CredentialUnavailableError{Site: site, Causes: []error{&AccountError{Account: account, Err: ErrNoCredentials}}}
	}
	tok, err := m.refresh(ctx, cred)
	if err != nil {
		return credentials.Token{}, &CredentialUnavailableError{Site: site, Causes: []error{&AccountError{Account: account, Err: err}}}
	}
	return tok, nil
}

// lookup checks the cache, then the durable store. Only valid tokens are returned.
func (m *Manager) lookup(ctx context.Context, site, account string) (credentials.Token, bool) {
	now := m.now()
	if tok, ok := m.Cache.Get(ctx, site, account); ok && tok.Valid(now) {
		metrics.IncTokenCacheHit()
		return tok, true
	}
	tok, err := m.Store.Latest(ctx, site, account)
	if err != nil {
		if !errors.Is(err, credentials.ErrTokenNotFound) {
			m.logger().Warn().Str("site", site).Str("account", account).Err(err).Msg("token store lookup failed")
		}
		return credentials.Token{}, false
	}
	if !tok.Valid(now) {
		return credentials.Token{}, false
	}
	m.Cache.Put(ctx, tok)
	return tok, true
}

// refresh runs at most one login per (site, account). Late callers share the
// in-flight result; a caller whose ctx ends stops waiting without cancelling the login.
func (m *Manager) refresh(ctx context.Context, cred credentials.Credential) (credentials.Token, error) {
	key := credentials.Key(cred.Site, cred.Account)
	ch := m.group.DoChan(key, func() (any, error) {
		return m.login(cred)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return credentials.Token{}, res.Err
		}
		return res.Val.(credentials.Token), nil
	case <-ctx.Done():
		return credentials.Token{}, ctx.Err()
	}
}

func (m *Manager) login(cred credentials.Credential) (credentials.Token, error) {
	// A previous flight may have just stored a token for this pair.
	if tok, ok := m.lookup(context.Background(), cred.Site, cred.Account); ok {
		return tok, nil
	}

	spec, ok := m.Specs[cred.Site]
	if !ok {
		return credentials.Token{}, fmt.Errorf("no login spec for site %s", cred.Site)
	}

	timeout := m.LoginTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	loginCtx, cancel := context.WithTimeout(context.Background(), timeout)
	key := credentials.Key(cred.Site, cred.Account)
	m.track(key, cancel)
	defer func() {
		m.untrack(key)
		cancel()
	}()

	log := m.logger().With().Str("site", cred.Site).Str("account", cred.Account).Logger()
	log.Info().Dur("timeout", timeout).Msg("token refresh started")

	captured, err := m.Driver.Login(loginCtx, spec, cred)
	if err != nil {
		err = classifyLoginErr(loginCtx, err)
		metrics.IncTokenRefresh(refreshOutcome(err))
		log.Warn().Err(err).Msg("token refresh failed")
		return credentials.Token{}, err
	}

	issuedAt := captured.CapturedAt
	if issuedAt.IsZero() {
		issuedAt = m.now()
	}
	ttl := EffectiveTTL(captured.Value, issuedAt, m.ttl())
	if ttl <= 0 {
		metrics.IncTokenRefresh("rejected")
		return credentials.Token{}, fmt.Errorf("%w: issued token already expired", ErrRefreshRejected)
	}
	tok := credentials.Token{
		ID:        uuid.NewString(),
		Site:      cred.Site,
		Account:   cred.Account,
		Value:     captured.Value,
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: issuedAt.Add(ttl).UTC(),
		CreatedAt: m.now().UTC(),
	}
	if err := m.Store.Append(context.Background(), tok); err != nil {
		metrics.IncTokenRefresh("error")
		return credentials.Token{}, fmt.Errorf("persist token: %w", err)
	}
	m.Cache.Put(context.Background(), tok)
	metrics.IncTokenRefresh("success")

	log.Info().
		Str("token_fp", util.Fingerprint(tok.Value)).
		Str("source", captured.Source).
		Time("expires_at", tok.ExpiresAt).
		Dur("ttl", ttl).
		Msg("token refreshed")
	return tok, nil
}

// Abandon cancels an in-flight refresh for the pair. It reports whether one was running.
func (m *Manager) Abandon(site, account string) bool {
	m.mu.Lock()
	cancel, ok := m.inflight[credentials.Key(site, account)]
	m.mu.Unlock()
	if ok {
		m.logger().Info().Str("site", site).Str("account", account).Msg("token refresh abandoned")
		cancel()
	}
	return ok
}

// Refreshing reports whether a login is running for the pair.
func (m *Manager) Refreshing(site, account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[credentials.Key(site, account)]
	return ok
}

// Invalidate drops a cached token the site has stopped accepting.
// The durable row stays for audit; the next Resolve logs in again.
func (m *Manager) Invalidate(ctx context.Context, site, account string) {
	m.Cache.Invalidate(ctx, site, account)
}

func (m *Manager) track(key string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight == nil {
		m.inflight = make(map[string]context.CancelFunc)
	}
	m.inflight[key] = cancel
}

func (m *Manager) untrack(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
}

func classifyLoginErr(loginCtx context.Context, err error) error {
	switch {
	case errors.Is(err, browser.ErrLoginRejected):
		return fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	case errors.Is(loginCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrRefreshTimeout, err)
	case errors.Is(loginCtx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrRefreshAbandoned, err)
	default:
		return fmt.Errorf("token refresh: %w", err)
	}
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, ErrRefreshRejected):
		return "rejected"
	case errors.Is(err, ErrRefreshTimeout):
		return "timeout"
	case errors.Is(err, ErrRefreshAbandoned):
		return "abandoned"
	default:
		return "error"
	}
}

// EffectiveTTL caps the configured TTL by the remaining lifetime a JWT token advertises.
// Opaque tokens get the configured TTL unchanged.
func EffectiveTTL(value string, issuedAt time.Time, configured time.Duration) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return configured
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return configured
	}
	if remaining := exp.Time.Sub(issuedAt); remaining < configured {
		return remaining
	}
	return configured
}

func (m *Manager) ttl() time.Duration {
	if m.TTL <= 0 {
		return DefaultTTL
	}
	return m.TTL
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) logger() *zerolog.Logger {
	m.logOnce.Do(func() {
		m.log = telemetry.Component("tokens")
	})
	return &m.log
}

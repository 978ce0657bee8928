package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"litigation-backend/internal/credentials"
	"litigation-backend/internal/shared/telemetry"
)

// LoginSpec describes the login surface of one site.
type LoginSpec struct {
	URL string
	// TokenPattern identifies the login API response carrying the token.
	TokenPattern string
	// TokenPath is the dotted JSON path of the token in that response.
	TokenPath string
	// StorageKey is the localStorage key the SPA keeps the token under.
	StorageKey string

	AccountSelector string
	SecretSelector  string
}

// CapturedToken is the raw token observed during login.
type CapturedToken struct {
	Value      string
	CapturedAt time.Time
	// Source is "response", "header" or "storage".
	Source string
}

// LoginDriver performs an interactive login and returns the issued token.
// Implementations must honour ctx: the deadline bounds the human step.
type LoginDriver interface {
	Login(ctx context.Context, spec LoginSpec, cred credentials.Credential) (CapturedToken, error)
}

// ChromeDriver is a LoginDriver backed by a visible Chrome window.
// The operator solves the visual challenge and submits; the driver only watches.
type ChromeDriver struct {
	Options Options
	// PollInterval controls how often localStorage is checked for the token.
	PollInterval time.Duration

	log zerolog.Logger
}

var _ LoginDriver = (*ChromeDriver)(nil)

// NewChromeDriver constructs a ChromeDriver.
func NewChromeDriver(opts Options) *ChromeDriver {
	return &ChromeDriver{
		Options:      opts,
		PollInterval: time.Second,
		log:          telemetry.Component("browser.login"),
	}
}

const prefillTimeout = 20 * time.Second

type loginOutcome struct {
	token CapturedToken
	err   error
}

// Login opens the login page, pre-fills the account and secret, and waits until the
// site issues a token, rejects the login, or ctx ends.
func (d *ChromeDriver) Login(ctx context.Context, spec LoginSpec, cred credentials.Credential) (CapturedToken, error) {
	// Never headless: a human has to see the challenge.
	browserCtx, cancel := newSession(ctx, d.Options, false)
	defer cancel()

	outcome := make(chan loginOutcome, 1)
	var once sync.Once
	deliver := func(o loginOutcome) {
		once.Do(func() { outcome <- o })
	}

	var mu sync.Mutex
	watched := map[network.RequestID]bool{}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if MatchURL(e.Response.URL, spec.TokenPattern) {
				mu.Lock()
				watched[e.RequestID] = true
				mu.Unlock()
			}
		case *network.EventLoadingFinished:
			mu.Lock()
			ok := watched[e.RequestID]
			delete(watched, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// CDP calls cannot run inside the listener.
			go func(id network.RequestID) {
				body, err := responseBody(browserCtx, id)
				if err != nil {
					d.log.Warn().Err(err).Str("site", cred.Site).Msg("login response unreadable")
					return
				}
				if msg := RejectionMessage(body); msg != "" {
					deliver(loginOutcome{err: fmt.Errorf("%w: %s", ErrLoginRejected, msg)})
					return
				}
				if tok, err := TokenFromBody(body, spec.TokenPath); err == nil {
					deliver(loginOutcome{token: CapturedToken{Value: tok, CapturedAt: time.Now().UTC(), Source: "response"}})
				}
			}(e.RequestID)
		case *network.EventRequestWillBeSent:
			if tok := BearerFromHeaders(e.Request.Headers); tok != "" {
				deliver(loginOutcome{token: CapturedToken{Value: tok, CapturedAt: time.Now().UTC(), Source: "header"}})
			}
		}
	})

	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(spec.URL),
	)
	if err != nil {
		return CapturedToken{}, d.wrapRunErr(ctx, "open login page", err)
	}
	if err := d.prefill(browserCtx, spec, cred); err != nil {
		// The operator can still type by hand; keep waiting.
		d.log.Warn().Err(err).Str("site", cred.Site).Str("account", cred.Account).Msg("login prefill failed")
	}

	d.log.Info().Str("site", cred.Site).Str("account", cred.Account).Msg("waiting for interactive login")

	poll := d.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case o := <-outcome:
			return o.token, o.err
		case <-ctx.Done():
			return CapturedToken{}, ctx.Err()
		case <-ticker.C:
			if tok := d.storageToken(browserCtx, spec.StorageKey); tok != "" {
				return CapturedToken{Value: tok, CapturedAt: time.Now().UTC(), Source: "storage"}, nil
			}
		}
	}
}

func (d *ChromeDriver) prefill(ctx context.Context, spec LoginSpec, cred credentials.Credential) error {
	if spec.AccountSelector == "" || spec.SecretSelector == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, prefillTimeout)
	defer cancel()
	return chromedp.Run(ctx,
		chromedp.WaitVisible(spec.AccountSelector, chromedp.ByQuery),
		chromedp.SendKeys(spec.AccountSelector, cred.Account, chromedp.ByQuery),
		chromedp.SendKeys(spec.SecretSelector, cred.Secret, chromedp.ByQuery),
	)
}

func (d *ChromeDriver) storageToken(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	var val string
	script := fmt.Sprintf("window.localStorage.getItem(%q) || ''", key)
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &val)); err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(val), `"`)
}

func (d *ChromeDriver) wrapRunErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w", step, err)
}

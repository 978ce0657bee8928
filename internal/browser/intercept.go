package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"litigation-backend/internal/shared/telemetry"
)

// InterceptSpec describes one interception run.
type InterceptSpec struct {
	PageURL    string
	Pattern    string
	Token      string
	StorageKey string
}

// Interceptor watches page traffic for a structured response and returns its body.
type Interceptor struct {
	Options Options
	log     zerolog.Logger
}

// NewInterceptor constructs an Interceptor.
func NewInterceptor(opts Options) *Interceptor {
	return &Interceptor{Options: opts, log: telemetry.Component("browser.intercept")}
}

type capture struct {
	body []byte
	err  error
}

// Capture navigates to spec.PageURL and waits for the first response whose URL
// matches spec.Pattern. ctx bounds the wait; expiry yields ErrInterceptionTimeout.
func (i *Interceptor) Capture(ctx context.Context, spec InterceptSpec) ([]byte, error) {
	browserCtx, cancel := newSession(ctx, i.Options, i.Options.Headless)
	defer cancel()

	result := make(chan capture, 1)
	var once sync.Once
	deliver := func(c capture) {
		once.Do(func() { result <- c })
	}

	var mu sync.Mutex
	watched := map[network.RequestID]int64{}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if !MatchURL(e.Response.URL, spec.Pattern) {
				return
			}
			mu.Lock()
			watched[e.RequestID] = e.Response.Status
			mu.Unlock()
		case *network.EventLoadingFinished:
			mu.Lock()
			status, ok := watched[e.RequestID]
			delete(watched, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			go func(id network.RequestID) {
				if status >= 400 {
					deliver(capture{err: fmt.Errorf("documents api returned status %d", status)})
					return
				}
				body, err := responseBody(browserCtx, id)
				deliver(capture{body: body, err: err})
			}(e.RequestID)
		case *network.EventLoadingFailed:
			mu.Lock()
			_, ok := watched[e.RequestID]
			mu.Unlock()
			if ok {
				deliver(capture{err: fmt.Errorf("documents api load failed: %s", e.ErrorText)})
			}
		}
	})

	err := chromedp.Run(browserCtx,
		network.Enable(),
		seedStorage(spec.StorageKey, spec.Token),
		chromedp.Navigate(spec.PageURL),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutErr(ctx)
		}
		return nil, fmt.Errorf("open task page: %w", err)
	}

	select {
	case c := <-result:
		if c.err != nil {
			return nil, c.err
		}
		i.log.Debug().Int("bytes", len(c.body)).Msg("documents response intercepted")
		return c.body, nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	}
}

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInterceptionTimeout, ctx.Err())
	}
	return ctx.Err()
}

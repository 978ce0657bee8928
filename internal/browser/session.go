package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Options configures the Chrome allocator shared by every session kind.
type Options struct {
	ExecPath  string
	Headless  bool
	UserAgent string
}

// newSession starts a dedicated browser for one operation. The returned cancel
// closes the tab and kills the process; callers defer it on every path.
func newSession(ctx context.Context, opts Options, headless bool) (context.Context, context.CancelFunc) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}
}

// seedStorage installs the token into localStorage before any page script runs,
// so the SPA boots already signed in.
func seedStorage(key, token string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if key == "" || token == "" {
			return nil
		}
		script := fmt.Sprintf("try { window.localStorage.setItem(%q, %q); } catch (e) {}", key, token)
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	})
}

// responseBody reads a finished response body from the tab behind browserCtx.
func responseBody(browserCtx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		body = b
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	return body, nil
}

package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"litigation-backend/internal/audit"
	"litigation-backend/internal/shared/metrics"
)

const maxResponseBytes = 1 << 20

// Config configures the premium endpoint.
type Config struct {
	BaseURL     string
	Path        string
	TokenHeader string
	Timeout     time.Duration
	// RequestsPerSec and Burst pace calls across every caller of this client.
	RequestsPerSec float64
	Burst          int
}

// PremiumQuery is one provider quote for one amount.
type PremiumQuery struct {
	Amount          decimal.Decimal
	ProviderCode    string
	InstitutionCode string
}

// Client calls the premium-quote endpoint. It never retries.
type Client struct {
	baseURL     string
	path        string
	tokenHeader string
	timeout     time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	now         func() time.Time
}

// NewClient constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("PRICE_BASE_URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	header := strings.TrimSpace(cfg.TokenHeader)
	if header == "" {
		header = "Bearer"
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		path:        "/" + strings.TrimLeft(cfg.Path, "/"),
		tokenHeader: header,
		timeout:     timeout,
		httpClient:  &http.Client{},
		limiter:     limiter,
		now:         time.Now,
	}, nil
}

// FormatAmount renders an amount the way the endpoint accepts it: truncated toward
// zero with no decimal point. The endpoint rejects "3.00".
func FormatAmount(amount decimal.Decimal) string {
	return amount.Truncate(0).String()
}

// BuildURL returns the request URL with parameters in the order the site sends them.
func (c *Client) BuildURL(q PremiumQuery, at time.Time) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString(c.path)
	sb.WriteString("?preserveAmount=")
	sb.WriteString(url.QueryEscape(FormatAmount(q.Amount)))
	sb.WriteString("&insuranceCode=")
	sb.WriteString(url.QueryEscape(q.ProviderCode))
	sb.WriteString("&institutionCode=")
	sb.WriteString(url.QueryEscape(q.InstitutionCode))
	sb.WriteString("&time=")
	sb.WriteString(strconv.FormatInt(at.UnixMilli(), 10))
	return sb.String()
}

// FetchPremium performs one call and classifies it. The returned result always
// carries request and response snapshots, whatever the outcome.
func (c *Client) FetchPremium(ctx context.Context, token string, q PremiumQuery) PriceResult {
	sentAt := c.now()
	res := c.fetch(ctx, token, q, sentAt)
	metrics.ObserveProviderCall(string(res.Outcome), float64(res.Response.DurationMs))
	return res
}

func (c *Client) fetch(ctx context.Context, token string, q PremiumQuery, sentAt time.Time) PriceResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(q, sentAt), nil)
	if err != nil {
		return PriceResult{
			Outcome:  OutcomeTransportError,
			Err:      fmt.Errorf("%w: build request: %v", ErrProviderTransport, err),
			Response: audit.FailedResponse(audit.KindTransport, err, 0),
		}
	}
	req.Header.Set(c.tokenHeader, token)
	req.Header.Set("Accept", "application/json")

	reqSnap := audit.CaptureRequest(req, nil, sentAt, c.tokenHeader)

	if err := c.wait(ctx); err != nil {
		return c.failure(reqSnap, err, 0)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(callCtx)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failure(reqSnap, err, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		return c.failure(reqSnap, err, elapsed)
	}
	respSnap := audit.CaptureResponse(resp, body, elapsed)

	res := PriceResult{
		StatusCode: resp.StatusCode,
		Request:    reqSnap,
		Response:   respSnap,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Outcome = OutcomeHTTPError
		res.Err = &HTTPError{StatusCode: resp.StatusCode}
		res.Response.Failure = &audit.Failure{Kind: audit.KindHTTPError, Message: res.Err.Error()}
		return res
	}

	sched, premium, envErr := parseRate(body)
	switch {
	case envErr != nil:
		res.Outcome = OutcomeHTTPError
		res.Err = envErr
		res.Response.Failure = &audit.Failure{Kind: audit.KindHTTPError, Message: envErr.Error()}
	case sched == nil:
		res.Outcome = OutcomeNoRateData
		res.Err = ErrProviderNoRate
		res.Response.Failure = &audit.Failure{Kind: audit.KindNoRateData, Message: ErrProviderNoRate.Error()}
	default:
		res.Outcome = OutcomeRateData
		res.Rate = sched
		res.Premium = premium
	}
	return res
}

// wait takes a limiter slot. A slot that would only open after ctx's deadline is
// reported as a timeout straight away and handed back to the limiter.
func (c *Client) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter rejected the call")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
		r.Cancel()
		return fmt.Errorf("rate limit slot opens in %s, after the deadline: %w", delay, context.DeadlineExceeded)
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (c *Client) failure(reqSnap audit.RequestSnapshot, err error, elapsed time.Duration) PriceResult {
	if isTimeout(err) {
		return PriceResult{
			Outcome:  OutcomeTimeout,
			Err:      fmt.Errorf("%w: %v", ErrProviderTimeout, err),
			Request:  reqSnap,
			Response: audit.FailedResponse(audit.KindTimeout, err, elapsed),
		}
	}
	return PriceResult{
		Outcome:  OutcomeTransportError,
		Err:      fmt.Errorf("%w: %v", ErrProviderTransport, err),
		Request:  reqSnap,
		Response: audit.FailedResponse(audit.KindTransport, err, elapsed),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

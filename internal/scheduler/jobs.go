package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// QuoteSweeper re-runs failed providers of recent partially failed quote requests.
type QuoteSweeper interface {
	RetrySweep(ctx context.Context, window time.Duration, limit int) (int, error)
}

// RetrySweepJob retries partially failed quote requests updated within Window.
type RetrySweepJob struct {
	Quotes  QuoteSweeper
	Window  time.Duration
	Limit   int
	Timeout time.Duration
	Log     zerolog.Logger
}

func (j *RetrySweepJob) Name() string { return "quote_retry_sweep" }

func (j *RetrySweepJob) Run() error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := j.Quotes.RetrySweep(ctx, j.Window, j.Limit)
	if err != nil {
		return err
	}
	if n > 0 {
		j.Log.Info().Int("retried", n).Msg("quote retry sweep")
	}
	return nil
}

// TokenPruner drops expired entries from the token cache.
type TokenPruner interface {
	Prune(ctx context.Context) int
}

// TokenPruneJob keeps the token cache from holding expired tokens.
type TokenPruneJob struct {
	Cache TokenPruner
	Log   zerolog.Logger
}

func (j *TokenPruneJob) Name() string { return "token_cache_prune" }

func (j *TokenPruneJob) Run() error {
	if n := j.Cache.Prune(context.Background()); n > 0 {
		j.Log.Debug().Int("pruned", n).Msg("token cache pruned")
	}
	return nil
}

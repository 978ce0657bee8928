package quotes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request statuses.
const (
	StatusPending         = "pending"
	StatusRunning         = "running"
	StatusCompleted       = "completed"
	StatusPartiallyFailed = "partially_failed"
	StatusFailed          = "failed"
)

// Result statuses.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// QuoteRequest is one business-level ask for premiums across a set of providers.
type QuoteRequest struct {
	ID              string          `json:"id"`
	CaseRef         string          `json:"caseRef"`
	Amount          decimal.Decimal `json:"amount"`
	InstitutionCode string          `json:"institutionCode,omitempty"`
	Providers       []string        `json:"providers"`
	Account         string          `json:"account,omitempty"`
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// QuoteResult is a single provider attempt. Rows are never updated; a retry appends a new attempt.
type QuoteResult struct {
	ID               string              `json:"id"`
	RequestID        string              `json:"requestId"`
	ProviderCode     string              `json:"providerCode"`
	Attempt          int                 `json:"attempt"`
	Status           string              `json:"status"`
	ErrorKind        string              `json:"errorKind,omitempty"`
	Premium          decimal.NullDecimal `json:"premium"`
	MinPremium       decimal.NullDecimal `json:"minPremium"`
	MaxPremium       decimal.NullDecimal `json:"maxPremium"`
	MinRate          decimal.NullDecimal `json:"minRate"`
	MaxRate          decimal.NullDecimal `json:"maxRate"`
	MaxAmount        decimal.NullDecimal `json:"maxAmount"`
	RequestSnapshot  string              `json:"requestSnapshot,omitempty"`
	ResponseSnapshot string              `json:"responseSnapshot,omitempty"`
	StartedAt        time.Time           `json:"startedAt"`
	CompletedAt      time.Time           `json:"completedAt"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// QuoteSummary is what the business layer shows: the request plus the latest attempt per provider.
type QuoteSummary struct {
	Request QuoteRequest  `json:"request"`
	Results []QuoteResult `json:"results"`
	Quoted  int           `json:"quoted"`
	Total   int           `json:"total"`
}

// SubmitInput carries the caller-supplied fields of a new request.
type SubmitInput struct {
	CaseRef         string
	Amount          decimal.Decimal
	InstitutionCode string
	Providers       []string
	Account         string
}

// LatestByProvider keeps the highest attempt per provider code.
func LatestByProvider(results []QuoteResult) map[string]QuoteResult {
	latest := make(map[string]QuoteResult, len(results))
	for _, r := range results {
		if cur, ok := latest[r.ProviderCode]; !ok || r.Attempt > cur.Attempt {
			latest[r.ProviderCode] = r
		}
	}
	return latest
}

// Aggregate derives the request status from the latest result of every requested provider.
// A provider with no result yet counts as not succeeded.
func Aggregate(providers []string, latest map[string]QuoteResult) string {
	if len(providers) == 0 {
		return StatusFailed
	}
	succeeded := 0
	for _, code := range providers {
		if r, ok := latest[code]; ok && r.Status == ResultSuccess {
			succeeded++
		}
	}
	switch succeeded {
	case len(providers):
		return StatusCompleted
	case 0:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

// Summarize builds a summary ordered like the request's provider list.
func Summarize(req QuoteRequest, results []QuoteResult) QuoteSummary {
	latest := LatestByProvider(results)
	summary := QuoteSummary{Request: req, Total: len(req.Providers), Results: []QuoteResult{}}
	for _, code := range req.Providers {
		r, ok := latest[code]
		if !ok {
			continue
		}
		summary.Results = append(summary.Results, r)
		if r.Status == ResultSuccess {
			summary.Quoted++
		}
	}
	return summary
}

package quotes

import (
	"context"
	"time"
)

// Repo defines persistence operations for quote requests and their results.
type Repo interface {
	CreateRequest(ctx context.Context, req QuoteRequest) error
	GetRequest(ctx context.Context, id string) (QuoteRequest, error)
	UpdateRequestStatus(ctx context.Context, id, status, errMsg string, at time.Time) error
	InsertResult(ctx context.Context, res QuoteResult) error
	ListResults(ctx context.Context, requestID string) ([]QuoteResult, error)
	ListRequestsByStatus(ctx context.Context, status string, since time.Time, limit int) ([]QuoteRequest, error)
}

package quotes

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores quote requests and results in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	requests map[string]QuoteRequest
	results  map[string][]QuoteResult
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		requests: make(map[string]QuoteRequest),
		results:  make(map[string][]QuoteResult),
	}
}

// CreateRequest stores the request.
func (r *MemoryRepo) CreateRequest(ctx context.Context, req QuoteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req.Providers = append([]string(nil), req.Providers...)
	r.requests[req.ID] = req
	return nil
}

// GetRequest returns a request by ID.
func (r *MemoryRepo) GetRequest(ctx context.Context, id string) (QuoteRequest, error) {
	if err := ctx.Err(); err != nil {
		return QuoteRequest{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return QuoteRequest{}, ErrNotFound
	}
	req.Providers = append([]string(nil), req.Providers...)
	return req, nil
}

// UpdateRequestStatus sets status and error on a request.
func (r *MemoryRepo) UpdateRequestStatus(ctx context.Context, id, status, errMsg string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	req.Error = errMsg
	req.UpdatedAt = at.UTC()
	r.requests[id] = req
	return nil
}

// InsertResult appends an attempt, rejecting a repeated (provider, attempt) pair.
func (r *MemoryRepo) InsertResult(ctx context.Context, res QuoteResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.results[res.RequestID] {
		if existing.ProviderCode == res.ProviderCode && existing.Attempt == res.Attempt {
			return ErrDuplicateAttempt
		}
	}
	r.results[res.RequestID] = append(r.results[res.RequestID], res)
	return nil
}

// ListResults returns every attempt for a request ordered by provider then attempt.
func (r *MemoryRepo) ListResults(ctx context.Context, requestID string) ([]QuoteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := append([]QuoteResult(nil), r.results[requestID]...)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderCode != out[j].ProviderCode {
			return out[i].ProviderCode < out[j].ProviderCode
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

// ListRequestsByStatus returns matching requests updated at or after since, oldest first.
func (r *MemoryRepo) ListRequestsByStatus(ctx context.Context, status string, since time.Time, limit int) ([]QuoteRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []QuoteRequest
	for _, req := range r.requests {
		if req.Status == status && !req.UpdatedAt.Before(since) {
			out = append(out, req)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

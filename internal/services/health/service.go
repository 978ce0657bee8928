package health

import (
	"context"
	"sync"
	"time"
)

const defaultTimeout = 2 * time.Second

// Check tests one dependency. A nil error means healthy.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	Checks  []Check
	Timeout time.Duration
}

// NewService constructs a new health service.
func NewService(checks ...Check) *Service {
	return &Service{Checks: checks}
}

// Status runs every check concurrently and reports each by name. ok is false when
// any check fails.
func (s *Service) Status(ctx context.Context) (map[string]string, bool) {
	out := map[string]string{}
	if s == nil || len(s.Checks) == 0 {
		return out, true
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
		ok = true
	)
	for _, check := range s.Checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			err := check.Fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out[check.Name] = err.Error()
				ok = false
				return
			}
			out[check.Name] = "ok"
		}(check)
	}
	wg.Wait()
	return out, ok
}

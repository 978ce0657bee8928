package quotes

import "errors"

var (
	ErrNotFound              = errors.New("quote request not found")
	ErrInvalidInput          = errors.New("invalid quote request")
	ErrNoProviders           = errors.New("no eligible providers")
	ErrNoTokenAvailable      = errors.New("no token available")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
	ErrDuplicateAttempt      = errors.New("quote result attempt already recorded")
)

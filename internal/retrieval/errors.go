package retrieval

import (
	"errors"
	"fmt"

	"litigation-backend/internal/browser"
)

var (
	ErrNotFound              = errors.New("document task not found")
	ErrInvalidInput          = errors.New("invalid document task")
	ErrNoTokenAvailable      = errors.New("no token available")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
	ErrFallbackFailed        = errors.New("document fallback failed")
	ErrDownloadFailed        = errors.New("document download failed")
	ErrMalformedDocumentList = errors.New("malformed document list")

	// ErrInterceptionTimeout is re-exported so callers need not import browser.
	ErrInterceptionTimeout = browser.ErrInterceptionTimeout
)

// FallbackFailedError is returned when interception and the scraping fallback both
// failed. errors.Is matches ErrFallbackFailed and either cause.
type FallbackFailedError struct {
	Interception error
	Fallback     error
}

func (e *FallbackFailedError) Error() string {
	return fmt.Sprintf("interception: %v; fallback: %v", e.Interception, e.Fallback)
}

func (e *FallbackFailedError) Is(target error) bool {
	return target == ErrFallbackFailed
}

func (e *FallbackFailedError) Unwrap() []error {
	return []error{e.Interception, e.Fallback}
}

// DownloadError ties a failed download to its document.
type DownloadError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: http %d", e.Key, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.Key, e.Err)
}

func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

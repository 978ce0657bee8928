package tokens

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrRefreshTimeout        = errors.New("token refresh timed out")
	ErrRefreshRejected       = errors.New("token refresh rejected")
	ErrRefreshAbandoned      = errors.New("token refresh abandoned")
	ErrNoCredentials         = errors.New("no enabled credentials")
)

// AccountError ties a refresh failure to the account it happened on.
type AccountError struct {
	Account string
	Err     error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%s: %v", e.Account, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// CredentialUnavailableError is returned when no account on a site could produce a
// valid token. It keeps every per-account cause so errors.Is sees all of them.
type CredentialUnavailableError struct {
	Site   string
	Causes []error
}

func (e *CredentialUnavailableError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("credential unavailable for site %s", e.Site)
	}
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("credential unavailable for site %s: %s", e.Site, strings.Join(parts, "; "))
}

func (e *CredentialUnavailableError) Is(target error) bool {
	return target == ErrCredentialUnavailable
}

func (e *CredentialUnavailableError) Unwrap() []error {
	return e.Causes
}

// FailureDetails flattens a CredentialUnavailableError into per-account entries for API
// responses. It returns nil for any other error.
func FailureDetails(err error) []map[string]string {
	var unavailable *CredentialUnavailableError
	if !errors.As(err, &unavailable) {
		return nil
	}
	out := make([]map[string]string, 0, len(unavailable.Causes))
	for _, cause := range unavailable.Causes {
		var accErr *AccountError
		if errors.As(cause, &accErr) {
			out = append(out, map[string]string{"account": accErr.Account, "issue": accErr.Err.Error()})
			continue
		}
		out = append(out, map[string]string{"issue": cause.Error()})
	}
	return out
}

package browser

import "errors"

var (
	// ErrLoginRejected means the site answered the login with a failure code.
	ErrLoginRejected = errors.New("login rejected")
	// ErrInterceptionTimeout means the watched response never arrived in time.
	ErrInterceptionTimeout = errors.New("interception timed out")
	// ErrNoDocumentsFound means the page rendered but listed nothing.
	ErrNoDocumentsFound = errors.New("no documents found on page")
)

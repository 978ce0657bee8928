package credentials

import "errors"

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrTokenNotFound      = errors.New("token not found")
)

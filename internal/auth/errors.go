package auth

import "errors"

var (
	// ErrNotAuthenticated means no credential is stored.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrCorruptCredentials means the credential file exists but cannot be decoded.
	ErrCorruptCredentials = errors.New("credential file is corrupt")
)

// AuthenticationError is never retried automatically; the user has to log in again.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " (run 'kanuni auth login')"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or anything it wraps) is an AuthenticationError.
func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

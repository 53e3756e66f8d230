package remote

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// TransientError is a failure worth retrying with the same inputs: a network
// error or a non-2xx status other than 401/403.
type TransientError struct {
	Op         string
	Path       string
	StatusCode int // 0 for network errors
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable marks the error for the retry package.
func (e *TransientError) Retryable() bool { return true }

// AuthError means the server rejected the token or credentials (401/403).
// It is never retried; the whole run has to stop.
type AuthError struct {
	Op         string
	Path       string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: not authorized (HTTP %d)", e.Op, e.Path, e.StatusCode)
}

// MalformedResponseError means a 2xx response whose payload did not have the
// expected shape. Retrying does not help.
type MalformedResponseError struct {
	Op     string
	Path   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s %s: malformed response: %s", e.Op, e.Path, e.Reason)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is, or wraps, a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// CheckStatus maps a response status to the error taxonomy. It returns nil
// for 2xx responses.
func CheckStatus(op, path string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Op: op, Path: path, StatusCode: resp.StatusCode}
	default:
		return &TransientError{
			Op:         op,
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}
}

// NetworkError wraps a transport level failure as transient.
func NetworkError(op, path string, err error) error {
	return &TransientError{Op: op, Path: path, Err: err}
}

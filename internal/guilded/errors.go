package guilded

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AuthError is returned when the API rejects the session cookie.  It is
// fatal:  no amount of retrying will make an expired hmac_signed_session
// valid again.
type AuthError struct {
	Err error
}

func (ae *AuthError) Error() string {
	return fmt.Sprintf("failed to authenticate: %s", ae.Err)
}

func (ae *AuthError) Unwrap() error {
	return ae.Err
}

func (ae *AuthError) Is(target error) bool {
	return target == ae.Err
}

// StatusCodeError is returned when the API returns a non-2xx status code
// that is not a rate limit or an authentication failure.
type StatusCodeError struct {
	Code   int
	Status string
}

func (t StatusCodeError) Error() string {
	return fmt.Sprintf("guilded server error: %s", t.Status)
}

func (t StatusCodeError) HTTPStatusCode() int {
	return t.Code
}

// RateLimitedError is returned when the API returns 429.  RetryAfter is
// the server-declared value from the Retry-After header, or defRetryAfter
// if the server did not bother to send one.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsForbidden reports whether err is a 403 status error.  Forbidden
// channels are skipped by the caller, not retried.
func IsForbidden(err error) bool {
	var sce StatusCodeError
	return errors.As(err, &sce) && sce.Code == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 status error.
func IsNotFound(err error) bool {
	var sce StatusCodeError
	return errors.As(err, &sce) && sce.Code == http.StatusNotFound
}

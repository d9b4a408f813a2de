package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
)

// StatusError is a non-2xx response from the remote service. It carries
// the status code and the service's own message for display.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote returned status %d", e.Op, e.StatusCode)
	}

	return fmt.Sprintf("%s: remote returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is maps the status code onto the error taxonomy: rejected credentials
// are ErrAuthentication, everything else is ErrRemoteService.
func (e *StatusError) Is(target error) bool {
	switch target {
	case pberrors.ErrAuthentication:
		return e.authFailure()
	case pberrors.ErrRemoteService:
		return !e.authFailure()
	}

	return false
}

// authFailure is true for 401, and for 403 unless the service says it is
// rate limiting (GitHub uses 403 for both).
func (e *StatusError) authFailure() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return !strings.Contains(strings.ToLower(e.Message), "rate limit")
	}

	return false
}

// TimeoutError wraps a call that hit its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	return target == pberrors.ErrTimeout
}

// WrapTransport classifies a transport-level failure. Deadline and
// network timeouts become TimeoutError so callers can record them as
// per-file failures; anything else is returned wrapped with op.
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

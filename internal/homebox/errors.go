package homebox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	// ErrNotPaired means no valid application token exists for the hub;
	// the pairing flow must run before authenticated calls can succeed.
	ErrNotPaired = errors.New("homebox: not paired")

	// ErrPermissionDenied means the hub rejected the call because the
	// granted permission set does not cover it.
	ErrPermissionDenied = errors.New("homebox: permission denied")

	ErrPairingDenied  = errors.New("homebox: pairing request denied on the hub")
	ErrPairingTimeout = errors.New("homebox: pairing request timed out")
)

// APIError is a hub reply with success=false.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	if e == nil {
		return "homebox api error"
	}
	if e.Msg == "" {
		return fmt.Sprintf("homebox api: %s", e.Code)
	}
	return fmt.Sprintf("homebox api: %s (%s)", e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case "insufficient_rights":
		return ErrPermissionDenied
	case "invalid_token", "new_apps_denied", "apps_denied":
		return ErrNotPaired
	}
	return nil
}

// HTTPError is a reply whose body did not carry the API envelope.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "homebox http error"
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is worth retrying on a later tick or
// cycle: network trouble, timeouts, 5xx replies and the hub's own
// retryable error codes. Permission and pairing errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNotPaired) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.Status >= 500
	}

	var aerr *APIError
	if errors.As(err, &aerr) {
		switch aerr.Code {
		case "internal_error", "ratelimited", "auth_required":
			return true
		}
		return false
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "connection refused") {
		return true
	}
	if strings.Contains(message, "connection reset") {
		return true
	}
	if strings.Contains(message, "broken pipe") {
		return true
	}
	if strings.Contains(message, "i/o timeout") {
		return true
	}
	return false
}

// IsPermission reports whether err is the hub refusing for lack of rights.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

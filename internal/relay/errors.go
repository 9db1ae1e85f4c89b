package relay

import (
	"errors"
	"fmt"
)

// ErrDeviceTokenExpired marks a 401 from the control plane (or a locally
// known-expired token). It is fatal: the supervisor exits and the user must
// re-run setup. Reconnection cannot heal it.
var ErrDeviceTokenExpired = errors.New("device token expired")

// ErrUnauthorized is returned when the end-user credential is rejected
// during registration.
var ErrUnauthorized = errors.New("unauthorized")

// TransientError covers network failures, 5xx, and 429 responses. The
// owning loop logs it and retries on its own schedule.
type TransientError struct {
	StatusCode int // 0 when the request never reached the server
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("relay API transient error (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("relay API unreachable: %v", e.Err)
	}
	return "relay API transient error: " + e.Message
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError covers 4xx responses other than 401 and malformed response
// bodies. The caller logs it and moves on; the work is dropped.
type ProtocolError struct {
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("relay API protocol error (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying on the next tick.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

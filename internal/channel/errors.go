package channel

import (
	"errors"
	"fmt"
	"net/http"
)

// ExchangeError is the taxonomy boundary between raw transport failures and
// the synchronization engine. Lower layers produce it; nothing above the
// manager ever sees a transport-specific error.
type ExchangeError struct {
	// Status is the HTTP status (or mapped equivalent), 0 when the call
	// never reached the server.
	Status int
	// Connectivity marks transient network unreachability: the outbound
	// queue must be preserved for a later attempt.
	Connectivity bool
	// Fields carries field-keyed validation detail for semantic rejections.
	Fields map[string][]string
	Err    error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Connectivity:
		return fmt.Sprintf("exchange failed: no connectivity: %v", e.Err)
	case len(e.Fields) > 0:
		return fmt.Sprintf("exchange rejected: status=%d validation=%v", e.Status, e.Fields)
	case e.Status != 0:
		return fmt.Sprintf("exchange failed: status=%d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("exchange failed: %v", e.Err)
	}
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// NewConnectivityError wraps a transport error that never produced a server
// response.
func NewConnectivityError(err error) *ExchangeError {
	return &ExchangeError{Connectivity: true, Err: err}
}

// IsConnectivity reports whether err represents transient network failure.
func IsConnectivity(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Connectivity
}

// IsAuth reports whether err represents an expired or suspended credential.
func IsAuth(err error) bool {
	var ee *ExchangeError
	if !errors.As(err, &ee) {
		return false
	}
	return ee.Status == http.StatusUnauthorized || ee.Status == http.StatusForbidden
}

// ValidationFields extracts field-keyed validation detail, nil when err is
// not a validation rejection.
func ValidationFields(err error) map[string][]string {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Fields
	}
	return nil
}

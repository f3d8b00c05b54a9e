package auth

import (
	"errors"
	"fmt"
)

// ErrLoginRequired is returned when a valid session is needed but the manager
// is not allowed to run the interactive device-code flow.
var ErrLoginRequired = errors.New("authentication required but interactive login is disabled")

// HTTPError is a response from an auth endpoint with status >= 400, carrying
// the server's best-effort human-readable detail.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

package devices

import "fmt"

// ConnectivityError is a transport-level failure reaching a lab server: DNS,
// connection refused, timeout. It is always surfaced, never retried.
type ConnectivityError struct {
	Origin string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.Origin, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ServerError is a request the server understood but rejected: an HTTP error
// with a detail/error payload, or a method call whose reply carried detail
// instead of a result. Body holds the raw response when no structured detail
// was available.
type ServerError struct {
	StatusCode int
	Detail     string
	Body       string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server error: %s", e.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

package authority

import (
	"context"
	"errors"
	"net"
)

// Errors returned by the authority client.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, authority.ErrTransport) {
//	    // the batch never reached a verdict; retry later
//	}
var (
	// ErrTransport is returned when a request to the authority did not
	// complete: network failure, timeout, non-2xx status, or an
	// undecodable response body.
	ErrTransport = errors.New("authority transport failure")

	// ErrOffline is returned when the authority failed its liveness probe.
	ErrOffline = errors.New("authority is offline")

	// ErrNoBaseURL is returned when the client is built without a base URL.
	ErrNoBaseURL = errors.New("authority base URL not configured")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Transport failures and timeouts are retryable; rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrOffline) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

package netclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// StatusError reports an HTTP response with a status code of 400 or above.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

var transientErrnos = []syscall.Errno{
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
}

// IsTransient reports whether err is a socket or DNS failure worth retrying.
// HTTP status errors and cancellations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

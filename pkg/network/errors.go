package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrBodyTooLarge is wrapped in a TransportError when a response body is
// longer than the read cap.
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseBodyBytes)

// ErrorKind classifies connection-level failures.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindConnectionRefused
	KindTimeout
	KindReset
	KindBodyTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionRefused:
		return "connection_refused"
	case KindTimeout:
		return "timeout"
	case KindReset:
		return "reset"
	case KindBodyTooLarge:
		return "body_too_large"
	default:
		return "other"
	}
}

// TransportError is returned by Send when no HTTP response was obtained.
type TransportError struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network: %s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func classify(err error) ErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return KindReset
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	default:
		return KindOther
	}
}

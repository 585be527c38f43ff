package job

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

var (
	// ErrInvalidPayload is returned when a job payload is malformed or empty.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrPermissionDenied is returned when the remote store rejects the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMediaNotFound is returned when the media record does not exist.
	ErrMediaNotFound = errors.New("media not found")

	// ErrMaxAttemptsExceeded is returned when a job has used up its retry budget.
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// TransientError wraps failures that should trigger a delayed re-enqueue:
// timeouts, connection resets, remote 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// IsTransient classifies an error as retryable. Anything not recognized
// here is treated as terminal and fails the job without a retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Terminal sentinels always win, even if wrapped.
	if errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrMediaNotFound) ||
		errors.Is(err, ErrMaxAttemptsExceeded) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Remote 5xx-equivalents from the object store.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InternalError", "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return true
		case "AccessDenied":
			return false
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	// amqp091 returns plain errors for broken channels.
	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "channel/connection is not open") {
		return true
	}

	return false
}

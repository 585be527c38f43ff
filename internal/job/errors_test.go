package job

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

type fakeAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "invalid payload is terminal",
			err:  fmt.Errorf("decode: %w", ErrInvalidPayload),
			want: false,
		},
		{
			name: "permission denied is terminal",
			err:  ErrPermissionDenied,
			want: false,
		},
		{
			name: "media not found is terminal",
			err:  ErrMediaNotFound,
			want: false,
		},
		{
			name: "explicit transient wrapper",
			err:  NewTransientError(errors.New("flaky thing")),
			want: true,
		},
		{
			name: "wrapped transient wrapper",
			err:  fmt.Errorf("upload: %w", NewTransientError(errors.New("flaky"))),
			want: true,
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("upload: %w", context.DeadlineExceeded),
			want: true,
		},
		{
			name: "net timeout",
			err:  fmt.Errorf("dial: %w", timeoutNetError{}),
			want: true,
		},
		{
			name: "connection reset",
			err:  fmt.Errorf("write: %w", syscall.ECONNRESET),
			want: true,
		},
		{
			name: "connection refused",
			err:  syscall.ECONNREFUSED,
			want: true,
		},
		{
			name: "s3 slow down",
			err:  &fakeAPIError{code: "SlowDown", fault: smithy.FaultServer},
			want: true,
		},
		{
			name: "s3 internal error",
			err:  &fakeAPIError{code: "InternalError", fault: smithy.FaultServer},
			want: true,
		},
		{
			name: "s3 access denied is terminal",
			err:  &fakeAPIError{code: "AccessDenied", fault: smithy.FaultClient},
			want: false,
		},
		{
			name: "s3 client fault is terminal",
			err:  &fakeAPIError{code: "NoSuchBucket", fault: smithy.FaultClient},
			want: false,
		},
		{
			name: "s3 unknown server fault is transient",
			err:  &fakeAPIError{code: "Backoff", fault: smithy.FaultServer},
			want: true,
		},
		{
			name: "amqp channel closed",
			err:  errors.New("Exception (504) Reason: channel/connection is not open"),
			want: true,
		},
		{
			name: "plain error is terminal",
			err:  errors.New("image too ugly"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := NewTransientError(inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "transient error")
	assert.Contains(t, err.Error(), "root cause")
}

package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is the taxonomy of terminal/attempt failures a job can record.
// It is a kind, not a Go type hierarchy: one flat string enum persisted
// verbatim into the store.
type ErrorCode string

const (
	ErrDNSFail          ErrorCode = "DNS_FAIL"
	ErrConnectFail      ErrorCode = "CONNECT_FAIL"
	ErrTLSFail          ErrorCode = "TLS_FAIL"
	ErrHTTP4xx          ErrorCode = "HTTP_4XX"
	ErrHTTP5xx          ErrorCode = "HTTP_5XX"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrRangeUnsupported ErrorCode = "RANGE_UNSUPPORTED"
	ErrDiskFull         ErrorCode = "DISK_FULL"
	ErrRemoteChanged    ErrorCode = "REMOTE_CHANGED"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCancelled        ErrorCode = "CANCELLED"
	ErrInvalidURL       ErrorCode = "INVALID_URL"
	ErrUnknown          ErrorCode = "UNKNOWN"
)

// retryable is the set of codes that advance the failover loop to the next
// candidate URL rather than terminating the download.
var retryable = map[ErrorCode]bool{
	ErrDNSFail:          true,
	ErrConnectFail:      true,
	ErrTLSFail:          true,
	ErrHTTP5xx:          true,
	ErrTimeout:          true,
	ErrRangeUnsupported: true,
}

// Retryable reports whether code should advance to the next mirror
// candidate instead of terminating the download.
func (c ErrorCode) Retryable() bool {
	return retryable[c]
}

// CodedError pairs a taxonomy code with a human message and, usually, an
// underlying wrapped error from the transport layer.
type CodedError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

func WrapCoded(code ErrorCode, cause error, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *CodedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Cause() error { return e.cause }
func (e *CodedError) Unwrap() error { return e.cause }

// CodeOf extracts the taxonomy code carried by err, walking wrapped causes
// via pkg/errors.Cause. Returns ErrUnknown when err carries no CodedError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if ce, ok := e.(*CodedError); ok {
			return ce.Code
		}
		cause := errors.Cause(e)
		if cause == e {
			break
		}
		e = cause
	}
	return ErrUnknown
}

// File: internal/dispatch/errors.go
package dispatch

import (
	"context"
	"errors"

	"github.com/xkilldash9x/irpa-agent/internal/automation"
)

// ErrorCode classifies the outcome of an operation for logs and metrics.
type ErrorCode string

const (
	CodeOK                    ErrorCode = "OK"
	CodeUnsupportedOperation  ErrorCode = "UNSUPPORTED_OPERATION"
	CodeCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"
	CodeInvalidParameters     ErrorCode = "INVALID_PARAMETERS"
	CodeExecutionFailure      ErrorCode = "EXECUTION_FAILURE"
	CodeTimeoutError          ErrorCode = "TIMEOUT_ERROR"
)

var (
	// ErrUnsupportedOperation is reported for an operation name with no handler.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidParameters wraps every parameter validation failure.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrMissingOperation is reported when the request carries no operation name.
	ErrMissingOperation = errors.New("missing operation")
)

func classify(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrUnsupportedOperation):
		return CodeUnsupportedOperation
	case errors.Is(err, automation.ErrCapabilityUnavailable):
		return CodeCapabilityUnavailable
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrMissingOperation):
		return CodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeoutError
	default:
		return CodeExecutionFailure
	}
}

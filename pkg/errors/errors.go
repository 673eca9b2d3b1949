package errors

import (
	"errors"
	"fmt"
)

// Code identifies the category of an AppError so callers can branch on it
// without string-matching messages.
type Code string

const (
	// CodeInvalidArgument marks a construction or submission call rejected
	// because of an out-of-range or missing parameter.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeShutDown marks a submission rejected because the wheel or
	// scheduler has already been shut down.
	CodeShutDown Code = "SHUT_DOWN"
	// CodeTaskFailure marks a user task that panicked during expiration.
	// It never propagates out of the worker; it is only ever handed to an
	// uncaught-handler hook.
	CodeTaskFailure Code = "TASK_FAILURE"
	// CodeInternal is the catch-all for wrapped errors with no more
	// specific classification.
	CodeInternal Code = "INTERNAL"
)

// AppError is the structured error type used across the module: a stable
// Code for programmatic handling, a human-readable Message, and an optional
// wrapped Err for chaining.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

// New builds an AppError directly from a code, message and optional cause.
func New(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// InvalidArgument builds a CodeInvalidArgument error, e.g. for a wheel
// constructed with a non-positive tick duration or width.
func InvalidArgument(message string, err error) *AppError {
	return New(CodeInvalidArgument, message, err)
}

// ShutDown builds a CodeShutDown error, returned when a submission is
// rejected because the wheel or scheduler has already been shut down.
func ShutDown(message string, err error) *AppError {
	return New(CodeShutDown, message, err)
}

// TaskFailure builds a CodeTaskFailure error for a user task that panicked
// during expiration. The worker itself never constructs one of these
// directly — it recovers the panic and hands it to an UncaughtPanicHandler
// hook — but a hook that wants to surface the failure as an error can use
// this constructor to do so in the module's own idiom.
func TaskFailure(message string, err error) *AppError {
	return New(CodeTaskFailure, message, err)
}

// Internal builds a CodeInternal error, the catch-all for failures with no
// more specific classification.
func Internal(message string, err error) *AppError {
	return New(CodeInternal, message, err)
}

// Wrap annotates err with message, preserving its Code if it is already an
// AppError and falling back to CodeInternal otherwise. Wrap(nil, ...)
// returns nil.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Err: ae.Err}
	}
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying cause.
func (e *AppError) Unwrap() error { return e.Err }

// Is reports whether target is an AppError with the same Code, so callers
// can write errors.Is(err, errors.New(CodeShutDown, "", nil)).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsCode reports whether err is (or wraps) an AppError carrying code.
func IsCode(err error, code Code) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}

package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found")
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed")
	ErrInternal           = NewError("INTERNAL_ERROR", "internal error")
	ErrConflict           = NewError("CONFLICT", "concurrent modification detected")
	ErrTransportDown      = NewError("TRANSPORT_UNAVAILABLE", "transport unavailable")
	ErrPublishFailed      = NewError("PUBLISH_FAILED", "message publish failed")
	ErrUnknownEventType   = NewError("UNKNOWN_EVENT_TYPE", "unknown event type")
	ErrStepExecution      = NewError("STEP_EXECUTION_FAILED", "saga step execution failed")
	ErrSagaStuck          = NewError("SAGA_STUCK", "saga exceeded staleness threshold")
	ErrTimeout            = NewError("TIMEOUT", "operation timed out")
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var appErr *Error
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrValidation.Code && e.Code != ErrNotFound.Code && e.Code != ErrUnknownEventType.Code
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	} else {
		details := make(map[string]interface{}, len(err.Details)+1)
		for k, v := range err.Details {
			details[k] = v
		}
		err.Details = details
	}
	err.Details[key] = value
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsUnknownEventType(err error) bool {
	return hasCode(err, ErrUnknownEventType.Code)
}

func IsTransportDown(err error) bool {
	return hasCode(err, ErrTransportDown.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

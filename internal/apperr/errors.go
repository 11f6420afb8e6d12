// Package apperr defines the error taxonomy shared by the pipeline core.
// Every error carries a string code so callers can classify it without
// depending on concrete types.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error class. Codes are strings so they serialize
// naturally into API responses and task records.
type Code string

const (
	CodeConnection         Code = "CONNECTION_ERROR"
	CodeUnsupportedType    Code = "UNSUPPORTED_TYPE"
	CodeInvalidIdentifier  Code = "INVALID_IDENTIFIER"
	CodeStatementExecution Code = "STATEMENT_EXECUTION_FAILED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeNotCancellable     Code = "NOT_CANCELLABLE"
	CodeNotRetryable       Code = "NOT_RETRYABLE"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidConfig      Code = "INVALID_CONFIGURATION"
	CodeInvalidOptions     Code = "INVALID_OPTIONS"
	CodeInternal           Code = "INTERNAL"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() Code
}

// CodeOf walks the error chain and returns the first code found, or
// CodeInternal when the chain carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// ConnectionError reports an unreachable engine or an authentication failure.
type ConnectionError struct {
	Engine string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
func (e *ConnectionError) Code() Code    { return CodeConnection }

// UnsupportedTypeError is returned when a column type has no mapping.
type UnsupportedTypeError struct {
	TypeName string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported column type %q", e.TypeName)
}

func (e *UnsupportedTypeError) Code() Code { return CodeUnsupportedType }

// InvalidIdentifierError is returned for names that cannot be safely quoted
// in the target dialect.
type InvalidIdentifierError struct {
	Name    string
	Dialect string
	Reason  string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier %q: %s", e.Dialect, e.Name, e.Reason)
}

func (e *InvalidIdentifierError) Code() Code { return CodeInvalidIdentifier }

// StatementExecutionError wraps the raw engine error for one pipeline step.
type StatementExecutionError struct {
	Step   string
	Engine string
	Err    error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("step %s on %s: %v", e.Step, e.Engine, e.Err)
}

func (e *StatementExecutionError) Unwrap() error { return e.Err }
func (e *StatementExecutionError) Code() Code    { return CodeStatementExecution }

// NotFoundError is returned for unknown tasks or connection configs.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Code() Code { return CodeNotFound }

// NotCancellableError is returned when cancel targets a terminal task.
type NotCancellableError struct {
	TaskID int64
	Status string
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("task %d is %s and cannot be cancelled", e.TaskID, e.Status)
}

func (e *NotCancellableError) Code() Code { return CodeNotCancellable }

// NotRetryableError is returned when retry targets a task that has not failed.
type NotRetryableError struct {
	TaskID int64
	Status string
}

func (e *NotRetryableError) Error() string {
	return fmt.Sprintf("task %d is %s; only failed tasks can be retried", e.TaskID, e.Status)
}

func (e *NotRetryableError) Code() Code { return CodeNotRetryable }

// ValidationError covers malformed requests, configs and option blobs.
type ValidationError struct {
	Kind    Code
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Code() Code {
	if e.Kind == "" {
		return CodeInvalidInput
	}
	return e.Kind
}

// InvalidInput builds a ValidationError with CodeInvalidInput.
func InvalidInput(format string, args ...any) error {
	return &ValidationError{Kind: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidConfig builds a ValidationError with CodeInvalidConfig.
func InvalidConfig(format string, args ...any) error {
	return &ValidationError{Kind: CodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

package mcp

import (
	"errors"
	"fmt"
)

// Error codes carried in ErrorDescriptor and matched by agents when deciding
// how to degrade. Every error raised by Invoke maps onto exactly one code.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeSchemaMismatch    = "SCHEMA_MISMATCH"
	CodeServerUnavailable = "SERVER_UNAVAILABLE"
	CodeTimeout           = "TIMEOUT"
	CodeServerError       = "SERVER_ERROR"
	CodeUnknownServer     = "UNKNOWN_SERVER"
	CodeUnknownOperation  = "UNKNOWN_OPERATION"
)

// ErrorDescriptor is the wire form of a failed invocation.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Server  string `json:"server,omitempty"`
}

func (e *ErrorDescriptor) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Server, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError reports a malformed capability schema at registration time.
type ValidationError struct {
	Server  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation error for server %q: %s: %v", e.Server, e.Message, e.Err)
	}
	return fmt.Sprintf("validation error for server %q: %s", e.Server, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a request payload that fails the server's
// declared request schema.
type SchemaMismatchError struct {
	Server    string
	Operation string
	Details   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("request for %s/%s does not match capability schema: %v",
		e.Server, e.Operation, e.Details)
}

// ServerUnavailableError reports an invocation against a server whose health
// is DOWN. The underlying handler is never reached.
type ServerUnavailableError struct {
	Server string
}

func (e *ServerUnavailableError) Error() string {
	return fmt.Sprintf("tool server %q is unavailable (health DOWN)", e.Server)
}

// TimeoutError reports a call that exceeded the per-server deadline.
type TimeoutError struct {
	Server    string
	Operation string
	Deadline  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("invocation of %s/%s exceeded deadline %s", e.Server, e.Operation, e.Deadline)
}

// Descriptor converts any invocation error into its wire form.
func Descriptor(server string, err error) *ErrorDescriptor {
	var (
		validationErr *ValidationError
		schemaErr     *SchemaMismatchError
		unavailErr    *ServerUnavailableError
		timeoutErr    *TimeoutError
		descriptor    *ErrorDescriptor
	)

	switch {
	case errors.As(err, &descriptor):
		return descriptor
	case errors.As(err, &validationErr):
		return &ErrorDescriptor{Code: CodeValidation, Message: err.Error(), Server: server}
	case errors.As(err, &schemaErr):
		return &ErrorDescriptor{Code: CodeSchemaMismatch, Message: err.Error(), Server: server}
	case errors.As(err, &unavailErr):
		return &ErrorDescriptor{Code: CodeServerUnavailable, Message: err.Error(), Server: server}
	case errors.As(err, &timeoutErr):
		return &ErrorDescriptor{Code: CodeTimeout, Message: err.Error(), Server: server}
	default:
		return &ErrorDescriptor{Code: CodeServerError, Message: err.Error(), Server: server}
	}
}

// IsUnavailable reports whether err is a ServerUnavailableError.
func IsUnavailable(err error) bool {
	var target *ServerUnavailableError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsSchemaMismatch reports whether err is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeResolve  ErrorType = "resolve"
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeExecute  ErrorType = "execute"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeFatal    ErrorType = "fatal"
)

// EngineError is a structured error type with context.
type EngineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Processor   string
	Location    Location
	Recoverable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Processor != "" {
		parts = append(parts, "processor:"+e.Processor)
	}

	if !e.Location.IsEmpty() {
		parts = append(parts, e.Location.String())
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds template location information.
func (e *EngineError) WithLocation(loc Location) *EngineError {
	e.Location = loc

	return e
}

// WithCause sets the underlying cause.
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause

	return e
}

// WithProcessor tags the error with the directive processor that raised it.
func (e *EngineError) WithProcessor(name string) *EngineError {
	e.Processor = name

	return e
}

// ToTemplateError converts the error into an entry for a run's error list.
func (e *EngineError) ToTemplateError() TemplateError {
	msg := e.Message
	if e.Processor != "" {
		msg = fmt.Sprintf("%s: %s", e.Processor, msg)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}

	return TemplateError{
		Message:  msg,
		Code:     e.Code,
		Location: e.Location,
	}
}

// Error creation functions

// NewParseError creates a template parse error.
func NewParseError(code, message string) *EngineError {
	return &EngineError{
		Type:        ErrorTypeParse,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewResolveError creates a directive resolution error.
func NewResolveError(code, message string) *EngineError {
	return &EngineError{
		Type:        ErrorTypeResolve,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewCompileError creates a compilation error.
func NewCompileError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewExecuteError creates an error raised while running a generated program.
func NewExecuteError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:        ErrorTypeExecute,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *EngineError {
	return &EngineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *EngineError {
	return &EngineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewFatalError creates an unrecoverable error. Fatal errors are never folded
// into a run's error list; they terminate the run.
func NewFatalError(message string, cause error) *EngineError {
	return &EngineError{
		Type:        ErrorTypeFatal,
		Code:        ErrCodeFatal,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var te *EngineError
	if errors.As(err, &te) {
		return te.Recoverable
	}

	return false
}

// IsFatal reports whether err is an unrecoverable condition: an explicit fatal
// error, an externally requested abort (context cancellation or deadline), or a
// runtime error signalling memory or stack exhaustion.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *EngineError
	if errors.As(err, &te) && te.Type == ErrorTypeFatal {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var re runtime.Error
	if errors.As(err, &re) {
		return isExhaustion(re.Error())
	}

	return false
}

// IsFatalPanic classifies a recovered panic value.
func IsFatalPanic(v interface{}) bool {
	switch x := v.(type) {
	case error:
		return IsFatal(x)
	case string:
		return isExhaustion(x)
	default:
		return false
	}
}

// IsFatalOutput reports whether process output shows a crash the Go runtime
// cannot recover from.
func IsFatalOutput(output string) bool {
	return isExhaustion(output)
}

func isExhaustion(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

var fatalMarkers = []string{
	"out of memory",
	"stack overflow",
	"goroutine stack exceeds",
	"stack exhaustion",
}

// IsCompileError checks if an error is compile-related.
func IsCompileError(err error) bool {
	var te *EngineError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeCompile
	}

	return false
}

// Common error codes.
const (
	ErrCodeUnterminatedBlock    = "TT0001"
	ErrCodeMalformedDirective   = "TT0002"
	ErrCodeDuplicateAttribute   = "TT0003"
	ErrCodeUnterminatedQuote    = "TT0004"
	ErrCodeConflictingDirective = "TT0010"
	ErrCodeUnknownProcessor     = "TT0011"
	ErrCodeUnresolvedParameter  = "TT0012"
	ErrCodeProcessorFailed      = "TT0013"
	ErrCodeIncludeFailed        = "TT0014"
	ErrCodeInvalidAttribute     = "TT0015"
	ErrCodeCompileFailed        = "TT0020"
	ErrCodeMissingLifecycle     = "TT0030"
	ErrCodeTransformFailed      = "TT0031"
	ErrCodeIsolationFailed      = "TT0032"
	ErrCodeConfigInvalid        = "TT0040"
	ErrCodeInternalError        = "TT0050"
	ErrCodeFatal                = "TT0099"
)

// Helper functions for common errors

// ErrUnknownProcessor creates an unknown directive processor error.
func ErrUnknownProcessor(name string) *EngineError {
	return NewResolveError(
		ErrCodeUnknownProcessor,
		"could not resolve directive processor: "+name,
	)
}

// ErrUnresolvedParameter creates an unresolved parameter error.
func ErrUnresolvedParameter(name string) *EngineError {
	return NewResolveError(
		ErrCodeUnresolvedParameter,
		"could not resolve value for parameter: "+name,
	)
}

// ErrProcessorFailed wraps a failure raised by a directive processor.
func ErrProcessorFailed(processor string, cause error) *EngineError {
	return NewResolveError(
		ErrCodeProcessorFailed,
		"directive processor failed",
	).WithProcessor(processor).WithCause(cause)
}

package errors

import (
	"errors"
	"fmt"
)

// CodedError is the structured error type used for configuration,
// validation, and internal failures that are not part of the pipeline
// taxonomy in taxonomy.go.
type CodedError struct {
	Code     string // ERR_NNN_NAME, see codes.go
	Message  string
	Category Category
	Severity Severity
	Cause    error

	// Details become detail_<key> attributes when the error is logged.
	Details map[string]string

	Retryable  bool
	Suggestion string // shown to the user as a next step
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// Is matches another CodedError by code.
func (e *CodedError) Is(target error) bool {
	if t, ok := target.(*CodedError); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *CodedError) ErrorCode() string { return e.Code }

func (e *CodedError) IsRetryable() bool { return e.Retryable }

// WithDetail records key=value and returns e for chaining.
func (e *CodedError) WithDetail(key, value string) *CodedError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the hint printed under the error.
func (e *CodedError) WithSuggestion(suggestion string) *CodedError {
	e.Suggestion = suggestion
	return e
}

// New creates a CodedError. Category, severity, and the retryable flag
// are derived from the code.
func New(code string, message string, cause error) *CodedError {
	return &CodedError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap returns nil for a nil err; otherwise err becomes both message and cause.
func Wrap(code string, err error) *CodedError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *CodedError {
	return New(ErrCodeConfigInvalid, message, cause)
}

func ValidationError(message string, cause error) *CodedError {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *CodedError {
	return New(ErrCodeInternal, message, cause)
}

type coded interface {
	ErrorCode() string
}

type retryable interface {
	IsRetryable() bool
}

// GetCode returns the code of the first coded error in err's chain, or "".
func GetCode(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

func GetCategory(err error) Category {
	code := GetCode(err)
	if code == "" {
		return ""
	}
	return categoryFromCode(code)
}

// IsRetryable reports whether the first classified error in the chain
// may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// IsFatal reports whether err must abort the current run. Every coded
// error in the chain counts, so a fatal cause stays fatal under a
// non-fatal wrapper such as a StoreError.
func IsFatal(err error) bool {
	switch e := err.(type) {
	case nil:
		return false
	case coded:
		if severityFromCode(e.ErrorCode()) == SeverityFatal {
			return true
		}
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return IsFatal(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if IsFatal(inner) {
				return true
			}
		}
	}
	return false
}

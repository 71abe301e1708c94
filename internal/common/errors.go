package common

import (
	"errors"
	"sort"
	"strings"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// GeneralField collects messages that are not tied to a single input.
const GeneralField = "general"

// ValidationError reports a bad value for a single input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// FieldErrors implements FieldReporter.
func (e *ValidationError) FieldErrors() FieldErrors {
	field := e.Field
	if field == "" {
		field = GeneralField
	}
	return FieldErrors{field: {e.Message}}
}

// FieldReporter is implemented by errors that can describe themselves as
// field-keyed messages.
type FieldReporter interface {
	FieldErrors() FieldErrors
}

// FieldErrors is the field-keyed error surface shared by local validation and
// backend responses.
type FieldErrors map[string][]string

// Add appends a message for the given field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Merge copies every message of other into f.
func (f FieldErrors) Merge(other FieldErrors) {
	for field, msgs := range other {
		f[field] = append(f[field], msgs...)
	}
}

// Empty reports whether no messages are recorded.
func (f FieldErrors) Empty() bool { return len(f) == 0 }

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "no field errors"
	}
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(f[field], ", "))
	}
	return strings.Join(parts, "; ")
}

// FieldErrors implements FieldReporter.
func (f FieldErrors) FieldErrors() FieldErrors { return f }

// FieldErrorsFrom flattens err, including joined errors, into FieldErrors.
// Errors that do not report fields land under GeneralField.
func FieldErrorsFrom(err error) FieldErrors {
	out := FieldErrors{}
	collectFieldErrors(err, out)
	return out
}

func collectFieldErrors(err error, out FieldErrors) {
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			collectFieldErrors(inner, out)
		}
		return
	}
	var reporter FieldReporter
	if errors.As(err, &reporter) {
		out.Merge(reporter.FieldErrors())
		return
	}
	out.Add(GeneralField, err.Error())
}

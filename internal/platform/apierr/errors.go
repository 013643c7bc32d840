package apierr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Coded is implemented by errors that know their HTTP status and error code.
// Packages below apierr (auth, db) satisfy it without importing this package.
type Coded interface {
	error
	Status() int
	Code() string
}

// MissingReferenceError means a required reference was not supplied.
type MissingReferenceError struct {
	Field string
}

func (e *MissingReferenceError) Error() string { return e.Field + " is required" }
func (e *MissingReferenceError) Status() int   { return http.StatusBadRequest }
func (e *MissingReferenceError) Code() string  { return CodeMissingReference }

// AlreadyAnalyzedError carries the id of the diagnosis that already exists
// for the image.
type AlreadyAnalyzedError struct {
	DiagnosisID string
}

func (e *AlreadyAnalyzedError) Error() string {
	return "x-ray image already has a diagnosis"
}
func (e *AlreadyAnalyzedError) Status() int  { return http.StatusBadRequest }
func (e *AlreadyAnalyzedError) Code() string { return CodeAlreadyAnalyzed }

// InferenceError reports a failed analysis. Unusable answers from the
// classifier are client-visible 400s; an unreachable classifier, a missing
// image or missing configuration are 500s. DiagnosisID names the record left
// in ERROR.
type InferenceError struct {
	Unusable    bool
	DiagnosisID string
	Err         error
}

func (e *InferenceError) Error() string { return "analysis failed: " + e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }
func (e *InferenceError) Code() string  { return CodeInferenceFailed }
func (e *InferenceError) Status() int {
	if e.Unusable {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
func (e *ValidationError) Status() int  { return http.StatusBadRequest }
func (e *ValidationError) Code() string { return CodeValidation }

// Validation is shorthand for a *ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// SequenceError is returned when a transition is attempted out of order.
type SequenceError struct {
	Message string
}

func (e *SequenceError) Error() string { return e.Message }
func (e *SequenceError) Status() int   { return http.StatusBadRequest }
func (e *SequenceError) Code() string  { return CodeSequence }

// ConflictError is returned when a write carried a stale version.
type ConflictError struct {
	Resource string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return e.Resource + " was modified by another request"
}
func (e *ConflictError) Status() int  { return http.StatusConflict }
func (e *ConflictError) Code() string { return CodeConflict }

// From converts any error returned by a service into the structured HTTP
// error. Unknown errors become a generic 500 so internals are not leaked.
func From(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var coded Coded
	if !errors.As(err, &coded) {
		return New(http.StatusInternalServerError, CodeInternal, "internal server error")
	}

	body := &Body{Error: coded.Code(), Message: err.Error()}
	var already *AlreadyAnalyzedError
	var inference *InferenceError
	switch {
	case errors.As(err, &already):
		body.DiagnosisID = already.DiagnosisID
	case errors.As(err, &inference):
		body.DiagnosisID = inference.DiagnosisID
	}
	return echo.NewHTTPError(coded.Status(), body)
}

// Package apierr defines the JSON error body returned by every endpoint.
package apierr

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes carried in the "error" field.
const (
	CodeMissingReference = "missing_reference"
	CodeAlreadyAnalyzed  = "already_analyzed"
	CodeInferenceFailed  = "inference_failed"
	CodeValidation       = "validation_error"
	CodeSequence         = "sequence_error"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeUnauthorized     = "unauthorized"
	CodeInternal         = "internal_error"
)

// Body is the error envelope. DiagnosisID is set for already_analyzed so the
// caller can fetch the existing record.
type Body struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	DiagnosisID string `json:"diagnosis_id,omitempty"`
}

// New wraps a Body in an echo.HTTPError; echo's error handler serializes the
// body as-is.
func New(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, &Body{Error: code, Message: message})
}

func BadRequest(message string) *echo.HTTPError {
	return New(http.StatusBadRequest, CodeValidation, message)
}

func NotFound(message string) *echo.HTTPError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Forbidden(message string) *echo.HTTPError {
	return New(http.StatusForbidden, CodeForbidden, message)
}

func Unauthorized(message string) *echo.HTTPError {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// AlreadyAnalyzed reports a duplicate analysis request for an image.
func AlreadyAnalyzed(message, diagnosisID string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, &Body{
		Error:       CodeAlreadyAnalyzed,
		Message:     message,
		DiagnosisID: diagnosisID,
	})
}

// BodyOf extracts the Body from an echo.HTTPError, or nil when the error
// carries a plain message.
func BodyOf(err error) *Body {
	he, ok := err.(*echo.HTTPError)
	if !ok {
		return nil
	}
	b, _ := he.Message.(*Body)
	return b
}

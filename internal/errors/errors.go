// Package errors maps application failures to CLI and HTTP responses.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/mapnimbus/pkg/maps"
)

// Error codes used in HTTP error bodies.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUnprocessable      = "UNPROCESSABLE_ENTITY"
	CodeStorageError       = "STORAGE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

var (
	// ErrExternalService indicates a dependency outside the process failed.
	ErrExternalService = errors.New("external service unavailable")

	// ErrInternal indicates an unexpected local failure.
	ErrInternal = errors.New("internal error")
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody is the wire form of an error envelope.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPError is an error with a fixed response status and code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTPError returns an HTTPError.
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// BadRequest returns a 400 error wrapping err.
func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NewExternalServiceError returns an error matching ErrExternalService.
func NewExternalServiceError(message string) error {
	return fmt.Errorf("%s: %w", message, ErrExternalService)
}

// WrapInternal wraps err as an internal failure. A cancelled ctx is reported
// instead of err.
func WrapInternal(ctx context.Context, err error, message string) error {
	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%s: %w", message, ctx.Err())
	}
	return fmt.Errorf("%s: %w: %w", message, ErrInternal, err)
}

// Classify returns the response status and code for err.
func Classify(err error) (int, string) {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Code
	case errors.Is(err, maps.ErrAuth):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, maps.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, maps.ErrInvalidLoadParams), errors.Is(err, maps.ErrInvalidMap):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, maps.ErrParse):
		return http.StatusUnprocessableEntity, CodeUnprocessable
	case errors.Is(err, maps.ErrStorageRead), errors.Is(err, maps.ErrStorageWrite):
		return http.StatusBadGateway, CodeStorageError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, ErrExternalService):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the JSON error response for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	message := err.Error()
	var details map[string]any

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		message = httpErr.Message
		details = httpErr.Details
	}
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	requestID := w.Header().Get(RequestIDHeader)
	if requestID == "" && r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}
	WriteEnvelope(w, NewEnvelope(code, message, requestID, details), status)
}

// NewEnvelope builds the error envelope for one failure. Details that the
// envelope rejects are dropped.
func NewEnvelope(code, message, requestID string, details map[string]any) *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		envelope = envelope.WithCorrelationID(requestID)
	}
	if len(details) > 0 {
		if withContext, err := envelope.WithContext(details); err == nil {
			envelope = withContext
		}
	}
	return envelope
}

// WriteEnvelope writes envelope as the JSON error response with status.
func WriteEnvelope(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, HTTPErrorResponse{Error: HTTPErrorBody{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
		Details:   envelope.Context,
	}})
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

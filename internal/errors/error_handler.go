// Package errors provides error handling and HTTP status code mapping for the
// form endpoints.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/submission"
	"github.com/devrev/sheetforms/internal/tenant"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"

	// Project errors
	ErrorCodeInvalidProject ErrorCode = "INVALID_PROJECT"
	ErrorCodeUnknownProject ErrorCode = "UNKNOWN_PROJECT"

	// Schema errors
	ErrorCodeSchemaUnavailable ErrorCode = "SCHEMA_UNAVAILABLE"

	// Submission errors
	ErrorCodeCaptchaFailed      ErrorCode = "CAPTCHA_FAILED"
	ErrorCodeStorageWriteFailed ErrorCode = "STORAGE_WRITE_FAILED"
	ErrorCodeNotificationFailed ErrorCode = "NOTIFICATION_FAILED"
	ErrorCodeInProgress         ErrorCode = "SUBMISSION_IN_PROGRESS"
)

// ErrorResponse represents the standard error response format. Error repeats
// Message so clients reading the older {"error": "..."} shape keep working.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleSubmissionError writes the response for a failed submission.
func (h *Handler) HandleSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := SubmissionStatus(err)
	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), r.Header.Get("X-Request-ID"))
}

// HandleDefinitionError writes the response for a failed definition read.
func (h *Handler) HandleDefinitionError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := DefinitionStatus(err)
	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), r.Header.Get("X-Request-ID"))
}

// SubmissionStatus maps a pipeline error to an HTTP status and error code.
func SubmissionStatus(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.Is(err, submission.ErrBadRequest):
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case stderrors.Is(err, submission.ErrInvalidProject):
		return http.StatusBadRequest, ErrorCodeInvalidProject
	case stderrors.Is(err, submission.ErrInProgress):
		return http.StatusConflict, ErrorCodeInProgress
	case stderrors.Is(err, submission.ErrCaptchaFailed):
		return http.StatusForbidden, ErrorCodeCaptchaFailed
	case stderrors.Is(err, submission.ErrSchemaUnavailable):
		return http.StatusUnprocessableEntity, ErrorCodeSchemaUnavailable
	case stderrors.Is(err, submission.ErrStorageWrite):
		return http.StatusBadGateway, ErrorCodeStorageWriteFailed
	case stderrors.Is(err, submission.ErrNotification):
		return http.StatusAccepted, ErrorCodeNotificationFailed
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// DefinitionStatus maps a definition read error to an HTTP status and error code.
func DefinitionStatus(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.Is(err, tenant.ErrUnknownTenant):
		return http.StatusNotFound, ErrorCodeUnknownProject
	case stderrors.Is(err, schema.ErrSchemaUnavailable):
		return http.StatusNotFound, ErrorCodeSchemaUnavailable
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
		Error:     message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apierrors "github.com/devrev/sheetforms/internal/errors"
	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/submission"
	"github.com/devrev/sheetforms/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stepErr(step submission.Step, kind error) error {
	return &submission.StepError{Step: step, Kind: kind, Err: errors.New("cause")}
}

func TestSubmissionStatus(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedHTTP int
		expectedCode apierrors.ErrorCode
	}{
		{"bad request", stepErr(submission.StepParse, submission.ErrBadRequest), http.StatusBadRequest, apierrors.ErrorCodeInvalidRequest},
		{"invalid project", stepErr(submission.StepTenant, submission.ErrInvalidProject), http.StatusBadRequest, apierrors.ErrorCodeInvalidProject},
		{"in progress", stepErr(submission.StepIdempotency, submission.ErrInProgress), http.StatusConflict, apierrors.ErrorCodeInProgress},
		{"captcha", stepErr(submission.StepCaptcha, submission.ErrCaptchaFailed), http.StatusForbidden, apierrors.ErrorCodeCaptchaFailed},
		{"schema", stepErr(submission.StepSchema, submission.ErrSchemaUnavailable), http.StatusUnprocessableEntity, apierrors.ErrorCodeSchemaUnavailable},
		{"storage", stepErr(submission.StepPersist, submission.ErrStorageWrite), http.StatusBadGateway, apierrors.ErrorCodeStorageWriteFailed},
		{"notification", stepErr(submission.StepNotify, submission.ErrNotification), http.StatusAccepted, apierrors.ErrorCodeNotificationFailed},
		{"internal", stepErr(submission.StepSchema, submission.ErrInternal), http.StatusInternalServerError, apierrors.ErrorCodeInternalError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, apierrors.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := apierrors.SubmissionStatus(tt.err)
			assert.Equal(t, tt.expectedHTTP, status)
			assert.Equal(t, tt.expectedCode, code)
		})
	}

	t.Run("nil error", func(t *testing.T) {
		status, _ := apierrors.SubmissionStatus(nil)
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestDefinitionStatus(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedHTTP int
		expectedCode apierrors.ErrorCode
	}{
		{"unknown project", fmt.Errorf("resolve: %w", tenant.ErrUnknownTenant), http.StatusNotFound, apierrors.ErrorCodeUnknownProject},
		{"schema missing", schema.ErrSchemaUnavailable, http.StatusNotFound, apierrors.ErrorCodeSchemaUnavailable},
		{"transport", errors.New("googleapi: Error 503"), http.StatusInternalServerError, apierrors.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := apierrors.DefinitionStatus(tt.err)
			assert.Equal(t, tt.expectedHTTP, status)
			assert.Equal(t, tt.expectedCode, code)
		})
	}
}

func TestErrorHandler_WriteErrorResponse(t *testing.T) {
	handler := apierrors.NewHandler(zap.NewNop())
	w := httptest.NewRecorder()

	handler.WriteErrorResponse(w, http.StatusBadRequest, apierrors.ErrorCodeInvalidRequest, "test error message", "req-123")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp apierrors.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, apierrors.ErrorCodeInvalidRequest, resp.ErrorCode)
	assert.Equal(t, "test error message", resp.Message)
	assert.Equal(t, "test error message", resp.Error)
	assert.Equal(t, "req-123", resp.RequestID)
}

func TestErrorHandler_HandleSubmissionError(t *testing.T) {
	handler := apierrors.NewHandler(zap.NewNop())
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/forms/submissions", nil)
	r.Header.Set("X-Request-ID", "req-9")

	handler.HandleSubmissionError(w, r, stepErr(submission.StepCaptcha, submission.ErrCaptchaFailed))

	assert.Equal(t, http.StatusForbidden, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CAPTCHA_FAILED", body["error_code"])
	assert.Equal(t, "captcha verification failed: cause", body["error"])
	assert.Equal(t, "req-9", body["request_id"])
}

func TestErrorHandler_HandleDefinitionError(t *testing.T) {
	handler := apierrors.NewHandler(zap.NewNop())
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/forms/definition?project_key=x", nil)

	handler.HandleDefinitionError(w, r, schema.ErrSchemaUnavailable)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error_code":"SCHEMA_UNAVAILABLE"`)
}

func TestErrorHandler_Helpers(t *testing.T) {
	handler := apierrors.NewHandler(zap.NewNop())

	w := httptest.NewRecorder()
	handler.WriteValidationError(w, "project_key is required", "req-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-1"`)
}

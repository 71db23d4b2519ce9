// Package handler provides HTTP request handlers for the form endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/devrev/sheetforms/internal/errors"
	"github.com/devrev/sheetforms/internal/middleware"
	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/submission"
	"github.com/devrev/sheetforms/internal/tenant"
	"go.uber.org/zap"
)

// Request and response headers.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
	HeaderDeprecation    = "Deprecation"
	definitionCache      = "public, max-age=300"
)

// DefinitionResolver reads a project's field definitions.
type DefinitionResolver interface {
	Resolve(ctx context.Context, t tenant.Config) ([]schema.FieldDescriptor, error)
}

// Submitter runs the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (*submission.Result, error)
}

// DefinitionRecorder counts definition reads by status.
type DefinitionRecorder interface {
	RecordDefinitionRead(statusCode int)
}

// FormDefinitionResponse is the body of a successful definition read.
type FormDefinitionResponse struct {
	ProjectKey string                   `json:"project_key"`
	Fields     []schema.FieldDescriptor `json:"fields"`
}

// SubmissionResponse is the body of a successful submission.
type SubmissionResponse struct {
	Status string `json:"status"`
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	tenants      submission.TenantResolver
	definitions  DefinitionResolver
	pipeline     Submitter
	errorHandler *apierrors.Handler
	recorder     DefinitionRecorder
	observer     submission.Observer
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance. timeout bounds definition
// reads; submissions are bounded by the pipeline itself.
func NewHandlers(
	tenants submission.TenantResolver,
	definitions DefinitionResolver,
	pipeline Submitter,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
) *Handlers {
	return &Handlers{
		tenants:      tenants,
		definitions:  definitions,
		pipeline:     pipeline,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// SetDefinitionRecorder attaches a recorder for definition read outcomes.
func (h *Handlers) SetDefinitionRecorder(r DefinitionRecorder) {
	h.recorder = r
}

// SetSubmissionObserver attaches an observer for bodies rejected before the
// pipeline runs. The pipeline reports everything after parsing itself.
func (h *Handlers) SetSubmissionObserver(o submission.Observer) {
	h.observer = o
}

// GetFormDefinition handles GET /v1/forms/definition requests.
func (h *Handlers) GetFormDefinition(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDOf(r)

	projectKey := strings.TrimSpace(r.URL.Query().Get(submission.KeyProject))
	if projectKey == "" {
		h.recordDefinition(http.StatusBadRequest)
		h.errorHandler.WriteValidationError(w, "project_key is required", requestID)
		return
	}

	t, err := h.tenants.Resolve(projectKey)
	if err != nil {
		h.failDefinition(w, r, err)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	fields, err := h.definitions.Resolve(ctx, t)
	if err != nil {
		h.logger.Warn("Failed to resolve form definition",
			zap.String("project_key", projectKey),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.failDefinition(w, r, err)
		return
	}
	if fields == nil {
		fields = []schema.FieldDescriptor{}
	}

	h.recordDefinition(http.StatusOK)
	w.Header().Set("Cache-Control", definitionCache)
	h.writeJSONResponse(w, http.StatusOK, FormDefinitionResponse{
		ProjectKey: projectKey,
		Fields:     fields,
	})
}

// Submit handles POST /v1/forms/submissions requests.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDOf(r)

	start := time.Now()
	parsed, err := submission.Parse(r.Header.Get("Content-Type"), r.Body)
	h.observeParse(time.Since(start), err)
	if err != nil {
		h.logger.Warn("Submission rejected",
			zap.String("request_id", requestID),
			zap.String("step", string(submission.StepParse)),
			zap.Error(err),
		)
		h.errorHandler.HandleSubmissionError(w, r, err)
		return
	}
	if parsed.Wrapped {
		h.logger.Info("Accepted deprecated data-wrapped submission body",
			zap.String("request_id", requestID),
		)
		w.Header().Set(HeaderDeprecation, "true")
	}

	res, err := h.pipeline.Submit(r.Context(), submission.Submission{
		Payload:        parsed.Payload,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
		RemoteIP:       clientIP(r),
		RequestID:      requestID,
	})
	if res != nil && res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	if err != nil {
		h.errorHandler.HandleSubmissionError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, SubmissionResponse{Status: "success"})
}

func (h *Handlers) failDefinition(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := apierrors.DefinitionStatus(err)
	h.recordDefinition(status)
	h.errorHandler.HandleDefinitionError(w, r, err)
}

func (h *Handlers) recordDefinition(status int) {
	if h.recorder != nil {
		h.recorder.RecordDefinitionRead(status)
	}
}

func (h *Handlers) observeParse(d time.Duration, err error) {
	if h.observer == nil {
		return
	}
	if err != nil {
		h.observer.ObserveStep(string(submission.StepParse), "error", d)
		h.observer.ObserveSubmission(submission.OutcomeFailed)
		return
	}
	h.observer.ObserveStep(string(submission.StepParse), "ok", d)
}

// requestIDOf returns the id assigned by the RequestID middleware, falling
// back to the inbound header when the handler runs without it.
func requestIDOf(r *http.Request) string {
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// clientIP prefers the first X-Forwarded-For hop, as the service normally
// runs behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// Package submission implements the form ingestion pipeline: it maps a
// parsed payload onto the project's current schema, stores the resulting
// row and notifies the project's recipient.
package submission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/devrev/sheetforms/internal/captcha"
	"github.com/devrev/sheetforms/internal/idempotency"
	"github.com/devrev/sheetforms/internal/notify"
	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/storage"
	"github.com/devrev/sheetforms/internal/tenant"
	"go.uber.org/zap"
)

// DefaultSideEffectTimeout bounds the persist and notify steps.
const DefaultSideEffectTimeout = 30 * time.Second

// TenantResolver looks up project configuration.
type TenantResolver interface {
	Resolve(key string) (tenant.Config, error)
}

// SchemaResolver reads field definitions from an opened document.
type SchemaResolver interface {
	ResolveDocument(ctx context.Context, doc storage.Document) ([]schema.FieldDescriptor, error)
}

// Observer receives pipeline measurements.
type Observer interface {
	ObserveStep(step string, outcome string, d time.Duration)
	ObserveSubmission(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(string, string, time.Duration) {}
func (nopObserver) ObserveSubmission(string)                  {}

// Outcome labels.
const (
	OutcomeSuccess            = "success"
	OutcomeNotificationFailed = "notification_failed"
	OutcomeFailed             = "failed"
	OutcomeReplayed           = "replayed"
)

// Submission is one inbound request after body parsing.
type Submission struct {
	Payload        Payload
	IdempotencyKey string
	RemoteIP       string
	RequestID      string
}

// Result describes a submission that reached the persist step.
type Result struct {
	ProjectKey string
	Outcome    string
	Row        storage.Row
	// Replayed is set when the outcome was served from the idempotency store.
	Replayed bool
}

// Pipeline runs the ingestion steps in strict order and stops at the first
// failure.
type Pipeline struct {
	tenants     TenantResolver
	verifier    captcha.Verifier
	opener      storage.Opener
	schemas     SchemaResolver
	sender      notify.Sender
	idempotency *idempotency.Service
	observer    Observer
	logger      *zap.Logger
	now         func() time.Time
	timeout     time.Duration
	defaultFrom string
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithIdempotency enables Idempotency-Key handling.
func WithIdempotency(svc *idempotency.Service) Option {
	return func(p *Pipeline) { p.idempotency = svc }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSideEffectTimeout bounds persist and notify, which run detached from
// the caller's cancellation.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithDefaultFrom(from string) Option {
	return func(p *Pipeline) {
		if from != "" {
			p.defaultFrom = from
		}
	}
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	tenants TenantResolver,
	verifier captcha.Verifier,
	opener storage.Opener,
	schemas SchemaResolver,
	sender notify.Sender,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		tenants:     tenants,
		verifier:    verifier,
		opener:      opener,
		schemas:     schemas,
		sender:      sender,
		observer:    nopObserver{},
		logger:      logger,
		now:         time.Now,
		timeout:     DefaultSideEffectTimeout,
		defaultFrom: notify.DefaultFrom,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit processes one submission. On a notification failure it returns both
// the result, since the row is stored, and a *StepError of kind
// ErrNotification. Every other failure returns a nil result.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	log := p.logger.With(zap.String("request_id", sub.RequestID))

	res, err := p.run(ctx, sub, log)

	outcome := OutcomeFailed
	switch {
	case res != nil && res.Replayed:
		outcome = OutcomeReplayed
	case res != nil:
		outcome = res.Outcome
	}
	p.observer.ObserveSubmission(outcome)

	var se *StepError
	if errors.As(err, &se) {
		fields := []zap.Field{
			zap.String("project_key", sub.Payload[KeyProject]),
			zap.String("step", string(se.Step)),
			zap.Error(err),
		}
		if se.SideEffects() {
			log.Error("Submission failed", fields...)
		} else {
			log.Warn("Submission rejected", fields...)
		}
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, sub Submission, log *zap.Logger) (*Result, error) {
	if sub.IdempotencyKey != "" {
		if err := idempotency.ValidateKey(sub.IdempotencyKey); err != nil {
			return nil, stepError(StepParse, ErrBadRequest, err)
		}
	}

	// Tenant resolution.
	start := p.now()
	projectKey := strings.TrimSpace(sub.Payload[KeyProject])
	t, err := p.tenants.Resolve(projectKey)
	if err != nil {
		p.observe(StepTenant, start, err)
		return nil, stepError(StepTenant, ErrInvalidProject, err)
	}
	p.observe(StepTenant, start, nil)
	log = log.With(zap.String("project_key", t.Key))

	claimed, res, err := p.claim(ctx, t.Key, sub.IdempotencyKey, log)
	if err != nil {
		return nil, err
	}
	if res != nil {
		if res.Outcome == OutcomeNotificationFailed {
			return res, stepError(StepNotify, ErrNotification, errors.New("replayed outcome"))
		}
		return res, nil
	}
	// A claim is released when the row was never stored so the client can
	// retry with the same key.
	stored := false
	if claimed {
		defer func() {
			if !stored {
				p.release(ctx, t.Key, sub.IdempotencyKey, log)
			}
		}()
	}

	// Human-presence verification. Nothing has been written yet.
	start = p.now()
	token := strings.TrimSpace(sub.Payload[KeyCaptcha])
	if token == "" {
		err = errors.New("missing captcha token")
	} else {
		err = p.verifier.Verify(ctx, token, sub.RemoteIP)
	}
	p.observe(StepCaptcha, start, err)
	if err != nil {
		return nil, stepError(StepCaptcha, ErrCaptchaFailed, err)
	}

	// Schema resolution on the document the row will be appended to.
	start = p.now()
	doc, fields, err := p.resolveSchema(ctx, t)
	p.observe(StepSchema, start, err)
	if err != nil {
		return nil, err
	}

	row := BuildRow(fields, sub.Payload, p.now())

	// The caller going away must not abort a half finished write.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	start = p.now()
	err = p.persist(sideCtx, doc, row)
	p.observe(StepPersist, start, err)
	if err != nil {
		return nil, stepError(StepPersist, ErrStorageWrite, err)
	}
	stored = true
	log.Info("Submission stored", zap.Int("columns", len(row)))

	res = &Result{ProjectKey: t.Key, Outcome: OutcomeSuccess, Row: row}

	start = p.now()
	err = p.sender.Send(sideCtx, Compose(t, p.defaultFrom, fields, row))
	p.observe(StepNotify, start, err)
	if err != nil {
		res.Outcome = OutcomeNotificationFailed
	}

	if claimed {
		p.record(sideCtx, t.Key, sub.IdempotencyKey, res, log)
	}

	if err != nil {
		return res, stepError(StepNotify, ErrNotification, err)
	}
	return res, nil
}

func (p *Pipeline) resolveSchema(ctx context.Context, t tenant.Config) (storage.Document, []schema.FieldDescriptor, error) {
	doc, err := p.opener.Open(ctx, t.SheetID)
	if err != nil {
		return nil, nil, stepError(StepSchema, ErrInternal, err)
	}

	fields, err := p.schemas.ResolveDocument(ctx, doc)
	if errors.Is(err, schema.ErrSchemaUnavailable) {
		return nil, nil, stepError(StepSchema, ErrSchemaUnavailable, err)
	}
	if err != nil {
		return nil, nil, stepError(StepSchema, ErrInternal, err)
	}
	if len(fields) == 0 {
		return nil, nil, stepError(StepSchema, ErrSchemaUnavailable, errors.New("form definition has no fields"))
	}
	return doc, fields, nil
}

// persist appends the row to the primary source, refusing to write into the
// definition tab itself.
func (p *Pipeline) persist(ctx context.Context, doc storage.Document, row storage.Row) error {
	primary, ok := storage.Find(doc, storage.At(0))
	if !ok {
		return storage.ErrSourceNotFound
	}
	if primary.Title == schema.DefinitionTab {
		return errors.New("primary sheet is the form definition")
	}
	return doc.AppendRow(ctx, storage.At(0), row)
}

// claim reserves the Idempotency-Key for this submission. It reports whether
// the claim was taken, or returns the replayed result of a completed
// submission with the same key.
func (p *Pipeline) claim(ctx context.Context, projectKey, key string, log *zap.Logger) (bool, *Result, error) {
	if p.idempotency == nil || key == "" {
		return false, nil, nil
	}
	out, err := p.idempotency.Reserve(ctx, projectKey, key)
	if errors.Is(err, idempotency.ErrInProgress) {
		return false, nil, stepError(StepIdempotency, ErrInProgress, err)
	}
	if err != nil {
		log.Warn("Idempotency reservation failed, processing submission", zap.Error(err))
		return false, nil, nil
	}
	if out == nil {
		return true, nil, nil
	}

	log.Info("Replaying recorded submission outcome",
		zap.String("idempotency_key", key),
		zap.String("result", string(out.Result)))

	outcome := OutcomeSuccess
	if out.Result == idempotency.ResultNotificationFailed {
		outcome = OutcomeNotificationFailed
	}
	return false, &Result{ProjectKey: projectKey, Outcome: outcome, Replayed: true}, nil
}

func (p *Pipeline) release(ctx context.Context, projectKey, key string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.idempotency.Forget(ctx, projectKey, key); err != nil {
		log.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, projectKey, key string, res *Result, log *zap.Logger) {
	result := idempotency.ResultSuccess
	if res.Outcome == OutcomeNotificationFailed {
		result = idempotency.ResultNotificationFailed
	}
	if err := p.idempotency.Record(ctx, projectKey, key, idempotency.Outcome{Result: result}); err != nil {
		log.Warn("Failed to record idempotency outcome", zap.Error(err))
	}
}

func (p *Pipeline) observe(step Step, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.observer.ObserveStep(string(step), outcome, p.now().Sub(start))
}

package submission

import (
	"errors"
	"fmt"
)

// Step names a stage of the ingestion pipeline.
type Step string

const (
	StepParse       Step = "parse"
	StepTenant      Step = "tenant"
	StepIdempotency Step = "idempotency"
	StepCaptcha     Step = "captcha"
	StepSchema      Step = "schema"
	StepPersist     Step = "persist"
	StepNotify      Step = "notify"
)

// Error kinds reported by the pipeline. Every failure carries exactly one.
var (
	ErrBadRequest        = errors.New("invalid request body")
	ErrInvalidProject    = errors.New("invalid project key")
	ErrInProgress        = errors.New("submission already in progress")
	ErrCaptchaFailed     = errors.New("captcha verification failed")
	ErrSchemaUnavailable = errors.New("no form definition found for project")
	ErrStorageWrite      = errors.New("failed to store submission")
	ErrNotification      = errors.New("submission stored but notification failed")
	ErrInternal          = errors.New("internal error")
)

// StepError describes where and why a submission stopped.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepError(step Step, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}

// SideEffects reports whether the failure happened after the row may have
// been written. Failures before that point are always safe to retry.
func (e *StepError) SideEffects() bool {
	return e.Step == StepPersist || e.Step == StepNotify
}

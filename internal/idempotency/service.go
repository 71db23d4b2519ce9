package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MaxKeyLength bounds client supplied keys.
const MaxKeyLength = 255

// DefaultPendingTTL bounds how long a claim taken by Reserve blocks retries
// when its submission never records an outcome.
const DefaultPendingTTL = 5 * time.Minute

var (
	// ErrInvalidKey is returned for keys that are empty, too long or contain
	// characters outside printable ASCII.
	ErrInvalidKey = errors.New("invalid idempotency key")
	// ErrInProgress is returned by Reserve while another submission holds the key.
	ErrInProgress = errors.New("a submission with this idempotency key is in progress")
)

// Result is the recorded outcome of a submission.
type Result string

const (
	ResultPending            Result = "pending"
	ResultSuccess            Result = "success"
	ResultNotificationFailed Result = "notification_failed"
)

// Outcome is what a replay returns instead of re-running the submission.
type Outcome struct {
	Result     Result    `json:"result"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Service records and looks up submission outcomes.
type Service struct {
	store      Store
	ttl        time.Duration
	pendingTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPendingTTL sets how long an unfinished claim is held.
func WithPendingTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

func NewService(store Store, ttl time.Duration, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		ttl:        ttl,
		pendingTTL: DefaultPendingTTL,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateKey checks a client supplied key.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// Lookup returns the recorded outcome, or nil when the key is unknown.
func (s *Service) Lookup(ctx context.Context, tenantKey, key string) (*Outcome, error) {
	data, err := s.store.Get(ctx, buildKey(tenantKey, key))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency outcome: %w", err)
	}

	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Error("Invalid idempotency record",
			zap.String("tenant", tenantKey),
			zap.String("idempotency_key", key),
			zap.Error(err))
		if ferr := s.Forget(ctx, tenantKey, key); ferr != nil {
			s.logger.Warn("Failed to drop invalid idempotency record", zap.Error(ferr))
		}
		return nil, fmt.Errorf("invalid idempotency record: %w", err)
	}

	s.logger.Debug("Idempotency outcome found",
		zap.String("tenant", tenantKey),
		zap.String("idempotency_key", key),
		zap.String("result", string(out.Result)))
	return &out, nil
}

// Reserve claims key before a submission runs. It returns (nil, nil) when
// the claim was taken, the recorded outcome when an earlier submission with
// the key completed, and ErrInProgress while one is still running. A claim
// is replaced by Record or released by Forget.
func (s *Service) Reserve(ctx context.Context, tenantKey, key string) (*Outcome, error) {
	data, err := json.Marshal(Outcome{Result: ResultPending, RecordedAt: s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotency claim: %w", err)
	}

	// A claim can expire between SetNX and Get, so try twice.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.store.SetNX(ctx, buildKey(tenantKey, key), data, s.pendingTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if claimed {
			s.logger.Debug("Reserved idempotency key",
				zap.String("tenant", tenantKey),
				zap.String("idempotency_key", key),
				zap.Duration("ttl", s.pendingTTL))
			return nil, nil
		}

		out, err := s.Lookup(ctx, tenantKey, key)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		if out.Result == ResultPending {
			return nil, ErrInProgress
		}
		return out, nil
	}
	return nil, ErrInProgress
}

// Record stores the outcome for the configured TTL.
func (s *Service) Record(ctx context.Context, tenantKey, key string, out Outcome) error {
	if out.RecordedAt.IsZero() {
		out.RecordedAt = s.now().UTC()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency outcome: %w", err)
	}

	if err := s.store.Set(ctx, buildKey(tenantKey, key), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency outcome: %w", err)
	}

	s.logger.Debug("Stored idempotency outcome",
		zap.String("tenant", tenantKey),
		zap.String("idempotency_key", key),
		zap.Duration("ttl", s.ttl))
	return nil
}

// Forget removes a recorded outcome.
func (s *Service) Forget(ctx context.Context, tenantKey, key string) error {
	if err := s.store.Delete(ctx, buildKey(tenantKey, key)); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func buildKey(tenantKey, key string) string {
	return fmt.Sprintf("idempotency:%s:submission:%s", tenantKey, key)
}

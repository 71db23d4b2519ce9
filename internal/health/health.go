// Package health provides health check endpoints for the form service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Checker reports whether a collaborator is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// StatusReporter receives the aggregate health after every check.
type StatusReporter interface {
	SetHealthStatus(healthy bool)
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	checkers      map[string]Checker
	reporter      StatusReporter
	logger        *zap.Logger
	checkInterval time.Duration
	checkTimeout  time.Duration

	mu        sync.RWMutex
	ready     bool
	results   map[string]string
	lastErr   error
	lastCheck time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a HealthCheck.
type Option func(*HealthCheck)

// WithInterval sets the background check interval.
func WithInterval(d time.Duration) Option {
	return func(hc *HealthCheck) {
		if d > 0 {
			hc.checkInterval = d
		}
	}
}

// WithTimeout bounds a single round of checks.
func WithTimeout(d time.Duration) Option {
	return func(hc *HealthCheck) {
		if d > 0 {
			hc.checkTimeout = d
		}
	}
}

// WithReporter publishes the aggregate status, typically to metrics.
func WithReporter(r StatusReporter) Option {
	return func(hc *HealthCheck) { hc.reporter = r }
}

// NewHealthCheck creates a new HealthCheck instance. The background loop
// is not started until Start is called.
func NewHealthCheck(checkers map[string]Checker, logger *zap.Logger, opts ...Option) *HealthCheck {
	hc := &HealthCheck{
		checkers:      checkers,
		logger:        logger,
		checkInterval: 15 * time.Second,
		checkTimeout:  5 * time.Second,
		results:       map[string]string{},
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(hc)
	}
	return hc
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
	CheckedAt string            `json:"checked_at,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests. When the last background
// round failed, a fresh round is run before answering.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !hc.IsReady() {
		hc.Check(r.Context())
	}

	hc.mu.RLock()
	resp := ReadinessResponse{Checks: copyResults(hc.results)}
	ready := hc.ready
	if hc.lastErr != nil {
		resp.Error = hc.lastErr.Error()
	}
	hc.mu.RUnlock()

	if last := hc.LastCheck(); !last.IsZero() {
		resp.CheckedAt = last.UTC().Format(time.RFC3339)
	}

	if ready {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "not_ready"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// Check pings every collaborator once and updates the readiness state.
func (hc *HealthCheck) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	names := make([]string, 0, len(hc.checkers))
	for name := range hc.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	// Each check records its own result; the group itself never fails.
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(names))
		errs    = make(map[string]error, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			err := hc.checkers[name].Ping(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "unhealthy"
				errs[name] = err
				return nil
			}
			results[name] = "healthy"
			return nil
		})
	}
	g.Wait()

	var firstErr error
	for _, name := range names {
		if err, failed := errs[name]; failed {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	hc.mu.Lock()
	hc.ready = firstErr == nil
	hc.results = results
	hc.lastErr = firstErr
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	if hc.reporter != nil {
		hc.reporter.SetHealthStatus(firstErr == nil)
	}
	return firstErr == nil
}

// Start runs an initial check and then checks periodically until Stop.
func (hc *HealthCheck) Start(ctx context.Context) {
	hc.Check(ctx)
	go hc.backgroundCheck()
}

// Stop ends the background loop.
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() { close(hc.stop) })
}

func (hc *HealthCheck) backgroundCheck() {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stop:
			return
		case <-ticker.C:
			hc.Check(context.Background())
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status (for testing).
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

// LastCheck returns when the last round of checks completed.
func (hc *HealthCheck) LastCheck() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastCheck
}

func copyResults(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/sheetforms/internal/submission"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var _ submission.Observer = (*Metrics)(nil)

func TestNewMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestMetrics_ObserveSubmission(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.submissionsTotal.WithLabelValues(submission.OutcomeNotificationFailed))
	m.ObserveSubmission(submission.OutcomeNotificationFailed)
	m.ObserveSubmission(submission.OutcomeNotificationFailed)

	after := testutil.ToFloat64(m.submissionsTotal.WithLabelValues(submission.OutcomeNotificationFailed))
	assert.Equal(t, before+2, after)
}

func TestMetrics_ObserveStep(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.stepErrors.WithLabelValues(string(submission.StepCaptcha)))
	m.ObserveStep(string(submission.StepCaptcha), "ok", 10*time.Millisecond)
	m.ObserveStep(string(submission.StepCaptcha), "error", 20*time.Millisecond)

	after := testutil.ToFloat64(m.stepErrors.WithLabelValues(string(submission.StepCaptcha)))
	assert.Equal(t, before+1, after)
}

func TestMetrics_SetHealthStatus(t *testing.T) {
	m := NewMetrics()

	m.SetHealthStatus(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.healthStatus))

	m.SetHealthStatus(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.healthStatus))
}

func TestMetrics_RecordDefinitionRead(t *testing.T) {
	m := NewMetrics()

	before := testutil.ToFloat64(m.definitionReads.WithLabelValues("404"))
	m.RecordDefinitionRead(http.StatusNotFound)
	assert.Equal(t, before+1, testutil.ToFloat64(m.definitionReads.WithLabelValues("404")))
}

func TestMetricsMiddleware(t *testing.T) {
	m := NewMetrics()

	router := mux.NewRouter()
	router.Use(MetricsMiddleware(m))
	router.HandleFunc("/v1/forms/definition", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}).Methods(http.MethodGet)

	counter := m.requestsTotal.WithLabelValues(http.MethodGet, "/v1/forms/definition", "418")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/forms/definition?project_key=acme", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.requestsInFlight))
}

func TestRouteTemplate_Unmatched(t *testing.T) {
	assert.Equal(t, "unmatched", routeTemplate(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}

func TestMetricsServer_Shutdown(t *testing.T) {
	ms := NewMetricsServer(0, "/metrics", nil)
	assert.NoError(t, ms.Shutdown(t.Context()))
}

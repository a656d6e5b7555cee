package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveUpload(nil)
	m.ObserveUpload(errors.New("boom"))
	m.ObserveUpload(nil)
	m.ObserveBuild(2*time.Second, 7)
	m.ObserveQuestion("vector", time.Second, nil)
	m.ObserveQuestion("hybrid", 0, errors.New("llm down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.passages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.questions.WithLabelValues("vector", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.questions.WithLabelValues("hybrid", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpload(nil)
		m.ObserveBuild(time.Second, 1)
		m.ObserveQuestion("vector", time.Second, nil)
		m.ObserveRequest("/x", 200)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/v1/ask", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docchat_http_requests_total{route="/api/v1/ask",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

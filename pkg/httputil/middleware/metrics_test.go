package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/metrics"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.HTTPRequests.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsRecordsPattern(t *testing.T) {
	router := httputil.NewRouter()
	router.Use(RequestID, Metrics)
	router.Group("/data").HandleFunc("GET /{table}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := router.Handler()

	before := counterValue(t, "GET", "GET /data/{table}", "200")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data/budynek", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/data/oplata", nil))
	assert.Equal(t, before+2, counterValue(t, "GET", "GET /data/{table}", "200"))

	unmatched := counterValue(t, "GET", "unmatched", "404")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, unmatched+1, counterValue(t, "GET", "unmatched", "404"))
}

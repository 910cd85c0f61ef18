package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/metrics"
)

// Metrics records request counts and latency per mux pattern. Requests no
// route matched are labelled "unmatched" to keep cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)
		r = httputil.TrackRoute(r)

		next.ServeHTTP(rec, r)

		route := httputil.MatchedRoute(r)
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

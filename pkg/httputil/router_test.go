package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func header(name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Trace", name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.HandleFunc("GET /data/{table}", func(w http.ResponseWriter, req *http.Request) {
		Text(w, http.StatusOK, req.PathValue("table"))
	})

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/data/oplata", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "oplata", w.Body.String())

	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/data/oplata", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouterInvalidPattern(t *testing.T) {
	r := NewRouter()
	assert.Panics(t, func() { r.HandleFunc("/no-method", ok) })
}

func TestRouterRootMiddlewareWrapsUnmatched(t *testing.T) {
	r := NewRouter()
	r.Use(header("root"))
	r.HandleFunc("GET /health", ok)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))
	assert.Equal(t, []string{"root"}, w.Header().Values("X-Trace"))

	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"root"}, w.Header().Values("X-Trace"))
}

func TestRouterGroup(t *testing.T) {
	r := NewRouter()
	r.Use(header("root"))

	system := r.Group("/system")
	system.Use(header("system"))
	system.HandleFunc("GET /audit-logs", ok)

	nested := system.Group("/v2")
	nested.Use(header("v2"))
	nested.HandleFunc("GET /audit-logs", ok)

	r.HandleFunc("GET /health", ok)

	tests := []struct {
		path  string
		trace []string
	}{
		{"/system/audit-logs", []string{"root", "system"}},
		{"/system/v2/audit-logs", []string{"root", "system", "v2"}},
		{"/health", []string{"root"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.trace, w.Header().Values("X-Trace"))
		})
	}
}

func TestRouterListenAndServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	r := NewRouter(WithServerOptions(func(s *http.Server) {
		s.ReadHeaderTimeout = time.Second
	}))
	r.HandleFunc("GET /health", ok)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.ErrorIs(t, r.ListenAndServe(addr), http.ErrServerClosed)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	wg.Wait()
}

func TestWithTLSMissingFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewRouter(WithTLS(filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")))
	assert.ErrorContains(t, r.ListenAndServe("127.0.0.1:0"), "TLS key pair")
}

func BenchmarkRouterServeHTTP(b *testing.B) {
	r := NewRouter()
	r.Use(header("root"))
	r.HandleFunc("GET /data/{table}", ok)

	h := r.Handler()
	req := httptest.NewRequest(http.MethodGet, "/data/oplata", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSWithOptions(t *testing.T) {
	tests := []struct {
		options         *CORSOptions
		expectedHeaders map[string]string
		name            string
		method          string
		origin          string
		preflight       bool
		expectedStatus  int
	}{
		{
			name:    "default options without origin",
			method:  http.MethodGet,
			options: nil,
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":      "*",
				"Access-Control-Allow-Methods":     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
				"Access-Control-Allow-Credentials": "true",
				"Access-Control-Expose-Headers":    "X-Request-Id,Content-Range",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "default options echo origin with credentials",
			method:  http.MethodGet,
			origin:  "http://localhost:5173",
			options: nil,
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin": "http://localhost:5173",
				"Vary":                        "Origin",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "allowed origin",
			method: http.MethodGet,
			origin: "https://coop.example.com",
			options: &CORSOptions{
				AllowedOrigins: []string{"https://coop.example.com"},
				AllowedMethods: []string{"GET", "POST"},
			},
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":      "https://coop.example.com",
				"Access-Control-Allow-Methods":     "GET,POST",
				"Access-Control-Allow-Credentials": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "foreign origin",
			method: http.MethodGet,
			origin: "https://evil.example.com",
			options: &CORSOptions{
				AllowedOrigins: []string{"https://coop.example.com"},
			},
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "empty options",
			method:  http.MethodGet,
			origin:  "http://localhost:5173",
			options: &CORSOptions{},
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":  "",
				"Access-Control-Allow-Methods": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:      "preflight request",
			method:    http.MethodOptions,
			origin:    "http://localhost:5173",
			preflight: true,
			options:   nil,
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin": "http://localhost:5173",
			},
			expectedStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.com/data/budynek", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			rr := httptest.NewRecorder()

			handler := CORSWithOptions(tt.options)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(rr, req)

			for header, expected := range tt.expectedHeaders {
				assert.Equal(t, expected, rr.Header().Get(header), header)
			}
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

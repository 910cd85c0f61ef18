package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"go.uber.org/zap"
)

// ResponseRecorder wraps http.ResponseWriter to capture the status code and
// the number of bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode  int
	Bytes       int
	wroteHeader bool
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	if !rr.wroteHeader {
		rr.StatusCode = statusCode
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	n, err := rr.ResponseWriter.Write(b)
	rr.Bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

type logMetaKey struct{}

type logMeta struct {
	mu     sync.Mutex
	fields []zap.Field
}

// AddLogFields attaches fields to the access log entry of the request. Inner
// middleware (e.g. authentication) uses it to report what it learned, since
// context values do not flow back to the logger.
func AddLogFields(r *http.Request, fields ...zap.Field) {
	if m, ok := r.Context().Value(logMetaKey{}).(*logMeta); ok {
		m.mu.Lock()
		m.fields = append(m.fields, fields...)
		m.mu.Unlock()
	}
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("req_id", reqID),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("host", r.Host),
		zap.String("url", r.URL.String()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Int("bytes", rec.Bytes),
		zap.Duration("latency", latency),
	}
}

// LoggerWithOptions logs one "response" entry per request. Handlers further
// down get a logger carrying req_id through httputil.Logger. A nil options
// uses the global zap logger.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	var o LoggerOptions
	if options != nil {
		o = *options
	}
	if o.Format == nil {
		o.Format = defaultFormat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := o.Logger
			if logger == nil {
				logger = zap.L()
			}

			start := time.Now()
			reqID, ok := r.Context().Value(httputil.RequestIDCtxKey).(string)
			if !ok {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			meta := &logMeta{}
			ctx := context.WithValue(r.Context(), httputil.LogEntryCtxKey, logger.With(zap.String("req_id", reqID)))
			ctx = context.WithValue(ctx, logMetaKey{}, meta)
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			fields := o.Format(reqID, rec, r, time.Since(start))
			meta.mu.Lock()
			fields = append(fields, meta.fields...)
			meta.mu.Unlock()
			logger.Info("response", fields...)
		})
	}
}

package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Middleware wraps an http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions configures a Router.
type RouterOptions func(*Router)

// Router is a thin layer over http.ServeMux adding route groups and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	prefix     string
	middleware []Middleware
	mu         sync.RWMutex
	tlsErr     error
	// group is set on routers created by Group. Middleware of the root
	// router wraps the whole mux; a group's middleware wraps its routes.
	group bool
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithTLS serves HTTPS with the given certificate and key files. A load
// failure is reported by ListenAndServe.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			r.tlsErr = fmt.Errorf("loading TLS key pair: %w", err)
			return
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware, applied in the order they are added. On
// the root router they wrap every request, including unmatched ones and CORS
// preflights. On a group they wrap routes registered afterwards.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a sub-router with a prefix. A group nested in another group
// inherits that group's middleware.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{
		mux:    r.mux,
		server: r.server,
		prefix: r.prefix + prefix,
		group:  true,
	}
	if r.group {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Handle registers handler for `METHOD /pattern` using the Go 1.22 mux
// syntax. On a group with /prefix the route becomes `METHOD /prefix/pattern`.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok {
		panic("httputil: invalid method pattern: " + methodPattern)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	h := handler
	if r.group {
		h = chain(h, r.middleware)
	}
	h = recordRoute(h)
	r.mux.Handle(fmt.Sprintf("%s %s%s", method, r.prefix, pattern), h)
}

// HandleFunc is Handle for a plain function.
func (r *Router) HandleFunc(methodPattern string, fn http.HandlerFunc) {
	r.Handle(methodPattern, fn)
}

// Handler returns the mux wrapped in the root middleware.
func (r *Router) Handler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return chain(r.mux, r.middleware)
}

type routeKey struct{}

// TrackRoute returns a copy of r through which the pattern of the route that
// eventually serves it can be read back with MatchedRoute, even by outer
// middleware that only sees the original request.
func TrackRoute(r *http.Request) *http.Request {
	var route string
	return r.WithContext(context.WithValue(r.Context(), routeKey{}, &route))
}

// MatchedRoute returns the mux pattern recorded for r, or "" when no route
// matched.
func MatchedRoute(r *http.Request) string {
	if route, ok := r.Context().Value(routeKey{}).(*string); ok && *route != "" {
		return *route
	}
	return r.Pattern
}

func recordRoute(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route, ok := r.Context().Value(routeKey{}).(*string); ok {
			*route = r.Pattern
		}
		h.ServeHTTP(w, r)
	})
}

func chain(h http.Handler, mw []Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// ListenAndServe starts the server, choosing HTTPS when WithTLS was given.
func (r *Router) ListenAndServe(addr string) error {
	if r.tlsErr != nil {
		return r.tlsErr
	}
	fmt.Print(colorGreen + coopASCIIArt + colorReset)
	zap.L().Info("starting server", zap.String("addr", addr), zap.Bool("tls", r.server.TLSConfig != nil))

	r.server.Addr = addr
	r.server.Handler = r.Handler()

	if r.server.TLSConfig != nil {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	zap.L().Info("shutting down server")
	return r.server.Shutdown(ctx)
}

const (
	colorGreen   = "\033[32m"
	colorReset   = "\033[0m"
	coopASCIIArt = `
  ___ ___   ___  _ __
 / __/ _ \ / _ \| '_ \
| (_| (_) | (_) | |_) |
 \___\___/ \___/| .__/
                |_|

`
)

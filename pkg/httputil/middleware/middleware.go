// Package middleware provides the HTTP middleware of the REST facade:
// request ids, CORS, access logging, metrics, authentication, login
// throttling and response caching.
package middleware

import (
	"net/http"

	"github.com/mariukha/CoopManager/pkg/httputil"
)

// Chain applies middlewares to h. The first middleware in the list is the
// outermost wrapper (executed first).
func Chain(h http.Handler, middlewares ...httputil.Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

package router

import (
	"context"
	"net/http"
	"time"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/observability"
)

type routeKey struct{}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under a fixed route label.
func (a *API) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r.WithContext(context.WithValue(r.Context(), routeKey{}, route)))
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func routeOf(r *http.Request) string {
	if s, ok := r.Context().Value(routeKey{}).(string); ok {
		return s
	}
	return r.URL.Path
}

package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Middleware wraps HTTP handlers to record request count and duration
type Middleware struct {
	metrics *Metrics
}

// NewMiddleware creates a telemetry middleware
func NewMiddleware(metrics *Metrics) *Middleware {
	return &Middleware{metrics: metrics}
}

// Handler returns the mux-compatible middleware function
func (tm *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		tm.metrics.RecordRequest(r.Method, route, wrapper.statusCode, time.Since(start).Seconds())
	})
}

// responseWriterWrapper captures the status code written by the handler
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

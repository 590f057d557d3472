package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
)

// NewLoggingMiddleware creates a new logging middleware that also counts requests.
func NewLoggingMiddleware(logger zerolog.Logger, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				m.RecordHTTPRequest(r.Method, strconv.Itoa(status))
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// NewAuditMiddleware logs state-changing requests to the audit logger.
func NewAuditMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	audit := logger.With().Str("component", "audit").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			audit.Info().
				Str("action", mapMethodToAction(r.Method)).
				Str("resource", r.URL.Path).
				Str("client", getClientID(r)).
				Str("user_agent", r.UserAgent()).
				Bool("success", ww.Status() < http.StatusBadRequest).
				Int("status", ww.Status()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("API audit")
		})
	}
}

// mapMethodToAction maps HTTP methods to audit action names.
func mapMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "api_create"
	case http.MethodPut, http.MethodPatch:
		return "api_update"
	case http.MethodDelete:
		return "api_delete"
	default:
		return "api_request"
	}
}

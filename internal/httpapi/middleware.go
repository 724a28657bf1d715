package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"tradedesk/internal/guard"
	"tradedesk/internal/metrics"
)

// requestLogger logs one line per request through the structured logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// admission runs the guard before any orchestration: API key first, then
// the per-(host,ip,day) ceiling. Distinct status per rejection cause.
func (s *Server) admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.guard == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.guard.Check(r); err != nil {
			metrics.GuardRejections.Inc()
			switch {
			case errors.Is(err, guard.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			case errors.Is(err, guard.ErrRateLimited):
				writeError(w, http.StatusTooManyRequests, "daily request limit reached, try again tomorrow")
			default:
				writeError(w, http.StatusForbidden, "request rejected")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

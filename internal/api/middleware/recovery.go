package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/productlens/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope. The log line carries
// the matched route and, for job routes, the job id. A nil logger uses
// slog.Default.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				log := logger
				if log == nil {
					log = slog.Default()
				}

				attrs := []any{
					"error", rec,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"client_ip", ClientIP(r),
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						attrs = append(attrs, "route", pattern)
					}
					if jobID := rctx.URLParam("jobID"); jobID != "" {
						attrs = append(attrs, "job_id", jobID)
					}
				}
				log.Error("panic recovered", attrs...)

				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

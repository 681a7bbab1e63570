package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/productlens/internal/api/middleware"
	"github.com/kiranshivaraju/productlens/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger         *slog.Logger
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler  http.HandlerFunc
	AnalyzeHandler http.HandlerFunc
	StatusHandler  http.HandlerFunc
	CancelHandler  http.HandlerFunc
	ResultHandler  http.HandlerFunc
	ReportHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS(deps.AllowedOrigins))

	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Only job creation is throttled.
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
	})

	r.Get("/status/{jobID}", orNotImplemented(deps.StatusHandler))
	r.Post("/cancel/{jobID}", orNotImplemented(deps.CancelHandler))
	r.Get("/result/{jobID}", orNotImplemented(deps.ResultHandler))
	r.Get("/report/{jobID}", orNotImplemented(deps.ReportHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"quizdesk/internal/config"
	"quizdesk/internal/metrics"
)

// NewRouter wires application routes and middleware using chi. A nil gatherer
// disables /metrics and a nil limiter disables rate limiting.
func NewRouter(cfg config.Config, sessions ManagerSource, limiter *RateLimiter, recorder metrics.Recorder, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger, recorder))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	authHandler := NewAuthHandler(sessions, cfg.SiteURL, cfg.Environment, logger)
	viewHandler := NewViewHandler(authHandler)
	throttle := func(route string) func(http.Handler) http.Handler {
		if limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return limiter.Middleware(route)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(newClientMiddleware(sessions, !cfg.IsDevelopment(), logger))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/state", authHandler.State)
			r.With(throttle("signin")).Post("/signin", authHandler.SignIn)
			r.With(throttle("signup")).Post("/signup", authHandler.SignUp)
			r.Post("/signout", authHandler.SignOut)
		})
		r.Get("/views/{area}", viewHandler.Resolve)
	})

	if spa := newSPAHandler(staticRoot(cfg.StaticDir)); spa != nil {
		r.Handle("/*", spa)
	} else {
		logger.Warn("static assets not found; serving API only", "dir", cfg.StaticDir)
		r.NotFound(http.NotFoundHandler().ServeHTTP)
	}

	return r
}

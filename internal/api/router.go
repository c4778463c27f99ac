package api

import (
	"booklend/internal/api/handler"
	mw "booklend/internal/api/middleware"
	"booklend/internal/config"
	"booklend/internal/domain/book"
	"booklend/internal/domain/loan"
	"booklend/internal/pkg/clock"
	"log/slog"
	"net/http"
	"time"

	_ "booklend/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const requestTimeout = 60 * time.Second

func SetupRouter(
	rateLimiter *mw.RateLimiterMiddleware,
	reservationService loan.ReservationService,
	bookService book.BookService,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	router := chi.NewRouter()

	setupMiddleware(router, logger)
	setupMetricsEndpoint(router, cfg, logger)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	setupSwaggerEndpoint(router, logger)
	setupAuthRoutes(router, rateLimiter, cfg, logger)
	setupBookRoutes(router, rateLimiter, bookService, logger)
	setupRentalRoutes(router, rateLimiter, reservationService, cfg, logger)

	return router
}

func setupMiddleware(router *chi.Mux, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(traceid.Middleware)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(mw.MetricsMiddleware())
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func setupSwaggerEndpoint(router *chi.Mux, logger *slog.Logger) {
	logger.Info("Setting up Swagger UI endpoint", "path", "/swagger/")
	router.Get("/swagger/*", httpSwagger.WrapHandler)
	router.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
}

func setupAuthRoutes(router *chi.Mux, rateLimiter *mw.RateLimiterMiddleware, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Server.Auth.DevTokenIssuer {
		return
	}
	logger.Warn("Development token issuer enabled", "path", "/auth/token")
	authHandler := handler.NewAuthHandler(cfg.Server.Auth, clock.System{}, logger)

	router.Route("/auth", func(r chi.Router) {
		r.Use(rateLimiter.Middleware)
		r.Post("/token", authHandler.GenerateBearerToken)
	})
}

func setupBookRoutes(router *chi.Mux, rateLimiter *mw.RateLimiterMiddleware, svc book.BookService, logger *slog.Logger) {
	h := handler.NewBookHandler(svc, logger)

	router.Route("/api/books", func(r chi.Router) {
		r.Use(rateLimiter.Middleware)
		r.Get("/", h.ListBooks)
		r.Get("/{bookID}", h.GetBook)
	})
}

// The limiter runs after auth so authenticated callers are budgeted per borrower.
func setupRentalRoutes(router *chi.Mux, rateLimiter *mw.RateLimiterMiddleware, svc loan.ReservationService, cfg *config.Config, logger *slog.Logger) {
	h := handler.NewRentalHandler(svc, logger)

	router.Route("/api/rentals", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.Use(rateLimiter.Middleware)
		r.Post("/", h.Borrow)
		r.Get("/my", h.ListMine)
		r.Post("/{loanID}/renew", h.Renew)
		r.Post("/{loanID}/return", h.Return)
	})
}

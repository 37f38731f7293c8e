package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Pinger — зависимость, без которой сервис не готов (БД, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type ServerDeps struct {
	Handler *Handler
	Auth    func(http.Handler) http.Handler
	Metrics http.Handler // nil — /metrics не публикуется
	Health  map[string]Pinger
}

// NewRouter собирает chi роутер сервиса резолва.
func NewRouter(d ServerDeps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	logger = logger.Named("http")

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", healthHandler(d.Health, logger))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	// --- 3. Защищенные роуты ---
	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth)
		}
		r.Post("/v1/resolve", d.Handler.Resolve)
		r.Get("/v1/agents", d.Handler.Agents)
	})
	return r
}

func healthHandler(deps map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				status = http.StatusServiceUnavailable
			}
		}
		w.WriteHeader(status)
	}
}

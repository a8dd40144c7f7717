package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"chunkdrop/internal/config"
	cdmiddleware "chunkdrop/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps 汇总构建路由所需的依赖。Auth 为空时不做鉴权。
type RouterDeps struct {
	Config  *config.Config
	Logger  *slog.Logger
	Auth    func(http.Handler) http.Handler
	Health  func(ctx context.Context) error
	Uploads *UploadHandler
	Stream  *StreamHandler
}

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(cdmiddleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Range", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(cdmiddleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	r.Use(cdmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				deps.Logger.Warn("health check failed", "error", err)
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/upload", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth)
		}
		if deps.Stream != nil {
			deps.Stream.RegisterRoutes(r)
		}
		if deps.Uploads != nil {
			deps.Uploads.RegisterRoutes(r)
		}
	})

	return r
}

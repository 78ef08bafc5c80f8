package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/botmd/internal/config"
	"github.com/JakeFAU/botmd/internal/metrics"
	"github.com/JakeFAU/botmd/pkg/botmd"
)

// AdminPrefix is the path prefix reserved for the service's own routes.
const AdminPrefix = "/_botmd"

const adminTimeout = 10 * time.Second

// Server wires the botmd middleware in front of an upstream handler.
type Server struct {
	router chi.Router
	engine *botmd.Botmd
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil upstream
// answers 404 for anything the middleware does not serve.
func NewServer(engine *botmd.Botmd, upstream http.Handler, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Route(AdminPrefix, func(r chi.Router) {
		r.Use(timeoutMiddleware(adminTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Get("/cache", s.cacheStats)
			r.Delete("/cache", s.clearCache)
		})
	})

	r.Handle("/*", engine.Middleware(upstream))

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The engine holds no external connections; being constructed is being ready.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type cacheStatsResponse struct {
	Enabled   bool   `json:"enabled"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	TTL       string `json:"ttl"`
	Converter string `json:"converter"`
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	rc := s.engine.Config()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Enabled:   rc.Cache.Enabled,
		Size:      s.engine.CacheSize(),
		MaxSize:   rc.Cache.MaxSize,
		TTL:       rc.Cache.TTL.String(),
		Converter: rc.Converter,
	})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	evicted := s.engine.CacheSize()
	s.engine.ClearCache()
	s.logger.Info("cache purged via admin API",
		zap.Int("evicted", evicted),
		zap.String("request_id", RequestID(r.Context())),
	)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "evicted": evicted})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

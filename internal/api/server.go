package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/studio-gateway/internal/config"
	"github.com/JakeFAU/studio-gateway/internal/metrics"
	"github.com/JakeFAU/studio-gateway/internal/studio"
)

// StudioController is the operation surface the handlers drive.
type StudioController interface {
	Start(ctx context.Context, creds studio.Credentials, ref studio.Ref) (studio.Studio, error)
	Stop(ctx context.Context, creds studio.Credentials, studioID string) error
}

// Server wires HTTP handlers to the studio service.
type Server struct {
	router  chi.Router
	studios StudioController
	idGen   studio.IDGenerator
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	studios StudioController,
	idGen studio.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		studios: studios,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(credentialsMiddleware)
		r.Post("/studios", s.startStudio)
		r.Delete("/studios/{studio_id}", s.stopStudio)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Stateless: nothing to warm up before serving.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

// writeError renders the {"detail": msg} envelope used for every failure.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Detail: msg})
}

type errorResponse struct {
	Detail string `json:"detail"`
}

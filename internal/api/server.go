// Package api serves the service's HTTP surface: health, metrics, and the
// synchronous identity-verification endpoint. Everything heavy runs in the
// consumers; these handlers only front the shared collaborators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luckygarg1810/exam-platform/internal/metrics"
	"github.com/luckygarg1810/exam-platform/internal/ml"
	"github.com/luckygarg1810/exam-platform/internal/store"
)

// Database is the relational-store seam; nil when persistence is disabled.
type Database interface {
	CheckConnection(ctx context.Context) error
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// ObjectStore is the blob-store seam.
type ObjectStore interface {
	Check(ctx context.Context) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// Config holds the server settings.
type Config struct {
	Port               int
	ProfilesBucket     string
	SnapshotsBucket    string
	FaceMatchThreshold float64
	VerifyRateLimit    float64
	VerifyRateBurst    int
}

// Server is the HTTP front of the analysis daemon.
type Server struct {
	cfg      Config
	registry *ml.Registry
	db       Database
	blobs    ObjectStore
	limiter  *rate.Limiter
	logger   zerolog.Logger

	httpServer *http.Server
}

func NewServer(cfg Config, registry *ml.Registry, db Database, blobs ObjectStore, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		db:       db,
		blobs:    blobs,
		limiter:  rate.NewLimiter(rate.Limit(cfg.VerifyRateLimit), cfg.VerifyRateBurst),
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Post("/ai/verify-identity", s.handleVerifyIdentity)
	return r
}

// Start begins serving; it blocks until shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError mirrors the {"detail": ...} error shape the platform clients
// already parse.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/identity"
)

type Options struct {
	Port int
	// Token guards the admin API. A random one is generated when empty.
	Token string
	// TokenFile, when set, receives the admin token on Start.
	TokenFile string
	Cookies   *identity.Cookies
	Logger    *slog.Logger
	// DB is used for the size reported by /health. May be nil.
	DB *sql.DB
}

type Server struct {
	svc       *experiment.Service
	port      int
	token     string
	tokenFile string
	cookies   *identity.Cookies
	logger    *slog.Logger
	db        *sql.DB
	router    *chi.Mux
	startTime time.Time
	httpSrv   *http.Server
}

func New(svc *experiment.Service, opts Options) *Server {
	srv := &Server{
		svc:       svc,
		port:      opts.Port,
		token:     opts.Token,
		tokenFile: opts.TokenFile,
		cookies:   opts.Cookies,
		logger:    opts.Logger,
		db:        opts.DB,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	if srv.token == "" {
		srv.token = generateToken()
	}
	if srv.cookies == nil {
		srv.cookies = identity.NewCookies("", 0)
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	// Public endpoints
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/api/tests/{id}/results", s.handleResults)
	s.router.Group(func(r chi.Router) {
		r.Use(cors)
		r.Post("/api/assign", s.handleAssign)
		r.Post("/api/track", s.handleTrack)
		r.Options("/api/assign", noContent)
		r.Options("/api/track", noContent)
	})

	// Admin endpoints (protected)
	s.router.Route("/api/admin/tests", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListTests)
		r.Post("/", s.handleCreateTest)
		r.Get("/{id}", s.handleGetTest)
		r.Delete("/{id}", s.handleDeleteTest)
		r.Post("/{id}/{action}", s.handleTransition)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

// Start listens on the configured port until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "port", s.port)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
	"github.com/keyward/apiserver/internal/auth"
	"github.com/keyward/apiserver/internal/db"
	"github.com/keyward/apiserver/internal/handlers"
	"github.com/keyward/apiserver/internal/metrics"
	"github.com/keyward/apiserver/internal/services"
	"github.com/keyward/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer  *http.Server
	router      *chi.Mux
	db          *sql.DB
	authService *services.AuthService
	closers     []io.Closer
	logger      *slog.Logger
}

// New wires configuration, storage, notifier and routes. It fails fast when
// the token configuration is incomplete.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger}

	var repo services.AccountRepository
	switch cfg.StoreDriver {
	case config.StorePostgres:
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.db = dbConn
		repo = store.NewAccountRepository(dbConn)
	case config.StoreMemory:
		logger.WarnContext(ctx, "using in-memory account store; accounts are lost on restart")
		repo = store.NewMemoryAccountRepository()
	default:
		return nil, oops.Code("CONFIG_INVALID").With("store", cfg.StoreDriver).Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	notifier, closer, err := NewNotifier(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	m := metrics.New()
	s.authService = services.NewAuthService(
		repo,
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		tokens,
		cfg.Auth,
		services.WithNotifier(notifier),
		services.WithNotifyTimeout(cfg.Notifier.Timeout),
		services.WithMetrics(m),
		services.WithLogger(logger),
	)

	var pingers []handlers.Pinger
	if s.db != nil {
		pingers = append(pingers, s.db)
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/", handlers.Root)
	router.Get("/healthz", handlers.Healthz(pingers...))
	router.Handle("/metrics", m.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, s.authService, tokens, logger)
	})
	s.router = router

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, lets in-flight requests and pending
// reset notifications finish, then releases the store and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	drained := make(chan struct{})
	go func() {
		s.authService.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with notifications pending")
	}

	s.close()
	return err
}

func (s *Server) close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

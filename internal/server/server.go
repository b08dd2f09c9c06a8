// Package server is the composition root: it builds every backend named
// in the configuration, wires services into handlers and mounts routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/cloudtype/internal/auth"
	"github.com/sakif/cloudtype/internal/cache"
	"github.com/sakif/cloudtype/internal/config"
	"github.com/sakif/cloudtype/internal/handler"
	"github.com/sakif/cloudtype/internal/metrics"
	"github.com/sakif/cloudtype/internal/middleware"
	sqliteRepo "github.com/sakif/cloudtype/internal/repository/sqlite"
	"github.com/sakif/cloudtype/internal/service"
	"github.com/sakif/cloudtype/internal/storage"
)

// Server owns the database, the optional cache connection and the router.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	metrics *metrics.Metrics
	auth    *service.AuthService
	closers []io.Closer
}

// New opens every backend and mounts the routes. Close releases them.
//
// DEPENDENCY CHAIN:
//
//	sqlite.DB ─┬─ Users ──▶ AuthService, ModerationService, AccessService
//	           ├─ Posts ─┐
//	           └─ Likes ─┴▶ PostService ◀── storage.Store
//	cache.StatusCache ──▶ AccessService (guard re-check), ModerationService (invalidation)
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("server: creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.NewContext(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New("cloudtype"),
		closers: []io.Closer{db},
	}

	if err := s.setup(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setup(ctx context.Context) error {
	cfg := s.config

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	var status cache.StatusCache
	if cfg.Auth.RecheckAccount {
		status, err = s.newStatusCache(ctx)
		if err != nil {
			return err
		}
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	opts := []service.Option{service.WithMetrics(s.metrics)}
	users := s.db.Users()
	posts := s.db.Posts()

	var validator service.ReferenceValidator
	if cfg.Posts.ValidateReferences {
		validator = service.ExistingPostValidator{Posts: posts}
	}

	s.auth = service.NewAuthService(users, tokens, passwords, s.logger, opts...)
	moderation := service.NewModerationService(users, status, s.logger, opts...)
	postSvc := service.NewPostService(posts, s.db.Likes(), store, validator, s.logger, opts...)

	guardOpts := []auth.GuardOption{auth.WithGuardMetrics(s.metrics)}
	if cfg.Auth.RecheckAccount {
		access := service.NewAccessService(users, status, s.logger, opts...)
		guardOpts = append(guardOpts, auth.WithAccountChecker(access))
	}
	guard := auth.NewGuard(tokens, s.logger, guardOpts...)

	var github handler.GitHubAuthenticator
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	s.routes(routeDeps{
		guard: guard,
		auth:  handler.NewAuthHandler(s.auth, github, cfg.GitHub.FrontendURL, s.logger),
		users: handler.NewUserHandler(s.auth, s.logger),
		admin: handler.NewAdminHandler(moderation, s.logger),
		posts: handler.NewPostHandler(postSvc, cfg.Server.MaxUploadBytes, s.logger),
	}, github != nil)

	s.logger.Info("server configured",
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("recheckAccount", cfg.Auth.RecheckAccount),
		slog.String("cache", cacheName(cfg)),
		slog.Bool("github", github != nil),
		slog.Bool("validateReferences", cfg.Posts.ValidateReferences),
	)
	return nil
}

type routeDeps struct {
	guard *auth.Guard
	auth  *handler.AuthHandler
	users *handler.UserHandler
	admin *handler.AdminHandler
	posts *handler.PostHandler
}

// routes mounts the API.
//
// MIDDLEWARE ORDER:
// RequestID first so the logger can print it, Recoverer inside Logger so
// a panic is logged as a 500, Metrics last so it sees the matched route.
func (s *Server) routes(d routeDeps, github bool) {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.config.Server.CORSOrigins))
	r.Use(middleware.Metrics(s.metrics))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/uploads/{key}", d.posts.HandleAttachment)

	if github {
		r.Get("/auth/github/login", d.auth.HandleGitHubLogin)
		r.Get("/auth/github/callback", d.auth.HandleGitHubCallback)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", d.auth.HandleRegister)
		r.Post("/auth/login", d.auth.HandleLogin)

		// The static /users/me wins over {username}.
		r.With(d.guard.Authenticate).Get("/users/me", d.users.HandleMe)
		r.Get("/users/{username}", d.users.HandleProfile)

		r.Group(func(r chi.Router) {
			r.Use(d.guard.Authenticate)
			r.Post("/posts", d.posts.HandleCreate)
			r.Get("/posts/feed", d.posts.HandleFeed)
			r.Post("/posts/{id}/like", d.posts.HandleLike)
			r.Delete("/posts/{id}/like", d.posts.HandleUnlike)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(d.guard.Authenticate, d.guard.RequireAdmin)
			r.Post("/ban-user", d.admin.HandleBan)
			r.Post("/unban-user", d.admin.HandleUnban)
			r.Post("/verify-user", d.admin.HandleVerify)
			r.Post("/make-admin", d.admin.HandleMakeAdmin)
			r.Get("/users", d.admin.HandleListUsers)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SeedAdmin creates the configured administrative identity if its handle
// is free.
func (s *Server) SeedAdmin(ctx context.Context) error {
	a := s.config.Admin
	return s.auth.SeedAdmin(ctx, service.AdminSeed{
		Handle:      a.Handle,
		Email:       a.Email,
		Password:    a.Password,
		DisplayName: a.DisplayName,
	})
}

// Close releases the database and cache connections, newest first.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for
// up to server.shutdown_timeout and closes every backend.
func (s *Server) Start() error {
	defer s.Close()

	cfg := s.config.Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", cfg.Port)),
			slog.String("database", s.config.Database.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "minio":
		m, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		return m, nil
	case "s3":
		st, err := storage.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		return st, nil
	default:
		l, err := storage.NewLocal(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		return l, nil
	}
}

func (s *Server) newStatusCache(ctx context.Context) (cache.StatusCache, error) {
	ttl := s.config.Auth.StatusCacheTTL
	if s.config.Cache.Backend != "redis" {
		return cache.NewMemory(ttl), nil
	}
	r, err := cache.NewRedisFromURL(ctx, s.config.Cache.RedisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.closers = append(s.closers, r)
	return r, nil
}

func cacheName(cfg *config.Config) string {
	if !cfg.Auth.RecheckAccount {
		return "none"
	}
	return cfg.Cache.Backend
}

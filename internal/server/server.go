// Package server is the composition root: it opens the store, picks the
// change feed and media backends from config, wires services to handlers
// and runs the HTTP server until a shutdown signal arrives.
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/inkwell/internal/auth"
	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/config"
	"github.com/sakif/inkwell/internal/handler"
	"github.com/sakif/inkwell/internal/identity"
	"github.com/sakif/inkwell/internal/media"
	"github.com/sakif/inkwell/internal/middleware"
	sqliteRepo "github.com/sakif/inkwell/internal/repository/sqlite"
	"github.com/sakif/inkwell/internal/service"
	"github.com/sakif/inkwell/internal/session"
)

// feed is what the server needs from a change feed backend: the store
// publishes into it and the websocket handler subscribes to it.
type feed interface {
	changefeed.Publisher
	changefeed.Source
}

// Server owns the database and the change feed; both are closed on shutdown.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	feed    feed
	closers []io.Closer
}

// New wires every component. Optional backends (Redis, MinIO) are used when
// configured; without them events stay in process and covers are plain URLs.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	hub := changefeed.NewHub(logger)
	s.feed = hub
	if cfg.Feed.RedisURL != "" {
		broker, err := changefeed.NewRedisBroker(cfg.Feed.RedisURL, cfg.Feed.ChannelPrefix, hub, logger)
		if err != nil {
			return nil, fmt.Errorf("creating change feed broker: %w", err)
		}
		if err := broker.Start(context.Background()); err != nil {
			broker.Close()
			return nil, fmt.Errorf("starting change feed broker: %w", err)
		}
		s.feed = broker
		s.closers = append(s.closers, broker)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.close()
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithPublisher(s.feed), sqliteRepo.WithLogger(logger))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, db)

	if err := s.setupRoutes(); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) mediaStore() (media.Store, error) {
	if !s.config.MinioEnabled() {
		return media.URLStore{}, nil
	}
	m := s.config.Media
	return media.NewMinioStore(media.MinioConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		UseSSL:    m.UseSSL,
		Region:    m.Region,
	})
}

// setupRoutes registers:
//
//	POST   /auth/signup, /auth/login, /auth/refresh, /auth/logout
//	GET    /auth/github/login, /auth/github/callback
//	GET    /api/posts, /api/posts/{id}, /api/categories, /api/categories/{id}, /api/profiles/{id}
//	       /api/feed (websocket)
//	signed in:
//	GET    /api/me, /api/me/posts, /api/history
//	PATCH  /api/me
//	POST   /api/posts, /api/posts/{id}/read
//	PATCH  /api/posts/{id}
//	DELETE /api/posts/{id}
//	admin (role checked by the services, so anonymous callers get 403):
//	POST   /api/categories    PUT/DELETE /api/categories/{id}
//	GET    /api/stats, /api/profiles
//	PUT    /api/profiles/{id}/role    DELETE /api/profiles/{id}
//
// Session resolution runs before the request logger so log lines carry the
// user id.
func (s *Server) setupRoutes() error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	store, err := s.mediaStore()
	if err != nil {
		return fmt.Errorf("creating media store: %w", err)
	}

	provider := identity.NewProvider(s.db, auth.NewPasswordService(), tokens, s.logger)
	provisioner := session.NewProvisioner(s.db, cfg.AdminEmail, s.logger)
	github := auth.NewGitHubProvider(cfg.Auth.GitHubClientID, cfg.Auth.GitHubClientSecret, cfg.Auth.GitHubCallbackURL)
	if !github.Enabled() {
		s.logger.Info("GitHub sign-in disabled, GITHUB_CLIENT_ID not set")
	}

	content := service.NewContentService(s.db, s.db, store, s.logger)
	history := service.NewHistoryTracker(s.db, content, s.logger)
	profiles := service.NewProfileService(s.db, s.logger)

	authH := handler.NewAuthHandler(provider, provisioner, github, cfg.Auth.SecureCookie, s.logger)
	contentH := handler.NewContentHandler(content, history, s.logger)
	profileH := handler.NewProfileHandler(profiles, s.logger)
	feedH := handler.NewFeedHandler(s.feed, provider, provisioner, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(session.Middleware(session.NewResolver(provider, provisioner), s.logger))
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authH.HandleSignUp)
		r.Post("/login", authH.HandleSignIn)
		r.Post("/refresh", authH.HandleRefresh)
		r.Post("/logout", authH.HandleLogout)
		r.Get("/github/login", authH.HandleGitHubLogin)
		r.Get("/github/callback", authH.HandleGitHubCallback)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/posts", contentH.HandleListPosts)
		r.Get("/posts/{id}", contentH.HandleGetPost)
		r.Get("/categories", contentH.HandleListCategories)
		r.Get("/categories/{id}", contentH.HandleGetCategory)
		r.Get("/profiles/{id}", profileH.HandleGet)
		r.Handle("/feed", feedH)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", authH.HandleMe)
			r.Patch("/me", profileH.HandleUpdateMe)
			r.Get("/me/posts", contentH.HandleListMyPosts)
			r.Get("/history", contentH.HandleHistory)

			r.Post("/posts", contentH.HandleCreatePost)
			r.Patch("/posts/{id}", contentH.HandleUpdatePost)
			r.Delete("/posts/{id}", contentH.HandleDeletePost)
			r.Post("/posts/{id}/read", contentH.HandleRecordRead)
		})

		// Anonymous callers reach these and get 403 from the role check.
		r.Post("/categories", contentH.HandleCreateCategory)
		r.Put("/categories/{id}", contentH.HandleUpdateCategory)
		r.Delete("/categories/{id}", contentH.HandleDeleteCategory)
		r.Get("/stats", contentH.HandleStats)
		r.Get("/profiles", profileH.HandleList)
		r.Put("/profiles/{id}/role", profileH.HandleChangeRole)
		r.Delete("/profiles/{id}", profileH.HandleDelete)
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// close releases resources in reverse order of acquisition.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests for
// up to 30 seconds and closes the database and the change feed.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.Bool("redis_feed", s.config.Feed.RedisURL != ""),
			slog.Bool("minio_media", s.config.MinioEnabled()),
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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

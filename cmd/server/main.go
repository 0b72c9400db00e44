// Package main is the entry point for the forge coordinator.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aura-linux/forge/internal/buildtree"
	"github.com/aura-linux/forge/internal/chat"
	"github.com/aura-linux/forge/internal/config"
	"github.com/aura-linux/forge/internal/database"
	"github.com/aura-linux/forge/internal/github"
	"github.com/aura-linux/forge/internal/handler"
	"github.com/aura-linux/forge/internal/logfan"
	"github.com/aura-linux/forge/internal/middleware"
	"github.com/aura-linux/forge/internal/repository"
	"github.com/aura-linux/forge/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Server.Development {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting forge coordinator",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("development", cfg.Server.Development),
	)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	pipelineRepo := repository.NewPipelineRepository(db.Pool())
	jobRepo := repository.NewJobRepository(db.Pool())
	workerRepo := repository.NewWorkerRepository(db.Pool())
	userRepo := repository.NewUserRepository(db.Pool())

	// GitHub and Telegram integrations are optional; the coordinator
	// degrades to API-only operation without them.
	var provider service.Provider
	var gh *github.Client
	if cfg.GitHub.AccessToken != "" {
		gh = github.New(cfg.GitHub)
		provider = gh
		logger.Info("GitHub integration enabled",
			slog.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo))
	} else {
		logger.Warn("GitHub access token not set, PR integration disabled")
	}

	var notifier chat.Notifier
	if cfg.Telegram.Token != "" {
		notifier, err = chat.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			log.Fatalf("Failed to connect to Telegram: %v", err)
		}
		logger.Info("Telegram integration enabled")
	} else {
		logger.Warn("Telegram token not set, chat notifications disabled")
	}

	tree := buildtree.New(cfg.Tree.Path)
	propagator := service.NewPropagator(provider, notifier, logger)

	pipelineSvc := service.NewPipelineService(
		pipelineRepo, jobRepo, workerRepo, tree, provider, notifier, logger,
		cfg.Server.ExternalURL,
	)
	workerSvc := service.NewWorkerService(workerRepo, jobRepo, logger, cfg.Worker.Secret)
	jobSvc := service.NewJobService(jobRepo, pipelineRepo, workerRepo, workerSvc, propagator, provider, logger)
	recycler := service.NewRecycler(jobRepo, logger)

	hub := logfan.NewHub()
	wsHandler := logfan.NewWSHandler(hub, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/health", healthHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("PONG"))
		})
		r.Mount("/pipeline", handler.NewPipelineHandler(pipelineSvc).Routes())
		r.Mount("/worker", handler.NewWorkerHandler(workerSvc, jobSvc).Routes())
		r.Mount("/job", handler.NewJobHandler(jobSvc).Routes())
		r.Mount("/dashboard", handler.NewDashboardHandler(pipelineSvc).Routes())

		r.Get("/ws/worker/{hostname}", wsHandler.Worker)
		r.Get("/ws/viewer/{hostname}", wsHandler.Viewer)
	})

	if gh != nil && cfg.GitHub.WebhookSecret != "" {
		webhook := handler.NewWebhookHandler(
			cfg.GitHub.WebhookSecret, cfg.GitHub.BotLogin,
			pipelineSvc, gh, userRepo, logger,
		)
		r.Post("/webhook", webhook.Receive)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return recycler.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("Server stopped gracefully")
}

// healthHandler verifies database connectivity.
func healthHandler(db *database.Postgres) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/avoronov/gitpulse/internal/config"
	"github.com/avoronov/gitpulse/internal/platform"
	"github.com/avoronov/gitpulse/internal/repository/postgres"
	"github.com/avoronov/gitpulse/internal/scheduler"
	"github.com/avoronov/gitpulse/internal/service"
	myhttp "github.com/avoronov/gitpulse/internal/transport/http"
	"github.com/avoronov/gitpulse/pkg/logger/slogpretty"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slogpretty.SetupLogger(cfg.Env)

	log.Info("starting gitpulse", slog.String("env", cfg.Env))

	errChan := make(chan error, 1)

	db, err := postgres.NewDB(cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer func() {
		if err := db.DB().Close(); err != nil {
			log.Error("db close failed", slog.String("error", err.Error()))
		}
	}()

	actors := postgres.NewActorRepository(db.DB(), log)
	repos := postgres.NewRepositoryRepository(db.DB(), log)
	activities := postgres.NewActivityRepository(db.DB(), log)
	reviews := postgres.NewReviewRepository(db.DB(), log)
	comments := postgres.NewCommentRepository(db.DB(), log)
	commits := postgres.NewCommitRepository(db.DB(), log)
	samples := postgres.NewMetricSampleRepository(db.DB(), log)
	queries := postgres.NewMetricsQueryRepository(db.DB(), log)

	client := platform.NewClient(cfg.Platform, cfg.RateLimit, log)

	syncer := service.NewSyncOrchestrator(log, cfg.Sync, client, actors, repos, activities, reviews, comments, commits)
	metrics := service.NewMetricsEngine(log, queries, samples)

	sched := scheduler.New(log)
	scheduler.RegisterBuiltins(sched, cfg.Sync, syncer, metrics)
	sched.Start(ctx)
	defer sched.Stop()

	srv := myhttp.NewServer(log, syncer, metrics, sched, client)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	go startServer(log, httpServer, errChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)

	case <-ctx.Done():
		log.Info("stopping server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}

	return nil
}

func startServer(log *slog.Logger, httpServer *http.Server, errChan chan error) {
	defer close(errChan)

	log.Info("service started", slog.String("addr", httpServer.Addr))

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("error listening and serving: %w", err)
	}
}

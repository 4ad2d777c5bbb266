package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ACodePorter/marketreplay/pkg/database"

	"github.com/ACodePorter/marketreplay/internal/api"
	"github.com/ACodePorter/marketreplay/internal/api/handlers"
	"github.com/ACodePorter/marketreplay/internal/market"
	"github.com/ACodePorter/marketreplay/internal/runner"
	"github.com/ACodePorter/marketreplay/internal/runstore"
	"github.com/ACodePorter/marketreplay/internal/scheduler"
	"github.com/ACodePorter/marketreplay/internal/scheduler/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the API server exposing simulation runs over HTTP and
websocket, plus the nightly maintenance scheduler.

Endpoints:
  POST /api/runs              launch a run
  GET  /api/runs              list runs
  GET  /api/runs/{id}         run detail with results
  GET  /api/runs/{id}/stream  websocket progress stream`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	// The database is optional: without it runs are CSV-only and
	// nothing is persisted.
	var (
		marketRepo *market.Repository
		store      *runstore.Repository
		sched      *scheduler.Scheduler
	)
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		marketRepo = market.NewRepository(db.Pool)
		store = runstore.NewRepository(db.Pool)

		sched = scheduler.New(log)
		if err := sched.AddJob(jobs.NewPruneRunsJob(store, cfg.RetentionDays, log)); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	} else {
		log.Warn("No database configured, persistence and maintenance disabled")
	}

	manager := runner.NewManager(log)
	runsHandler := handlers.NewRunsHandler(manager, marketRepo, store, cfg, log)
	streamHandler := handlers.NewStreamHandler(manager, log)
	router := api.NewRouter(runsHandler, streamHandler, log)
	server := api.NewServer(cfg, log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

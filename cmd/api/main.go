package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zieduz/jira-dashboard/internal/adapters/gitlab"
	"github.com/zieduz/jira-dashboard/internal/adapters/jira"
	"github.com/zieduz/jira-dashboard/internal/config"
	"github.com/zieduz/jira-dashboard/internal/domain"
	httpx "github.com/zieduz/jira-dashboard/internal/http"
	"github.com/zieduz/jira-dashboard/internal/jobs"
	"github.com/zieduz/jira-dashboard/internal/logger"
	"github.com/zieduz/jira-dashboard/internal/repo"
	"github.com/zieduz/jira-dashboard/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()

	// Adapters
	jc := jira.NewClient(cfg, log)
	gl := gitlab.NewClient(cfg, log)

	// Services
	classifier := domain.NewStatusClassifier(cfg.Metrics.NonResolvedStatuses)
	repository := repo.NewRepository(db, classifier, log)
	metrics := services.NewMetricsService(cfg.Metrics, repository, log)
	forecast := services.NewForecastService(cfg.Metrics, repository, log)
	sync := services.NewSyncService(cfg, log, repository, jc, gl)

	if !jc.Configured() { log.Warn().Msg("jira credentials not configured, sync endpoints will fail") }
	if !gl.Configured() { log.Info().Msg("gitlab not configured, commit sync disabled") }

	// HTTP
	handlers := httpx.NewHandlers(cfg, log, metrics, forecast, sync, repository)
	router := httpx.NewRouter(cfg, log, handlers)

	// Cron
	cron := jobs.NewCron(cfg, log, sync, repository)
	cron.Start()
	defer cron.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}

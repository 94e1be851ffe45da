// The notifier worker drains due notifications from postgres and delivers
// them over SMS. It runs alongside the API server as a separate process so a
// slow messaging provider never backs up HTTP requests.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/varaprasadreddy9676/patient-care-sub000/internal/config"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/messaging"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/observability/metrics"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/scheduler"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting notifier worker",
		"env", cfg.Env,
		"poll_interval", cfg.NotifierPollInterval.String(),
		"max_retries", cfg.NotifierMaxRetries,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	sms := messaging.NewSMSClient(messaging.SMSConfig{
		BaseURL: cfg.SMSBaseURL,
		APIKey:  cfg.SMSAPIKey,
	}, logger)
	if sms == nil {
		logger.Error("SMS_BASE_URL is required for the notifier worker")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewAppointmentMetrics(registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	worker := scheduler.NewWorker(scheduler.NewStore(pool), sms, cfg.NotifierMaxRetries, appMetrics, logger)
	worker.Run(ctx, cfg.NotifierPollInterval)

	logger.Info("notifier worker stopped")
}

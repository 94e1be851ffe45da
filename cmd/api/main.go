package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/varaprasadreddy9676/patient-care-sub000/internal/api/router"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/appointment"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/audit"
	appconfig "github.com/varaprasadreddy9676/patient-care-sub000/internal/config"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/hospital"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/messaging"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/observability/metrics"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/patient"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/payments"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/policy"
	"github.com/varaprasadreddy9676/patient-care-sub000/internal/scheduler"
	"github.com/varaprasadreddy9676/patient-care-sub000/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patient-care API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()

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

	// The audit trail uses database/sql so its writes stay independent of the
	// pgx pool used by the hot path.
	auditDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appointmentMetrics := metrics.NewAppointmentMetrics(registry)

	hospitals := hospital.NewRegistry(pool)
	tokens := hospital.NewRedisTokenStore(redisClient)
	gateway := hospital.NewClient(hospitals, tokens, cfg.HospitalHTTPTimeout, logger)
	gateway.SetTokenTTLBuffer(cfg.HospitalTokenTTLBuffer)

	policyEngine, err := policy.Load(ctx, pool)
	if err != nil {
		logger.Error("failed to load hospital policies", "error", err)
		os.Exit(1)
	}

	var smsSender messaging.SMSSender
	if c := messaging.NewSMSClient(messaging.SMSConfig{
		BaseURL: cfg.SMSBaseURL,
		APIKey:  cfg.SMSAPIKey,
	}, logger); c != nil {
		smsSender = c
	}
	var whatsappSender messaging.WhatsAppSender
	if c := messaging.NewWhatsAppClient(messaging.WhatsAppConfig{
		BaseURL:  cfg.WhatsAppBaseURL,
		APIKey:   cfg.WhatsAppAPIKey,
		Template: cfg.WhatsAppTemplate,
	}, logger); c != nil {
		whatsappSender = c
	}
	messenger := messaging.NewService(smsSender, newEmailSender(ctx, cfg, logger), whatsappSender, logger)

	var capturer appointment.PaymentCapturer
	if c := payments.NewClient(payments.Config{
		BaseURL: cfg.PaymentGatewayBaseURL,
		Key:     cfg.PaymentGatewayKey,
		Secret:  cfg.PaymentGatewaySecret,
	}, logger); c != nil {
		capturer = c
	}

	service := appointment.NewService(appointment.ServiceConfig{
		Repo:      appointment.NewStore(pool),
		Gateway:   gateway,
		Patients:  patient.NewStore(pool),
		Hospitals: hospitals,
		Accounts:  hospitals,
		Policies:  policyEngine,
		Auditor:   audit.NewRecorder(auditDB),
		Notifier:  scheduler.New(scheduler.NewStore(pool), logger),
		Messenger: messenger,
		Capturer:  capturer,
		Metrics:   appointmentMetrics,
		Logger:    logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		AppointmentHandler: appointment.NewHandler(service, logger),
		PatientJWTSecret:   cfg.PatientJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// newEmailSender picks the configured email provider. SES is used when
// EMAIL_PROVIDER=ses, SendGrid otherwise.
func newEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) messaging.EmailSender {
	if cfg.EmailProvider == "ses" {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
		if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccess != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccess, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			logger.Error("failed to load AWS config, email disabled", "error", err)
			return nil
		}
		return messaging.NewSESSender(sesv2.NewFromConfig(awsCfg), messaging.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	}
	sender := messaging.NewSendGridSender(messaging.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	if sender == nil {
		return nil
	}
	return sender
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

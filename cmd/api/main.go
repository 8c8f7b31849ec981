package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/missedcall-booking/cmd/mainconfig"
	"github.com/wolfman30/missedcall-booking/internal/api/router"
	"github.com/wolfman30/missedcall-booking/internal/app/bootstrap"
	appconfig "github.com/wolfman30/missedcall-booking/internal/config"
	"github.com/wolfman30/missedcall-booking/internal/events"
	"github.com/wolfman30/missedcall-booking/internal/http/handlers"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting missedcall-booking API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	registry, metricsHandler := setupMetrics()
	messagingMetrics := metrics.NewMessagingMetrics(registry)
	engineMetrics := metrics.NewEngineMetrics(registry)

	pg, err := bootstrap.BuildPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	awsCfg, awsErr := loadAWS(ctx, cfg)
	if awsErr != nil && !errors.Is(awsErr, errAWSUnused) {
		logger.Warn("AWS config unavailable; SQS and SES are disabled", "error", awsErr)
	}

	messenger, provider := bootstrap.BuildOutboundMessenger(cfg, logger)
	notifier := bootstrap.BuildNotifier(cfg, sesClient(cfg, awsCfg, awsErr), messenger, logger)

	stack, err := bootstrap.BuildConversationStack(cfg, pg, redisClient, notifier, engineMetrics, logger)
	if err != nil {
		return err
	}
	defer stack.Engine.Wait()

	if processed, ok := stack.Deduper.(*events.ProcessedStore); ok {
		go processed.RunPruner(ctx, time.Hour)
	}

	var queue messaging.QueueSender
	if cfg.OutboundQueueURL != "" && awsErr == nil {
		queue = messaging.NewSQSQueue(mainconfig.NewSQSClient(awsCfg, cfg), cfg.OutboundQueueURL)
	}
	dispatcher := bootstrap.BuildDispatcher(cfg, messenger, queue, messagingMetrics, logger)
	if async, ok := dispatcher.(*messaging.AsyncDispatcher); ok {
		defer async.Wait()
	}

	tenantMap, err := messaging.ParseTenantNumberMap(cfg.TenantNumberMapJSON)
	if err != nil {
		return err
	}
	messagingHandler := messaging.NewHandler(
		stack.Engine,
		messaging.NewStaticTenantResolver(tenantMap),
		dispatcher,
		stack.Deduper,
		logger,
		messaging.WithWebhookSecret(cfg.TwilioWebhookSecret),
		messaging.WithFollowUpToken(cfg.FollowUpAPIToken),
		messaging.WithMessagingMetrics(messagingMetrics),
	)

	routerCfg := &router.Config{
		Logger:             logger,
		MessagingHandler:   messagingHandler,
		LeadsHandler:       leads.NewHandler(stack.Leads, logger),
		AdminClinics:       handlers.NewAdminClinicsHandler(stack.Clinics, logger),
		AdminConversations: adminConversations(stack, logger),
		MetricsHandler:     metricsHandler,
		FollowUpEnabled:    cfg.FollowUpAPIToken != "",
		FollowUpRateLimit:  float64(cfg.FollowUpRateLimit),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		ReadinessChecks:    readinessChecks(pg, redisClient),
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "sms_provider", provider, "tenants", len(tenantMap))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func loadAWS(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	if cfg.OutboundQueueURL == "" && cfg.NotifyEmailProvider != "ses" {
		return aws.Config{}, errAWSUnused
	}
	return mainconfig.LoadAWSConfig(ctx, cfg)
}

var errAWSUnused = errors.New("no AWS-backed feature configured")

func sesClient(cfg *appconfig.Config, awsCfg aws.Config, awsErr error) *sesv2.Client {
	if awsErr != nil || cfg.NotifyEmailProvider != "ses" {
		return nil
	}
	return mainconfig.NewSESClient(awsCfg, cfg)
}

// adminConversations avoids handing the handler a typed-nil transcript store.
func adminConversations(stack *bootstrap.ConversationStack, logger *logging.Logger) *handlers.AdminConversationsHandler {
	if stack.Transcripts == nil {
		return handlers.NewAdminConversationsHandler(stack.Conversations, nil, logger)
	}
	return handlers.NewAdminConversationsHandler(stack.Conversations, stack.Transcripts, logger)
}

func readinessChecks(pg *bootstrap.Postgres, redisClient *redis.Client) map[string]router.HealthCheck {
	checks := make(map[string]router.HealthCheck)
	if pg != nil {
		checks["postgres"] = func(ctx context.Context) error { return pg.Pool.Ping(ctx) }
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}

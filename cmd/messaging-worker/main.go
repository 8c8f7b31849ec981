package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/missedcall-booking/cmd/mainconfig"
	"github.com/wolfman30/missedcall-booking/internal/app/bootstrap"
	"github.com/wolfman30/missedcall-booking/internal/config"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	messagingworker "github.com/wolfman30/missedcall-booking/internal/worker/messaging"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OutboundQueueURL == "" {
		logger.Error("messaging worker requires OUTBOUND_QUEUE_URL")
		os.Exit(1)
	}

	messenger, provider := bootstrap.BuildOutboundMessenger(cfg, logger)
	if provider == "log" {
		logger.Error("messaging worker has no SMS provider configured")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := messaging.NewSQSQueue(mainconfig.NewSQSClient(awsCfg, cfg), cfg.OutboundQueueURL)

	worker := messagingworker.NewOutboundWorker(queue, messenger, logger).
		WithWorkers(cfg.OutboundWorkerCount).
		WithMetrics(metrics.NewMessagingMetrics(prometheus.DefaultRegisterer))

	logger.Info("messaging worker started", "provider", provider, "workers", cfg.OutboundWorkerCount)
	worker.Run(ctx)
	logger.Info("messaging worker stopped")
}

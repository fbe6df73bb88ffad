package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/ingest"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	if cfg.QueueType == "memory" {
		telemetry.Warn("worker.memory_queue", map[string]any{
			"hint": "QUEUE=memory is process-local; the API drains it itself. Set QUEUE=redis or QUEUE=sqs.",
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildContext(ctx, cfg)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	if err := run(ctx, cfg, app.Consumer, app.Pipeline); err != nil {
		telemetry.Error("worker.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// run drains consumer until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, consumer queue.Consumer, processor workerproc.Processor) error {
	pool := &ingest.Pool{
		Consumer:        consumer,
		Processor:       processor,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	telemetry.Info("worker.starting", map[string]any{
		"queue":       cfg.QueueType,
		"concurrency": cfg.WorkerConcurrency,
	})
	return pool.Run(ctx)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"servicesift-backend/internal/bootstrap"
	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/telemetry"
	"servicesift-backend/internal/workerproc"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	if err := telemetry.Init(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		telemetry.Error("worker.logger_init_failed", map[string]any{"error": err.Error()})
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()
	if app.SQS == nil {
		telemetry.Error("worker.queue_missing", map[string]any{"key": "SQS_QUEUE_URL"})
		os.Exit(1)
	}

	c := newConsumer(cfg, app.Processor, app.SQS)
	telemetry.Info("worker.started", map[string]any{
		"concurrency":  c.Concurrency,
		"max_receives": app.Processor.MaxReceives,
	})
	if err := run(ctx, c, shutdownTimeout); err != nil {
		telemetry.Error("worker.stopped_with_error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("worker.stopped", nil)
}

func newConsumer(cfg config.Config, p *workerproc.Processor, q queue.Consumer) *workerproc.Consumer {
	return &workerproc.Consumer{
		Queue:       q,
		Processor:   p,
		Concurrency: cfg.WorkerConcurrency,
		IdleWait:    time.Second,
	}
}

// run polls until ctx is cancelled and then gives in-flight jobs up to grace to finish.
func run(ctx context.Context, c *workerproc.Consumer, grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"grace_s": grace.Seconds()})
		return nil
	}
}

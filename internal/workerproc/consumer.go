package workerproc

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/shared/telemetry"
)

// Consumer polls a queue and hands deliveries to a Processor.
type Consumer struct {
	Queue       queue.Consumer
	Processor   *Processor
	Concurrency int
	// IdleWait is the pause after an empty receive on queues that do not long-poll.
	IdleWait time.Duration
}

// Run polls until ctx is cancelled, then waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(concurrency)

	for ctx.Err() == nil {
		deliveries, err := c.Queue.Receive(ctx, concurrency)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			sleep(ctx, time.Second)
			continue
		}
		if len(deliveries) == 0 && c.IdleWait > 0 {
			sleep(ctx, c.IdleWait)
			continue
		}
		for _, d := range deliveries {
			d := d
			g.Go(func() error {
				c.handle(gctx, d)
				return nil
			})
		}
	}
	return g.Wait()
}

// HandleBatch processes deliveries synchronously and returns the message ids to retry.
func (c *Consumer) HandleBatch(ctx context.Context, deliveries []queue.Delivery) []string {
	var retry []string
	for _, d := range deliveries {
		if c.handle(ctx, d) == Retry {
			retry = append(retry, d.MessageID)
		}
	}
	return retry
}

func (c *Consumer) handle(ctx context.Context, d queue.Delivery) Disposition {
	disposition, _ := c.Processor.Handle(ctx, d)
	if disposition == Ack && d.ReceiptHandle != "" {
		if err := c.Queue.Delete(ctx, d.ReceiptHandle); err != nil {
			telemetry.Error("worker.delete_failed", map[string]any{
				"message_id": d.MessageID,
				"error":      err.Error(),
			})
		}
	}
	return disposition
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/telemetry"
)

// DefaultSlowRunAfter is when a local run is reported as slow.
const DefaultSlowRunAfter = 30 * time.Second

// Dispatcher hands a claimed job to whatever executes the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// QueueDispatcher sends jobs to the durable queue.
type QueueDispatcher struct {
	Queue queue.Client
}

// Dispatch enqueues the job.
func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	msg := queue.NewMessage(job.AnalysisID, job.RunID, job.RequestID)
	msg.URL = job.URL
	msg.BusinessName = job.BusinessName
	if err := d.Queue.Send(ctx, msg); err != nil {
		return eris.Wrap(err, "enqueue pipeline job")
	}
	telemetry.Info("pipeline.enqueued", map[string]any{
		"analysis_id": job.AnalysisID,
		"run_id":      job.RunID,
		"request_id":  job.RequestID,
	})
	return nil
}

// LocalDispatcher runs jobs in-process on a context detached from the request.
type LocalDispatcher struct {
	Runner       *Runner
	SlowRunAfter time.Duration

	wg sync.WaitGroup
}

// Dispatch starts the run in a goroutine and returns immediately.
func (d *LocalDispatcher) Dispatch(ctx context.Context, job Job) error {
	if d.Runner == nil {
		return eris.New("pipeline runner is not configured")
	}
	if job.RequestID == "" {
		job.RequestID = middleware.RequestIDFrom(ctx)
	}
	runCtx := middleware.WithRequestID(context.WithoutCancel(ctx), job.RequestID)
	slowAfter := d.SlowRunAfter
	if slowAfter <= 0 {
		slowAfter = DefaultSlowRunAfter
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		done := make(chan struct{})
		slow := time.AfterFunc(slowAfter, func() {
			select {
			case <-done:
			default:
				telemetry.Warn("pipeline.slow_run", map[string]any{
					"analysis_id": job.AnalysisID,
					"run_id":      job.RunID,
					"request_id":  job.RequestID,
					"elapsed_ms":  slowAfter.Milliseconds(),
				})
			}
		})
		defer slow.Stop()
		defer close(done)

		if _, err := d.Runner.Run(runCtx, job); err != nil {
			telemetry.Warn("pipeline.local_run_error", map[string]any{
				"analysis_id": job.AnalysisID,
				"run_id":      job.RunID,
				"request_id":  job.RequestID,
				"error":       err.Error(),
			})
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

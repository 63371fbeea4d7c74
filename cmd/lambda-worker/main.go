package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker
//
// The event source mapping must enable ReportBatchItemFailures.

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"servicesift-backend/internal/bootstrap"
	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/shared/config"
	"servicesift-backend/internal/shared/telemetry"
	"servicesift-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	consumer *workerproc.Consumer
)

func initApp(ctx context.Context) {
	cfg := config.Load()
	if err := telemetry.Init(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		initErr = err
		return
	}
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		initErr = err
		return
	}
	consumer = &workerproc.Consumer{Processor: app.Processor}
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(func() { initApp(context.WithoutCancel(ctx)) })
	if initErr != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return process(ctx, consumer, event), nil
}

// process hands records to the consumer; the Lambda runtime deletes every record not reported as failed.
func process(ctx context.Context, c *workerproc.Consumer, event events.SQSEvent) events.SQSEventResponse {
	retry := c.HandleBatch(ctx, toDeliveries(event.Records))
	failures := make([]events.SQSBatchItemFailure, 0, len(retry))
	for _, id := range retry {
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func toDeliveries(records []events.SQSMessage) []queue.Delivery {
	out := make([]queue.Delivery, 0, len(records))
	for _, record := range records {
		count, _ := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
		out = append(out, queue.Delivery{
			MessageID:    record.MessageId,
			Body:         record.Body,
			ReceiveCount: count,
		})
	}
	return out
}

func main() {
	lambda.Start(handler)
}

package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/deadletter"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/workerproc"
)

type failingRunner struct{}

func (failingRunner) Run(context.Context, pipeline.Job) (pipeline.Outcome, error) {
	return pipeline.Outcome{}, assert.AnError
}

func TestToDeliveriesReadsReceiveCount(t *testing.T) {
	out := toDeliveries([]events.SQSMessage{{
		MessageId:  "m1",
		Body:       "{}",
		Attributes: map[string]string{"ApproximateReceiveCount": "2"},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0].MessageID)
	assert.Equal(t, 2, out[0].ReceiveCount)
	assert.Empty(t, out[0].ReceiptHandle)
}

func TestProcessReportsRetryableFailures(t *testing.T) {
	repo := analyses.NewMemoryRepo()
	body, err := queue.EncodeMessage(queue.NewMessage("a1", "run-1", "req-1"))
	require.NoError(t, err)

	c := &workerproc.Consumer{Processor: &workerproc.Processor{
		Runner:      failingRunner{},
		Analyses:    repo,
		DeadLetters: deadletter.NewMemoryRepo(),
		MaxReceives: 3,
	}}
	resp := process(context.Background(), c, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "retry-me", Body: string(body), Attributes: map[string]string{"ApproximateReceiveCount": "1"}},
		{MessageId: "garbage", Body: "not json"},
	}})

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "retry-me", resp.BatchItemFailures[0].ItemIdentifier)
}

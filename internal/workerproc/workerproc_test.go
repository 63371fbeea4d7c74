package workerproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/deadletter"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/queue"
)

type fakeRunner struct {
	err   error
	calls int
	jobs  []pipeline.Job
}

func (f *fakeRunner) Run(_ context.Context, job pipeline.Job) (pipeline.Outcome, error) {
	f.calls++
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return pipeline.Outcome{}, f.err
	}
	return pipeline.Outcome{AnalysisID: job.AnalysisID, Status: analyses.StatusCompleted}, nil
}

func delivery(t *testing.T, receives int) queue.Delivery {
	t.Helper()
	body, err := queue.EncodeMessage(queue.NewMessage("a1", "run-1", "req-1"))
	require.NoError(t, err)
	return queue.Delivery{MessageID: "m1", ReceiptHandle: "r1", Body: string(body), ReceiveCount: receives}
}

func seedInFlight(t *testing.T) *analyses.MemoryRepo {
	t.Helper()
	repo := analyses.NewMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusPending, PaymentStatus: analyses.PaymentPaid}))
	require.NoError(t, repo.Claim(ctx, "a1", "run-1"))
	return repo
}

func TestParseMessageErrors(t *testing.T) {
	_, _, err := ParseMessage("  ")
	assert.IsType(t, ErrEmptyBody{}, err)

	_, meta, err := ParseMessage("{not json")
	assert.IsType(t, ErrDecode{}, err)
	assert.Equal(t, 9, meta.BodyLen)
	assert.Len(t, meta.BodySHA, 64)

	_, _, err = ParseMessage(`{"requestId":"req-1"}`)
	var missing ErrMissingAnalysisID
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "req-1", missing.RequestID)
}

func TestHandleSuccessAcks(t *testing.T) {
	runner := &fakeRunner{}
	p := &Processor{Runner: runner}
	disposition, err := p.Handle(context.Background(), delivery(t, 1))
	require.NoError(t, err)
	assert.Equal(t, Ack, disposition)
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, "run-1", runner.jobs[0].RunID)
	assert.Equal(t, "req-1", runner.jobs[0].RequestID)
}

func TestHandleUnparseableAcks(t *testing.T) {
	runner := &fakeRunner{}
	p := &Processor{Runner: runner}
	disposition, err := p.Handle(context.Background(), queue.Delivery{MessageID: "m1", Body: "garbage"})
	assert.Error(t, err)
	assert.Equal(t, Ack, disposition)
	assert.Equal(t, 0, runner.calls)
}

func TestHandleDuplicateAcks(t *testing.T) {
	p := &Processor{Runner: &fakeRunner{err: pipeline.ErrRunNotAccepted}}
	disposition, err := p.Handle(context.Background(), delivery(t, 2))
	require.NoError(t, err)
	assert.Equal(t, Ack, disposition)
}

func TestHandleStageFailureAcks(t *testing.T) {
	p := &Processor{Runner: &fakeRunner{err: &pipeline.Error{Code: pipeline.CodeExtractionFailed, Message: "Review extraction failed: boom"}}}
	disposition, err := p.Handle(context.Background(), delivery(t, 1))
	assert.Error(t, err)
	assert.Equal(t, Ack, disposition)
}

func TestHandleInfraFailureRetriesThenDeadLetters(t *testing.T) {
	repo := seedInFlight(t)
	dead := deadletter.NewMemoryRepo()
	p := &Processor{
		Runner:      &fakeRunner{err: errors.New("connection refused")},
		Analyses:    repo,
		DeadLetters: dead,
		MaxReceives: 3,
	}

	disposition, err := p.Handle(context.Background(), delivery(t, 1))
	var procErr ErrProcess
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, Retry, disposition)

	disposition, _ = p.Handle(context.Background(), delivery(t, 3))
	assert.Equal(t, Ack, disposition)

	entries, err := dead.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AnalysisID)
	assert.Equal(t, 3, entries[0].ReceiveCount)

	a, err := repo.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, analyses.StatusFailed, a.Status)
	assert.Equal(t, pipeline.CodeDeadLetter, a.ErrorCode)
}

func TestConsumerHandleBatchDeletesAcked(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Send(ctx, queue.NewMessage("a1", "run-1", "req-1")))
	deliveries, err := q.Receive(ctx, 10)
	require.NoError(t, err)

	c := &Consumer{Queue: q, Processor: &Processor{Runner: &fakeRunner{}}}
	retry := c.HandleBatch(ctx, deliveries)
	assert.Empty(t, retry)
	assert.Equal(t, 0, q.Len())
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Send(ctx, queue.NewMessage("a1", "run-1", "req-1")))
	runner := &fakeRunner{}
	c := &Consumer{Queue: q, Processor: &Processor{Runner: runner}, Concurrency: 1, IdleWait: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/deadletter"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/queue"
	"servicesift-backend/internal/shared/metrics"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/telemetry"
)

// DefaultMaxReceives is the delivery attempt that dead-letters a job.
const DefaultMaxReceives = 3

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingAnalysisID indicates a message missing the analysis id.
type ErrMissingAnalysisID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingAnalysisID) Error() string { return "missing analysis id" }

// ErrProcess indicates the run failed in a way queue redelivery may fix.
type ErrProcess struct {
	AnalysisID string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process analysis"
	}
	return "process analysis: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.AnalysisID) == "" {
		return msg, meta, ErrMissingAnalysisID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// JobRunner runs one pipeline job.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Outcome, error)
}

// Disposition tells the consumer what to do with a delivery.
type Disposition int

const (
	// Ack deletes the message.
	Ack Disposition = iota
	// Retry leaves the message for redelivery.
	Retry
)

// Processor turns queue deliveries into pipeline runs.
type Processor struct {
	Runner      JobRunner
	Analyses    analyses.Repo
	DeadLetters deadletter.Repo
	MaxReceives int
}

// Handle processes one delivery and reports whether it should be deleted.
// A delivery that keeps failing is dead-lettered on its final attempt.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) (Disposition, error) {
	msg, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields := deliveryFields(d, msg)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.message_unrecoverable", fields)
		return Ack, err
	}

	ctx = middleware.WithRequestID(ctx, msg.RequestID)
	telemetry.Info("worker.message_received", deliveryFields(d, msg))

	_, runErr := p.Runner.Run(ctx, pipeline.Job{
		AnalysisID:   msg.AnalysisID,
		RunID:        msg.RunID,
		URL:          msg.URL,
		BusinessName: msg.BusinessName,
		RequestID:    msg.RequestID,
	})
	if runErr == nil {
		telemetry.Info("worker.message_completed", deliveryFields(d, msg))
		return Ack, nil
	}

	switch {
	case errors.Is(runErr, pipeline.ErrRunNotAccepted), errors.Is(runErr, pipeline.ErrRunSuperseded):
		telemetry.Info("worker.message_skipped", withError(deliveryFields(d, msg), runErr))
		return Ack, nil
	case errors.Is(runErr, analyses.ErrNotFound):
		telemetry.Warn("worker.analysis_missing", deliveryFields(d, msg))
		return Ack, runErr
	}
	if _, ok := pipeline.AsError(runErr); ok {
		// Stage failures are already persisted and are never retried by the queue.
		return Ack, runErr
	}

	procErr := ErrProcess{AnalysisID: msg.AnalysisID, RequestID: msg.RequestID, Err: runErr}
	if d.ReceiveCount >= p.maxReceives() {
		p.deadLetter(ctx, d, msg, runErr)
		return Ack, procErr
	}
	telemetry.Warn("worker.message_retry", withError(deliveryFields(d, msg), runErr))
	return Retry, procErr
}

func (p *Processor) maxReceives() int {
	if p.MaxReceives <= 0 {
		return DefaultMaxReceives
	}
	return p.MaxReceives
}

func (p *Processor) deadLetter(ctx context.Context, d queue.Delivery, msg queue.Message, cause error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if p.DeadLetters != nil {
		if err := p.DeadLetters.Create(persistCtx, deadletter.Entry{
			AnalysisID:   msg.AnalysisID,
			RunID:        msg.RunID,
			RequestID:    msg.RequestID,
			Error:        analyses.TruncateErrorMessage(cause.Error()),
			ReceiveCount: d.ReceiveCount,
			Payload:      []byte(d.Body),
		}); err != nil {
			telemetry.Error("worker.dead_letter_persist_failed", withError(deliveryFields(d, msg), err))
		}
	}
	if p.Analyses != nil {
		err := p.Analyses.Fail(persistCtx, msg.AnalysisID, analyses.Failure{
			Code:    pipeline.CodeDeadLetter,
			Message: "Pipeline job failed after repeated attempts: " + cause.Error(),
		})
		if err != nil && !errors.Is(err, analyses.ErrInvalidTransition) {
			telemetry.Error("worker.dead_letter_fail_failed", withError(deliveryFields(d, msg), err))
		}
	}
	metrics.IncDeadLetter()
	telemetry.Error("worker.message_dead_lettered", withError(deliveryFields(d, msg), cause))
}

func deliveryFields(d queue.Delivery, msg queue.Message) map[string]any {
	fields := map[string]any{
		"analysis_id":   msg.AnalysisID,
		"run_id":        msg.RunID,
		"message_id":    d.MessageID,
		"receive_count": d.ReceiveCount,
	}
	if strings.TrimSpace(msg.RequestID) != "" {
		fields["request_id"] = msg.RequestID
	}
	return fields
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}

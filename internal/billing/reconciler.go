package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/pipeline"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/shared/metrics"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/telemetry"
)

// Result is what confirm and trigger report back to the browser.
type Result struct {
	Success           bool            `json:"success"`
	AnalysisID        string          `json:"analysisId"`
	Status            analyses.Status `json:"status"`
	AlreadyProcessed  bool            `json:"alreadyProcessed,omitempty"`
	AlreadyProcessing bool            `json:"alreadyProcessing,omitempty"`
	ErrorCode         string          `json:"errorCode,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Retryable         bool            `json:"retryable,omitempty"`
}

// Reconciler agrees on exactly one pipeline run per paid analysis across
// the webhook, return-URL confirmation and manual trigger entry points.
type Reconciler struct {
	Analyses   analyses.Repo
	Reports    *reports.Service
	Gateway    Gateway
	Dispatcher pipeline.Dispatcher
	// Runner executes triggers inline when DebugSync is set.
	Runner     *pipeline.Runner
	DebugSync  bool
	StaleAfter time.Duration
	Now        func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reconciler) staleAfter() time.Duration {
	if r.StaleAfter <= 0 {
		return analyses.DefaultStaleAfter
	}
	return r.StaleAfter
}

// Confirm handles the return-URL confirmation for a checkout session.
func (r *Reconciler) Confirm(ctx context.Context, userID, sessionID string) (Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Result{}, invalid("session_id is required")
	}
	if r.Gateway == nil {
		return Result{}, ErrGatewayNotConfigured
	}
	sess, err := r.Gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if sess.PaymentStatus != SessionPaid {
		return Result{}, ErrPaymentNotCompleted
	}
	analysisID := sess.AnalysisRef()
	if analysisID == "" {
		return Result{}, ErrMissingAnalysisRef
	}

	a, err := r.locate(ctx, analysisID, sess.ID)
	if err != nil {
		return Result{}, err
	}
	if a.UserID != userID {
		return Result{}, analyses.ErrNotOwner
	}

	if res, done, err := r.skipOrRecover(ctx, &a); err != nil || done {
		return res, err
	}
	if _, err := r.Analyses.MarkPaid(ctx, a.ID, sess.ID); err != nil {
		return Result{}, err
	}
	a.PaymentStatus = analyses.PaymentPaid
	return r.claimAndDispatch(ctx, a, false)
}

// TriggerRequest is the manual fallback input.
type TriggerRequest struct {
	AnalysisID   string
	URL          string
	BusinessName string
}

// Trigger starts the pipeline for a paid analysis the user owns.
func (r *Reconciler) Trigger(ctx context.Context, userID string, req TriggerRequest) (Result, error) {
	analysisID := strings.TrimSpace(req.AnalysisID)
	if analysisID == "" {
		return Result{}, invalid("analysisId is required")
	}
	a, err := r.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return Result{}, err
	}
	if a.UserID != userID {
		return Result{}, analyses.ErrNotOwner
	}
	if a.PaymentStatus != analyses.PaymentPaid {
		return Result{}, ErrNotPaid
	}
	if res, done, err := r.skipOrRecover(ctx, &a); err != nil || done {
		return res, err
	}
	if u := strings.TrimSpace(req.URL); u != "" {
		a.BusinessURL = u
	}
	if n := strings.TrimSpace(req.BusinessName); n != "" {
		a.BusinessName = n
	}
	return r.claimAndDispatch(ctx, a, true)
}

// HandleWebhook verifies the event and books payment state. It never dispatches.
// Only verification failures are returned; processing errors are logged.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if r.Gateway == nil {
		return ErrWebhookNotConfigured
	}
	event, err := r.Gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	metrics.IncWebhookEvent(event.Type)
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"session_id": event.Session.ID,
	}

	switch event.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentOK:
		if event.Session.PaymentStatus != SessionPaid {
			telemetry.Info("billing.webhook_unpaid_session", fields)
			return nil
		}
		a, err := r.locateForWebhook(ctx, event.Session)
		if err != nil {
			telemetry.Error("billing.webhook_locate_failed", withError(fields, err))
			return nil
		}
		changed, err := r.Analyses.MarkPaid(ctx, a.ID, event.Session.ID)
		if err != nil {
			telemetry.Error("billing.webhook_mark_paid_failed", withError(fields, err))
			return nil
		}
		fields["analysis_id"] = a.ID
		fields["changed"] = changed
		telemetry.Info("billing.payment_booked", fields)
	case EventCheckoutAsyncPaymentFailed:
		a, err := r.locateForWebhook(ctx, event.Session)
		if err != nil {
			telemetry.Error("billing.webhook_locate_failed", withError(fields, err))
			return nil
		}
		changed, err := r.Analyses.MarkPaymentFailed(ctx, a.ID, event.Session.ID)
		if err != nil {
			telemetry.Error("billing.webhook_mark_failed_failed", withError(fields, err))
			return nil
		}
		fields["analysis_id"] = a.ID
		fields["changed"] = changed
		telemetry.Warn("billing.payment_failed", fields)
	default:
		telemetry.Info("billing.webhook_ignored", fields)
	}
	return nil
}

// locate resolves the analysis for a session, self-healing duplicate session ids.
func (r *Reconciler) locate(ctx context.Context, analysisID, sessionID string) (analyses.Analysis, error) {
	if sessionID != "" {
		rows, err := r.Analyses.ListBySessionID(ctx, sessionID)
		if err != nil {
			return analyses.Analysis{}, err
		}
		if len(rows) > 1 {
			ids := make([]string, 0, len(rows))
			for _, row := range rows {
				ids = append(ids, row.ID)
			}
			metrics.IncDuplicateSession()
			telemetry.Error("billing.duplicate_session", map[string]any{
				"code":         "DUPLICATE_STATE_ERROR",
				"session_id":   sessionID,
				"analysis_ids": ids,
				"chosen_id":    rows[0].ID,
			})
			return rows[0], nil
		}
		if len(rows) == 1 {
			return rows[0], nil
		}
	}
	if analysisID == "" {
		return analyses.Analysis{}, analyses.ErrNotFound
	}
	return r.Analyses.GetByID(ctx, analysisID)
}

func (r *Reconciler) locateForWebhook(ctx context.Context, sess CheckoutSession) (analyses.Analysis, error) {
	if ref := sess.AnalysisRef(); ref != "" {
		a, err := r.Analyses.GetByID(ctx, ref)
		if err == nil || !errors.Is(err, analyses.ErrNotFound) {
			return a, err
		}
	}
	return r.locate(ctx, "", sess.ID)
}

// skipOrRecover reports done when the analysis is completed or a fresh run owns it.
// A stale in-flight analysis is reset to pending so it can be claimed again.
// Saved results on a row that never completed are finished by the next run.
func (r *Reconciler) skipOrRecover(ctx context.Context, a *analyses.Analysis) (Result, bool, error) {
	if a.Status == analyses.StatusCompleted {
		return completedResult(a.ID), true, nil
	}
	hasResults, err := r.Analyses.HasResults(ctx, a.ID)
	if err != nil {
		return Result{}, false, err
	}
	if hasResults {
		telemetry.Warn("billing.results_not_completed", map[string]any{
			"analysis_id": a.ID,
			"status":      a.Status,
		})
	}
	if !a.Status.InFlight() {
		return Result{}, false, nil
	}

	now := r.now()
	if !analyses.IsStale(*a, now, r.staleAfter()) {
		metrics.IncClaimSkipped()
		return processingResult(a.ID, a.Status), true, nil
	}
	err = r.Analyses.ResetStale(ctx, a.ID, now.Add(-r.staleAfter()))
	if errors.Is(err, analyses.ErrConflict) {
		current, getErr := r.Analyses.GetByID(ctx, a.ID)
		if getErr != nil {
			return Result{}, false, getErr
		}
		return processingResult(current.ID, current.Status), true, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	metrics.IncStaleRecovery()
	telemetry.Warn("billing.stale_recovered", map[string]any{
		"analysis_id":       a.ID,
		"status_transition": analyses.StatusTransition(a.Status, analyses.StatusPending),
		"status_changed_at": a.StatusChangedAt,
	})
	a.Status = analyses.StatusPending
	return Result{}, false, nil
}

func (r *Reconciler) claimAndDispatch(ctx context.Context, a analyses.Analysis, trigger bool) (Result, error) {
	if a.Status == analyses.StatusFailed {
		if err := r.Analyses.Retry(ctx, a.ID); err != nil && !errors.Is(err, analyses.ErrConflict) {
			return Result{}, err
		}
	}

	runID := uuid.NewString()
	if err := r.Analyses.Claim(ctx, a.ID, runID); err != nil {
		if !errors.Is(err, analyses.ErrConflict) {
			return Result{}, err
		}
		current, getErr := r.Analyses.GetByID(ctx, a.ID)
		if getErr != nil {
			return Result{}, getErr
		}
		metrics.IncClaimSkipped()
		if current.Status == analyses.StatusCompleted {
			return completedResult(current.ID), nil
		}
		return processingResult(current.ID, current.Status), nil
	}
	metrics.IncClaimWon()
	telemetry.Info("billing.claimed", map[string]any{
		"analysis_id":       a.ID,
		"run_id":            runID,
		"status_transition": analyses.StatusTransition(analyses.StatusPending, analyses.StatusExtracting),
		"trigger":           trigger,
	})

	if trigger && r.Reports != nil {
		if _, err := r.Reports.MarkQueued(ctx, a); err != nil {
			telemetry.Warn("billing.report_queue_mark_failed", map[string]any{"analysis_id": a.ID, "error": err.Error()})
		}
	}

	job := pipeline.Job{
		AnalysisID:   a.ID,
		RunID:        runID,
		URL:          a.BusinessURL,
		BusinessName: a.BusinessName,
		RequestID:    middleware.RequestIDFrom(ctx),
	}
	if trigger && r.DebugSync && r.Runner != nil {
		return r.runInline(ctx, job)
	}
	if r.Dispatcher == nil {
		return Result{}, r.failDispatch(ctx, a.ID, eris.New("no dispatcher configured"))
	}
	if err := r.Dispatcher.Dispatch(ctx, job); err != nil {
		return Result{}, r.failDispatch(ctx, a.ID, err)
	}
	return Result{Success: true, AnalysisID: a.ID, Status: analyses.StatusExtracting}, nil
}

func (r *Reconciler) runInline(ctx context.Context, job pipeline.Job) (Result, error) {
	outcome, err := r.Runner.Run(ctx, job)
	if err == nil {
		return Result{Success: true, AnalysisID: outcome.AnalysisID, Status: outcome.Status}, nil
	}
	if pe, ok := pipeline.AsError(err); ok {
		return Result{
			Success:      false,
			AnalysisID:   job.AnalysisID,
			Status:       analyses.StatusFailed,
			ErrorCode:    pe.Code,
			ErrorMessage: pe.Message,
			Retryable:    pipeline.Retryable(pe.Code),
		}, nil
	}
	return Result{}, err
}

func (r *Reconciler) failDispatch(ctx context.Context, analysisID string, cause error) error {
	err := r.Analyses.Fail(context.WithoutCancel(ctx), analysisID, analyses.Failure{
		Code:    pipeline.CodeInternal,
		Message: "Pipeline dispatch failed: " + cause.Error(),
	})
	if err != nil {
		telemetry.Error("billing.dispatch_fail_persist_failed", map[string]any{"analysis_id": analysisID, "error": err.Error()})
	}
	telemetry.Error("billing.dispatch_failed", map[string]any{"analysis_id": analysisID, "error": cause.Error()})
	return ErrDispatchFailed
}

func completedResult(analysisID string) Result {
	return Result{Success: true, AnalysisID: analysisID, Status: analyses.StatusCompleted, AlreadyProcessed: true}
}

func processingResult(analysisID string, status analyses.Status) Result {
	return Result{Success: true, AnalysisID: analysisID, Status: status, AlreadyProcessing: true}
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/extraction"
	"servicesift-backend/internal/llm"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/shared/metrics"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/telemetry"
)

// Job identifies one pipeline run of an analysis.
type Job struct {
	AnalysisID   string
	RunID        string
	URL          string
	BusinessName string
	RequestID    string
}

// Outcome is the terminal state of a successful run.
type Outcome struct {
	AnalysisID    string          `json:"analysisId"`
	Status        analyses.Status `json:"status"`
	ReviewCount   int             `json:"reviewCount"`
	AverageRating float64         `json:"averageRating"`
}

// Runner executes extract, analyze and save for a claimed analysis.
type Runner struct {
	Analyses   analyses.Repo
	Extractor  extraction.Extractor
	Analyzer   llm.Analyzer
	Reports    *reports.Service
	MaxReviews int
}

// Run executes the job. Stage failures are persisted on the analysis and returned as *Error.
func (r *Runner) Run(ctx context.Context, job Job) (Outcome, error) {
	if strings.TrimSpace(job.AnalysisID) == "" {
		return Outcome{}, errors.New("analysis id is required")
	}
	if job.RequestID == "" {
		job.RequestID = middleware.RequestIDFrom(ctx)
	}

	a, err := r.Analyses.GetByID(ctx, job.AnalysisID)
	if err != nil {
		return Outcome{}, err
	}
	if job.RunID == "" {
		job.RunID = uuid.NewString()
		if err := r.Analyses.Claim(ctx, job.AnalysisID, job.RunID); err != nil {
			if errors.Is(err, analyses.ErrConflict) {
				return Outcome{}, ErrRunNotAccepted
			}
			return Outcome{}, err
		}
	}
	if err := r.Analyses.AcceptRun(ctx, job.AnalysisID, job.RunID); err != nil {
		if errors.Is(err, analyses.ErrConflict) {
			telemetry.Info("pipeline.run_skipped", r.fields(job, nil))
			return Outcome{}, ErrRunNotAccepted
		}
		return Outcome{}, err
	}

	if job.URL == "" {
		job.URL = a.BusinessURL
	}
	if job.BusinessName == "" {
		job.BusinessName = a.BusinessName
	}

	started := time.Now()
	metrics.IncPipelineStarted()
	telemetry.Info("pipeline.started", r.fields(job, nil))

	saved, err := r.Analyses.HasResults(ctx, job.AnalysisID)
	if err != nil {
		return Outcome{}, r.fail(ctx, job, CodeInternal, "Loading saved results failed: "+err.Error(), err)
	}
	if saved {
		return r.finishSaved(ctx, job, started)
	}

	extracted, err := r.Extractor.Extract(ctx, job.URL, r.MaxReviews)
	if err != nil {
		return Outcome{}, r.fail(ctx, job, CodeExtractionFailed, "Review extraction failed: "+err.Error(), err)
	}
	if job.BusinessName == "" {
		job.BusinessName = extracted.BusinessName
	}
	if err := r.advance(ctx, job, analyses.StatusExtracting, analyses.StatusAnalyzing); err != nil {
		return Outcome{}, err
	}

	report, err := r.Analyzer.Analyze(ctx, llm.Input{BusinessName: job.BusinessName, Reviews: extracted.Reviews})
	if err != nil {
		return Outcome{}, r.fail(ctx, job, CodeAnalysisFailed, "AI analysis failed: "+err.Error(), err)
	}
	if err := r.advance(ctx, job, analyses.StatusAnalyzing, analyses.StatusSaving); err != nil {
		return Outcome{}, err
	}

	results := analyses.Results{
		Reviews:         extracted.Reviews,
		RootCauses:      report.RootCauses,
		CoachingScripts: report.CoachingScripts,
		ProcessChanges:  report.ProcessChanges,
		BacklogTasks:    report.BacklogTasks,
	}
	if err := r.Analyses.SaveResults(ctx, job.AnalysisID, results); err != nil && !errors.Is(err, analyses.ErrResultsExist) {
		return Outcome{}, r.fail(ctx, job, CodeSaveFailed, "Saving results failed: "+err.Error(), err)
	}

	return r.complete(ctx, job, results, started)
}

// finishSaved completes a run whose results were stored by an earlier attempt
// that never reached completed.
func (r *Runner) finishSaved(ctx context.Context, job Job, started time.Time) (Outcome, error) {
	telemetry.Warn("pipeline.resume_saved_results", r.fields(job, nil))
	results, err := r.Analyses.GetResults(ctx, job.AnalysisID)
	if err != nil {
		return Outcome{}, r.fail(ctx, job, CodeSaveFailed, "Saving results failed: "+err.Error(), err)
	}
	if err := r.advance(ctx, job, analyses.StatusExtracting, analyses.StatusAnalyzing); err != nil {
		return Outcome{}, err
	}
	if err := r.advance(ctx, job, analyses.StatusAnalyzing, analyses.StatusSaving); err != nil {
		return Outcome{}, err
	}
	return r.complete(ctx, job, results, started)
}

func (r *Runner) complete(ctx context.Context, job Job, results analyses.Results, started time.Time) (Outcome, error) {
	completion := analyses.Completion{
		ReviewCount:   len(results.Reviews),
		AverageRating: extraction.AverageRating(results.Reviews),
	}
	if err := r.Analyses.Complete(ctx, job.AnalysisID, completion); err != nil {
		if errors.Is(err, analyses.ErrConflict) {
			return Outcome{}, ErrRunSuperseded
		}
		return Outcome{}, r.fail(ctx, job, CodeSaveFailed, "Saving results failed: "+err.Error(), err)
	}

	elapsed := time.Since(started)
	metrics.IncPipelineCompleted()
	metrics.ObservePipelineDurationMs(float64(elapsed.Milliseconds()))
	telemetry.Info("pipeline.completed", r.fields(job, map[string]any{
		"review_count":   completion.ReviewCount,
		"average_rating": completion.AverageRating,
		"duration_ms":    elapsed.Milliseconds(),
	}))

	r.afterComplete(ctx, job, results)

	return Outcome{
		AnalysisID:    job.AnalysisID,
		Status:        analyses.StatusCompleted,
		ReviewCount:   completion.ReviewCount,
		AverageRating: completion.AverageRating,
	}, nil
}

func (r *Runner) advance(ctx context.Context, job Job, from, to analyses.Status) error {
	err := r.Analyses.Transition(ctx, job.AnalysisID, from, to)
	if err == nil {
		telemetry.Info("pipeline.transition", r.fields(job, map[string]any{
			"status_transition": analyses.StatusTransition(from, to),
		}))
		return nil
	}
	if errors.Is(err, analyses.ErrConflict) {
		telemetry.Warn("pipeline.superseded", r.fields(job, map[string]any{"expected_status": from}))
		return ErrRunSuperseded
	}
	return r.fail(ctx, job, CodeInternal, "Pipeline state update failed: "+err.Error(), err)
}

// fail persists the failure even if ctx has been cancelled.
func (r *Runner) fail(ctx context.Context, job Job, code, message string, cause error) error {
	pe := &Error{Code: code, Message: analyses.TruncateErrorMessage(message), Err: cause}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.Analyses.Fail(persistCtx, job.AnalysisID, pe.Failure()); err != nil {
		telemetry.Error("pipeline.fail_persist_failed", r.fields(job, map[string]any{
			"error_code": code,
			"error":      err.Error(),
		}))
	}
	metrics.IncPipelineFailed(code)
	telemetry.Error("pipeline.failed", r.fields(job, map[string]any{
		"error_code": code,
		"error":      pe.Message,
	}))
	return pe
}

func (r *Runner) afterComplete(ctx context.Context, job Job, results analyses.Results) {
	if r.Reports == nil {
		return
	}
	a, err := r.Analyses.GetByID(ctx, job.AnalysisID)
	if err != nil {
		telemetry.Warn("pipeline.post_complete_load_failed", r.fields(job, map[string]any{"error": err.Error()}))
		return
	}
	if _, err := r.Reports.WriteReportArtifact(ctx, a, results); err != nil {
		telemetry.Warn("pipeline.artifact_failed", r.fields(job, map[string]any{"error": err.Error()}))
	}
	if _, err := r.Reports.RecordDelta(ctx, a, results); err != nil {
		telemetry.Warn("pipeline.delta_failed", r.fields(job, map[string]any{"error": err.Error()}))
	}
}

func (r *Runner) fields(job Job, extra map[string]any) map[string]any {
	fields := map[string]any{
		"analysis_id": job.AnalysisID,
		"run_id":      job.RunID,
	}
	if job.RequestID != "" {
		fields["request_id"] = job.RequestID
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

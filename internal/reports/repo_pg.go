package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// MarkQueued upserts the report row for an analysis and stamps queued_at.
func (r *PGRepo) MarkQueued(ctx context.Context, analysisID, userID string) (Report, error) {
	const query = `
INSERT INTO reports (id, analysis_id, user_id, queued_at, created_at, updated_at)
VALUES ($1, $2, $3, now(), now(), now())
ON CONFLICT (analysis_id) DO UPDATE
SET queued_at = now(), updated_at = now()
RETURNING id, analysis_id, user_id, queued_at, created_at, updated_at`
	rep, err := scanReport(r.DB.QueryRowContext(ctx, query, uuid.NewString(), analysisID, userID))
	if err != nil {
		return Report{}, eris.Wrap(err, "upsert report")
	}
	return rep, nil
}

// GetByAnalysis returns the report row for an analysis.
func (r *PGRepo) GetByAnalysis(ctx context.Context, analysisID string) (Report, error) {
	const query = `
SELECT id, analysis_id, user_id, queued_at, created_at, updated_at
FROM reports
WHERE analysis_id = $1
LIMIT 1`
	rep, err := scanReport(r.DB.QueryRowContext(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, eris.Wrap(err, "get report")
	}
	return rep, nil
}

func scanReport(row *sql.Row) (Report, error) {
	var rep Report
	var queuedAt sql.NullTime
	if err := row.Scan(&rep.ID, &rep.AnalysisID, &rep.UserID, &queuedAt, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
		return Report{}, err
	}
	if queuedAt.Valid {
		rep.QueuedAt = &queuedAt.Time
	}
	return rep, nil
}

// CreateArtifact inserts an artifact row.
func (r *PGRepo) CreateArtifact(ctx context.Context, a Artifact) error {
	const query = `
INSERT INTO report_artifacts (id, report_id, analysis_id, user_id, kind, storage_key, content_type, size_bytes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, query,
		a.ID, a.ReportID, a.AnalysisID, a.UserID, a.Kind, a.StorageKey, a.ContentType, a.SizeBytes, a.CreatedAt)
	return eris.Wrap(err, "insert report artifact")
}

const artifactColumns = `id, report_id, analysis_id, user_id, kind, storage_key, content_type, size_bytes, created_at`

// GetArtifact returns an artifact by ID.
func (r *PGRepo) GetArtifact(ctx context.Context, artifactID string) (Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM report_artifacts WHERE id = $1 LIMIT 1`
	return r.getArtifact(ctx, query, artifactID)
}

// LatestArtifact returns the newest artifact of kind for an analysis.
func (r *PGRepo) LatestArtifact(ctx context.Context, analysisID, kind string) (Artifact, error) {
	query := `SELECT ` + artifactColumns + `
FROM report_artifacts
WHERE analysis_id = $1 AND kind = $2
ORDER BY created_at DESC
LIMIT 1`
	return r.getArtifact(ctx, query, analysisID, kind)
}

func (r *PGRepo) getArtifact(ctx context.Context, query string, args ...any) (Artifact, error) {
	var a Artifact
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.ReportID, &a.AnalysisID, &a.UserID, &a.Kind, &a.StorageKey, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, eris.Wrap(err, "get report artifact")
	}
	return a, nil
}

// SaveDelta stores the delta for an analysis, replacing an earlier computation.
func (r *PGRepo) SaveDelta(ctx context.Context, d Delta) error {
	const query = `
INSERT INTO analysis_deltas (
	id, business_id, baseline_analysis_id, analysis_id, review_count_delta, average_rating_delta,
	resolved_causes, new_causes, persisting_causes, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, now())
ON CONFLICT (analysis_id) DO UPDATE
SET review_count_delta = EXCLUDED.review_count_delta,
    average_rating_delta = EXCLUDED.average_rating_delta,
    resolved_causes = EXCLUDED.resolved_causes,
    new_causes = EXCLUDED.new_causes,
    persisting_causes = EXCLUDED.persisting_causes`
	resolved, err := json.Marshal(nonNil(d.ResolvedCauses))
	if err != nil {
		return eris.Wrap(err, "marshal resolved causes")
	}
	added, err := json.Marshal(nonNil(d.NewCauses))
	if err != nil {
		return eris.Wrap(err, "marshal new causes")
	}
	persisting, err := json.Marshal(nonNil(d.PersistingCauses))
	if err != nil {
		return eris.Wrap(err, "marshal persisting causes")
	}
	_, err = r.DB.ExecContext(ctx, query,
		d.ID, d.BusinessID, d.BaselineAnalysisID, d.AnalysisID, d.ReviewCountDelta, d.AverageRatingDelta,
		resolved, added, persisting)
	return eris.Wrap(err, "save analysis delta")
}

// GetDelta returns the delta recorded for an analysis.
func (r *PGRepo) GetDelta(ctx context.Context, analysisID string) (Delta, error) {
	const query = `
SELECT id, business_id, baseline_analysis_id, analysis_id, review_count_delta, average_rating_delta,
       resolved_causes, new_causes, persisting_causes, created_at
FROM analysis_deltas
WHERE analysis_id = $1`
	var d Delta
	var resolved, added, persisting []byte
	err := r.DB.QueryRowContext(ctx, query, analysisID).Scan(
		&d.ID, &d.BusinessID, &d.BaselineAnalysisID, &d.AnalysisID, &d.ReviewCountDelta, &d.AverageRatingDelta,
		&resolved, &added, &persisting, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Delta{}, ErrNotFound
		}
		return Delta{}, eris.Wrap(err, "get analysis delta")
	}
	_ = json.Unmarshal(resolved, &d.ResolvedCauses)
	_ = json.Unmarshal(added, &d.NewCauses)
	_ = json.Unmarshal(persisting, &d.PersistingCauses)
	return d, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"servicesift-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, user_id, business_id, business_name, business_url, status, payment_status,
       stripe_checkout_session_id, paid_at, review_count, average_rating, is_baseline,
       error_code, error_message, run_id, run_started_at, status_changed_at, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var sessionID, errorCode, errorMessage, runID sql.NullString
	var paidAt, runStartedAt, completedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.BusinessID,
		&a.BusinessName,
		&a.BusinessURL,
		&a.Status,
		&a.PaymentStatus,
		&sessionID,
		&paidAt,
		&a.ReviewCount,
		&a.AverageRating,
		&a.IsBaseline,
		&errorCode,
		&errorMessage,
		&runID,
		&runStartedAt,
		&a.StatusChangedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return Analysis{}, err
	}
	if !a.Status.Valid() {
		return Analysis{}, eris.Errorf("analysis %s has unknown status %q", a.ID, a.Status)
	}
	a.StripeCheckoutSessionID = sessionID.String
	a.ErrorCode = errorCode.String
	a.ErrorMessage = errorMessage.String
	a.RunID = runID.String
	if paidAt.Valid {
		a.PaidAt = &paidAt.Time
	}
	if runStartedAt.Valid {
		a.RunStartedAt = &runStartedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, a Analysis) error {
	const query = `
INSERT INTO analyses (
	id, user_id, business_id, business_name, business_url, status, payment_status,
	stripe_checkout_session_id, paid_at, is_baseline, status_changed_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $11)`
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.BusinessID,
		a.BusinessName,
		a.BusinessURL,
		a.Status,
		a.PaymentStatus,
		nullString(a.StripeCheckoutSessionID),
		a.PaidAt,
		a.IsBaseline,
		a.CreatedAt,
	)
	if db.IsUniqueViolation(err, "idx_analyses_one_baseline") {
		return ErrBaselineTaken
	}
	return eris.Wrap(err, "insert analysis")
}

// GetByID returns an analysis by ID.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1 LIMIT 1`
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, eris.Wrap(err, "get analysis")
	}
	return a, nil
}

// ListByUser lists analyses for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	return r.list(ctx, query, userID, limit, offset)
}

// ListBySessionID returns every analysis carrying the checkout session id, oldest first.
func (r *PGRepo) ListBySessionID(ctx context.Context, sessionID string) ([]Analysis, error) {
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE stripe_checkout_session_id = $1
ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, sessionID)
}

// ListByBusiness returns a business's analyses, oldest first.
func (r *PGRepo) ListByBusiness(ctx context.Context, businessID string) ([]Analysis, error) {
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE business_id = $1
ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, businessID)
}

// ListStale returns in-flight analyses whose status has not changed since cutoff.
func (r *PGRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + analysisColumns + `
FROM analyses
WHERE status IN ('extracting', 'analyzing', 'saving') AND status_changed_at < $1
ORDER BY status_changed_at ASC
LIMIT $2`
	return r.list(ctx, query, cutoff, limit)
}

// DeleteByBusiness removes a business's analyses; child rows cascade.
func (r *PGRepo) DeleteByBusiness(ctx context.Context, businessID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM analyses WHERE business_id = $1`, businessID)
	return eris.Wrap(err, "delete analyses by business")
}

func (r *PGRepo) list(ctx context.Context, query string, args ...any) ([]Analysis, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list analyses")
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan analysis")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Transition moves status from one value to another if the row still holds from.
func (r *PGRepo) Transition(ctx context.Context, analysisID string, from, to Status) error {
	if !CanTransition(from, to) || (from.InFlight() && to == StatusPending) {
		return ErrInvalidTransition
	}
	const query = `
UPDATE analyses
SET status = $1, status_changed_at = now(), updated_at = now()
WHERE id = $2 AND status = $3`
	return r.execCAS(ctx, analysisID, query, to, analysisID, from)
}

// Claim atomically moves a paid, pending analysis to extracting under a new run id.
func (r *PGRepo) Claim(ctx context.Context, analysisID, runID string) error {
	const query = `
UPDATE analyses
SET status = 'extracting',
    run_id = $2,
    run_started_at = NULL,
    error_code = NULL,
    error_message = NULL,
    status_changed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'pending' AND payment_status = 'paid'`
	return r.execCAS(ctx, analysisID, query, analysisID, runID)
}

// AcceptRun marks the claimed run as started; a second delivery of the same job loses.
func (r *PGRepo) AcceptRun(ctx context.Context, analysisID, runID string) error {
	const query = `
UPDATE analyses
SET run_started_at = now(), updated_at = now()
WHERE id = $1 AND run_id = $2 AND run_started_at IS NULL AND status = 'extracting'`
	return r.execCAS(ctx, analysisID, query, analysisID, runID)
}

// ResetStale returns an in-flight analysis to pending when its status predates cutoff.
func (r *PGRepo) ResetStale(ctx context.Context, analysisID string, cutoff time.Time) error {
	const query = `
UPDATE analyses
SET status = 'pending',
    run_id = NULL,
    run_started_at = NULL,
    status_changed_at = now(),
    updated_at = now()
WHERE id = $1 AND status IN ('extracting', 'analyzing', 'saving') AND status_changed_at < $2`
	return r.execCAS(ctx, analysisID, query, analysisID, cutoff)
}

// Retry moves a failed analysis back to pending.
func (r *PGRepo) Retry(ctx context.Context, analysisID string) error {
	const query = `
UPDATE analyses
SET status = 'pending',
    run_id = NULL,
    run_started_at = NULL,
    completed_at = NULL,
    status_changed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'failed'`
	return r.execCAS(ctx, analysisID, query, analysisID)
}

// Complete finishes a saving analysis.
func (r *PGRepo) Complete(ctx context.Context, analysisID string, c Completion) error {
	const query = `
UPDATE analyses
SET status = 'completed',
    completed_at = now(),
    review_count = $2,
    average_rating = $3,
    error_code = NULL,
    error_message = NULL,
    status_changed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'saving'`
	return r.execCAS(ctx, analysisID, query, analysisID, c.ReviewCount, c.AverageRating)
}

// Fail records a classified failure on a pending or in-flight analysis.
func (r *PGRepo) Fail(ctx context.Context, analysisID string, f Failure) error {
	const query = `
UPDATE analyses
SET status = 'failed',
    error_code = $2,
    error_message = $3,
    status_changed_at = now(),
    updated_at = now()
WHERE id = $1 AND status IN ('pending', 'extracting', 'analyzing', 'saving')`
	res, err := r.DB.ExecContext(ctx, query, analysisID, f.Code, TruncateErrorMessage(f.Message))
	if err != nil {
		return eris.Wrap(err, "fail analysis")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, analysisID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// AttachSession records the checkout session created for the analysis.
func (r *PGRepo) AttachSession(ctx context.Context, analysisID, sessionID string) error {
	const query = `
UPDATE analyses
SET stripe_checkout_session_id = $2, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, analysisID, sessionID)
	if err != nil {
		return eris.Wrap(err, "attach session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid books a successful payment. It reports false when the analysis was already paid.
func (r *PGRepo) MarkPaid(ctx context.Context, analysisID, sessionID string) (bool, error) {
	const query = `
UPDATE analyses
SET payment_status = 'paid',
    paid_at = COALESCE(paid_at, now()),
    stripe_checkout_session_id = COALESCE($2, stripe_checkout_session_id),
    updated_at = now()
WHERE id = $1 AND payment_status IN ('pending', 'failed')`
	return r.execPayment(ctx, query, analysisID, nullString(sessionID))
}

// MarkPaymentFailed books a failed async payment unless the analysis is already paid.
func (r *PGRepo) MarkPaymentFailed(ctx context.Context, analysisID, sessionID string) (bool, error) {
	const query = `
UPDATE analyses
SET payment_status = 'failed',
    stripe_checkout_session_id = COALESCE($2, stripe_checkout_session_id),
    updated_at = now()
WHERE id = $1 AND payment_status = 'pending'`
	return r.execPayment(ctx, query, analysisID, nullString(sessionID))
}

func (r *PGRepo) execPayment(ctx context.Context, query string, analysisID string, sessionID any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, analysisID, sessionID)
	if err != nil {
		return false, eris.Wrap(err, "update payment status")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, analysisID); err != nil {
		return false, err
	}
	return false, nil
}

// execCAS runs a conditional update and maps a miss to ErrNotFound or ErrConflict.
func (r *PGRepo) execCAS(ctx context.Context, analysisID, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "conditional update")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, analysisID); err != nil {
		return err
	}
	return ErrConflict
}

// SaveResults writes every child row in one transaction.
func (r *PGRepo) SaveResults(ctx context.Context, analysisID string, results Results) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM root_causes WHERE analysis_id = $1)`, analysisID).Scan(&exists); err != nil {
			return eris.Wrap(err, "check existing results")
		}
		if exists {
			return ErrResultsExist
		}

		for i, rv := range results.Reviews {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO reviews (id, analysis_id, author, rating, body, published_at, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.NewString(), analysisID, rv.Author, rv.Rating, rv.Text, rv.PublishedAt, i+1); err != nil {
				return eris.Wrapf(err, "insert review %d", i+1)
			}
		}
		for _, rc := range results.RootCauses {
			bullets, err := json.Marshal(nonNil(rc.Bullets))
			if err != nil {
				return eris.Wrap(err, "marshal bullets")
			}
			quotes, err := json.Marshal(nonNil(rc.Quotes))
			if err != nil {
				return eris.Wrap(err, "marshal quotes")
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO root_causes (id, analysis_id, rank, title, severity, frequency, bullets, quotes)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)`,
				uuid.NewString(), analysisID, rc.Rank, rc.Title, rc.Severity, rc.Frequency, bullets, quotes); err != nil {
				return eris.Wrapf(err, "insert root cause rank %d", rc.Rank)
			}
		}
		for i, cs := range results.CoachingScripts {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO coaching_scripts (id, analysis_id, position, role, focus, script)
VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), analysisID, i+1, cs.Role, cs.Focus, cs.Script); err != nil {
				return eris.Wrapf(err, "insert coaching script %d", i+1)
			}
		}
		for i, pc := range results.ProcessChanges {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO process_changes (id, analysis_id, position, area, change, impact)
VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), analysisID, i+1, pc.Area, pc.Change, pc.Impact); err != nil {
				return eris.Wrapf(err, "insert process change %d", i+1)
			}
		}
		for i, bt := range results.BacklogTasks {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO backlog_tasks (id, analysis_id, week, position, task, owner)
VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), analysisID, bt.Week, i+1, bt.Task, bt.Owner); err != nil {
				return eris.Wrapf(err, "insert backlog task %d", i+1)
			}
		}
		return nil
	})
}

// HasResults reports whether root causes have been saved for the analysis.
func (r *PGRepo) HasResults(ctx context.Context, analysisID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM root_causes WHERE analysis_id = $1)`, analysisID).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "check results")
	}
	return exists, nil
}

// GetResults loads the child rows ordered by rank, position and week.
func (r *PGRepo) GetResults(ctx context.Context, analysisID string) (Results, error) {
	var out Results

	err := r.eachRow(ctx, "reviews", `
SELECT author, rating, body, published_at FROM reviews WHERE analysis_id = $1 ORDER BY position`, analysisID,
		func(rows *sql.Rows) error {
			var rv Review
			if err := rows.Scan(&rv.Author, &rv.Rating, &rv.Text, &rv.PublishedAt); err != nil {
				return err
			}
			out.Reviews = append(out.Reviews, rv)
			return nil
		})
	if err != nil {
		return Results{}, err
	}

	err = r.eachRow(ctx, "root causes", `
SELECT rank, title, severity, frequency, bullets, quotes FROM root_causes WHERE analysis_id = $1 ORDER BY rank`, analysisID,
		func(rows *sql.Rows) error {
			var rc RootCause
			var bullets, quotes []byte
			if err := rows.Scan(&rc.Rank, &rc.Title, &rc.Severity, &rc.Frequency, &bullets, &quotes); err != nil {
				return err
			}
			if err := json.Unmarshal(bullets, &rc.Bullets); err != nil {
				return eris.Wrapf(err, "decode bullets of root cause %d", rc.Rank)
			}
			if err := json.Unmarshal(quotes, &rc.Quotes); err != nil {
				return eris.Wrapf(err, "decode quotes of root cause %d", rc.Rank)
			}
			out.RootCauses = append(out.RootCauses, rc)
			return nil
		})
	if err != nil {
		return Results{}, err
	}

	err = r.eachRow(ctx, "coaching scripts", `
SELECT role, focus, script FROM coaching_scripts WHERE analysis_id = $1 ORDER BY position`, analysisID,
		func(rows *sql.Rows) error {
			var cs CoachingScript
			if err := rows.Scan(&cs.Role, &cs.Focus, &cs.Script); err != nil {
				return err
			}
			out.CoachingScripts = append(out.CoachingScripts, cs)
			return nil
		})
	if err != nil {
		return Results{}, err
	}

	err = r.eachRow(ctx, "process changes", `
SELECT area, change, impact FROM process_changes WHERE analysis_id = $1 ORDER BY position`, analysisID,
		func(rows *sql.Rows) error {
			var pc ProcessChange
			if err := rows.Scan(&pc.Area, &pc.Change, &pc.Impact); err != nil {
				return err
			}
			out.ProcessChanges = append(out.ProcessChanges, pc)
			return nil
		})
	if err != nil {
		return Results{}, err
	}

	err = r.eachRow(ctx, "backlog tasks", `
SELECT week, task, owner FROM backlog_tasks WHERE analysis_id = $1 ORDER BY week, position`, analysisID,
		func(rows *sql.Rows) error {
			var bt BacklogTask
			if err := rows.Scan(&bt.Week, &bt.Task, &bt.Owner); err != nil {
				return err
			}
			out.BacklogTasks = append(out.BacklogTasks, bt)
			return nil
		})
	if err != nil {
		return Results{}, err
	}
	return out, nil
}

// eachRow runs query and hands every row to fn, closing rows and checking rows.Err.
func (r *PGRepo) eachRow(ctx context.Context, table, query string, arg any, fn func(*sql.Rows) error) error {
	rows, err := r.DB.QueryContext(ctx, query, arg)
	if err != nil {
		return eris.Wrapf(err, "query %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return eris.Wrapf(err, "read %s", table)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrapf(err, "iterate %s", table)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

var _ Repo = (*PGRepo)(nil)

package analyses

import (
	"context"
	"time"
)

// Repo defines persistence operations for analyses and their child rows.
// Every status write is conditional on the expected current status.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]Analysis, error)
	ListByBusiness(ctx context.Context, businessID string) ([]Analysis, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Analysis, error)
	DeleteByBusiness(ctx context.Context, businessID string) error

	Transition(ctx context.Context, analysisID string, from, to Status) error
	Claim(ctx context.Context, analysisID, runID string) error
	AcceptRun(ctx context.Context, analysisID, runID string) error
	ResetStale(ctx context.Context, analysisID string, cutoff time.Time) error
	Retry(ctx context.Context, analysisID string) error
	Complete(ctx context.Context, analysisID string, c Completion) error
	Fail(ctx context.Context, analysisID string, f Failure) error

	AttachSession(ctx context.Context, analysisID, sessionID string) error
	MarkPaid(ctx context.Context, analysisID, sessionID string) (bool, error)
	MarkPaymentFailed(ctx context.Context, analysisID, sessionID string) (bool, error)

	SaveResults(ctx context.Context, analysisID string, results Results) error
	HasResults(ctx context.Context, analysisID string) (bool, error)
	GetResults(ctx context.Context, analysisID string) (Results, error)
}

package analyses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Analysis
	results map[string]Results

	// Now is the clock used for status_changed_at and paid_at.
	Now func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]Analysis),
		results: make(map[string]Results),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, a Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.StatusChangedAt.IsZero() {
		a.StatusChangedAt = a.CreatedAt
	}
	a.UpdatedAt = a.CreatedAt
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = a
	return nil
}

// GetByID returns an analysis by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return a, nil
}

// ListByUser returns analyses for a user, newest first, with limit/offset.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	out := r.filter(ctx, func(a Analysis) bool { return a.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []Analysis{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListBySessionID returns analyses carrying the session id, oldest first.
func (r *MemoryRepo) ListBySessionID(ctx context.Context, sessionID string) ([]Analysis, error) {
	if sessionID == "" {
		return nil, nil
	}
	out := r.filter(ctx, func(a Analysis) bool { return a.StripeCheckoutSessionID == sessionID })
	sortOldestFirst(out)
	return out, nil
}

// ListByBusiness returns a business's analyses, oldest first.
func (r *MemoryRepo) ListByBusiness(ctx context.Context, businessID string) ([]Analysis, error) {
	out := r.filter(ctx, func(a Analysis) bool { return a.BusinessID == businessID })
	sortOldestFirst(out)
	return out, nil
}

// ListStale returns in-flight analyses unchanged since cutoff.
func (r *MemoryRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Analysis, error) {
	out := r.filter(ctx, func(a Analysis) bool {
		return a.Status.InFlight() && a.StatusChangedAt.Before(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StatusChangedAt.Before(out[j].StatusChangedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByBusiness removes a business's analyses and their results.
func (r *MemoryRepo) DeleteByBusiness(ctx context.Context, businessID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.byID {
		if a.BusinessID == businessID {
			delete(r.byID, id)
			delete(r.results, id)
		}
	}
	return nil
}

func (r *MemoryRepo) filter(ctx context.Context, keep func(Analysis) bool) []Analysis {
	if ctx.Err() != nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Analysis
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func sortOldestFirst(out []Analysis) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

// update applies mutate under the write lock when cond holds, mirroring a conditional UPDATE.
func (r *MemoryRepo) update(ctx context.Context, analysisID string, cond func(Analysis) bool, mutate func(*Analysis, time.Time)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[analysisID]
	if !ok {
		return false, ErrNotFound
	}
	if !cond(a) {
		return false, nil
	}
	now := r.Now()
	mutate(&a, now)
	a.UpdatedAt = now
	r.byID[analysisID] = a
	return true, nil
}

func (r *MemoryRepo) cas(ctx context.Context, analysisID string, cond func(Analysis) bool, mutate func(*Analysis, time.Time)) error {
	ok, err := r.update(ctx, analysisID, cond, mutate)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func setStatus(a *Analysis, to Status, now time.Time) {
	a.Status = to
	a.StatusChangedAt = now
}

// Transition moves status from one value to another if the row still holds from.
func (r *MemoryRepo) Transition(ctx context.Context, analysisID string, from, to Status) error {
	if !CanTransition(from, to) || (from.InFlight() && to == StatusPending) {
		return ErrInvalidTransition
	}
	return r.cas(ctx, analysisID,
		func(a Analysis) bool { return a.Status == from },
		func(a *Analysis, now time.Time) { setStatus(a, to, now) })
}

// Claim atomically moves a paid, pending analysis to extracting under a new run id.
func (r *MemoryRepo) Claim(ctx context.Context, analysisID, runID string) error {
	return r.cas(ctx, analysisID,
		func(a Analysis) bool { return a.Status == StatusPending && a.PaymentStatus == PaymentPaid },
		func(a *Analysis, now time.Time) {
			setStatus(a, StatusExtracting, now)
			a.RunID = runID
			a.RunStartedAt = nil
			a.ErrorCode = ""
			a.ErrorMessage = ""
		})
}

// AcceptRun marks the claimed run as started.
func (r *MemoryRepo) AcceptRun(ctx context.Context, analysisID, runID string) error {
	return r.cas(ctx, analysisID,
		func(a Analysis) bool {
			return a.RunID == runID && a.RunStartedAt == nil && a.Status == StatusExtracting
		},
		func(a *Analysis, now time.Time) {
			started := now
			a.RunStartedAt = &started
		})
}

// ResetStale returns an in-flight analysis to pending when its status predates cutoff.
func (r *MemoryRepo) ResetStale(ctx context.Context, analysisID string, cutoff time.Time) error {
	return r.cas(ctx, analysisID,
		func(a Analysis) bool { return a.Status.InFlight() && a.StatusChangedAt.Before(cutoff) },
		func(a *Analysis, now time.Time) {
			setStatus(a, StatusPending, now)
			a.RunID = ""
			a.RunStartedAt = nil
		})
}

// Retry moves a failed analysis back to pending.
func (r *MemoryRepo) Retry(ctx context.Context, analysisID string) error {
	return r.cas(ctx, analysisID,
		func(a Analysis) bool { return a.Status == StatusFailed },
		func(a *Analysis, now time.Time) {
			setStatus(a, StatusPending, now)
			a.RunID = ""
			a.RunStartedAt = nil
			a.CompletedAt = nil
		})
}

// Complete finishes a saving analysis.
func (r *MemoryRepo) Complete(ctx context.Context, analysisID string, c Completion) error {
	return r.cas(ctx, analysisID,
		func(a Analysis) bool { return a.Status == StatusSaving },
		func(a *Analysis, now time.Time) {
			setStatus(a, StatusCompleted, now)
			completed := now
			a.CompletedAt = &completed
			a.ReviewCount = c.ReviewCount
			a.AverageRating = c.AverageRating
			a.ErrorCode = ""
			a.ErrorMessage = ""
		})
}

// Fail records a classified failure on a pending or in-flight analysis.
func (r *MemoryRepo) Fail(ctx context.Context, analysisID string, f Failure) error {
	ok, err := r.update(ctx, analysisID,
		func(a Analysis) bool { return a.Status == StatusPending || a.Status.InFlight() },
		func(a *Analysis, now time.Time) {
			setStatus(a, StatusFailed, now)
			a.ErrorCode = f.Code
			a.ErrorMessage = TruncateErrorMessage(f.Message)
		})
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

// AttachSession records the checkout session created for the analysis.
func (r *MemoryRepo) AttachSession(ctx context.Context, analysisID, sessionID string) error {
	_, err := r.update(ctx, analysisID,
		func(Analysis) bool { return true },
		func(a *Analysis, _ time.Time) { a.StripeCheckoutSessionID = sessionID })
	return err
}

// MarkPaid books a successful payment. It reports false when already paid.
func (r *MemoryRepo) MarkPaid(ctx context.Context, analysisID, sessionID string) (bool, error) {
	return r.update(ctx, analysisID,
		func(a Analysis) bool { return CanTransitionPayment(a.PaymentStatus, PaymentPaid) },
		func(a *Analysis, now time.Time) {
			a.PaymentStatus = PaymentPaid
			if a.PaidAt == nil {
				paid := now
				a.PaidAt = &paid
			}
			if sessionID != "" {
				a.StripeCheckoutSessionID = sessionID
			}
		})
}

// MarkPaymentFailed books a failed async payment unless already paid.
func (r *MemoryRepo) MarkPaymentFailed(ctx context.Context, analysisID, sessionID string) (bool, error) {
	return r.update(ctx, analysisID,
		func(a Analysis) bool { return a.PaymentStatus == PaymentPending },
		func(a *Analysis, _ time.Time) {
			a.PaymentStatus = PaymentFailed
			if sessionID != "" {
				a.StripeCheckoutSessionID = sessionID
			}
		})
}

// SaveResults stores the child rows once.
func (r *MemoryRepo) SaveResults(ctx context.Context, analysisID string, results Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[analysisID]; !ok {
		return ErrNotFound
	}
	if existing, ok := r.results[analysisID]; ok && len(existing.RootCauses) > 0 {
		return ErrResultsExist
	}
	r.results[analysisID] = results
	return nil
}

// HasResults reports whether root causes have been saved.
func (r *MemoryRepo) HasResults(ctx context.Context, analysisID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results[analysisID].RootCauses) > 0, nil
}

// GetResults returns the saved child rows.
func (r *MemoryRepo) GetResults(ctx context.Context, analysisID string) (Results, error) {
	if err := ctx.Err(); err != nil {
		return Results{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.results[analysisID], nil
}

var _ Repo = (*MemoryRepo)(nil)

package reports

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores reports in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	reports   map[string]Report
	artifacts map[string]Artifact
	deltas    map[string]Delta
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		reports:   make(map[string]Report),
		artifacts: make(map[string]Artifact),
		deltas:    make(map[string]Delta),
	}
}

// MarkQueued upserts the report row for an analysis and stamps queued_at.
func (r *MemoryRepo) MarkQueued(ctx context.Context, analysisID, userID string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	rep, ok := r.reports[analysisID]
	if !ok {
		rep = Report{ID: uuid.NewString(), AnalysisID: analysisID, UserID: userID, CreatedAt: now}
	}
	rep.QueuedAt = &now
	rep.UpdatedAt = now
	r.reports[analysisID] = rep
	return rep, nil
}

// GetByAnalysis returns the report row for an analysis.
func (r *MemoryRepo) GetByAnalysis(ctx context.Context, analysisID string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[analysisID]
	if !ok {
		return Report{}, ErrNotFound
	}
	return rep, nil
}

// CreateArtifact stores an artifact.
func (r *MemoryRepo) CreateArtifact(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.artifacts[a.ID] = a
	return nil
}

// GetArtifact returns an artifact by ID.
func (r *MemoryRepo) GetArtifact(ctx context.Context, artifactID string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[artifactID]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

// LatestArtifact returns the newest artifact of kind for an analysis.
func (r *MemoryRepo) LatestArtifact(ctx context.Context, analysisID, kind string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest Artifact
	found := false
	for _, a := range r.artifacts {
		if a.AnalysisID != analysisID || a.Kind != kind {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	if !found {
		return Artifact{}, ErrNotFound
	}
	return latest, nil
}

// SaveDelta stores the delta for an analysis.
func (r *MemoryRepo) SaveDelta(ctx context.Context, d Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.deltas[d.AnalysisID]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	r.deltas[d.AnalysisID] = d
	return nil
}

// GetDelta returns the delta recorded for an analysis.
func (r *MemoryRepo) GetDelta(ctx context.Context, analysisID string) (Delta, error) {
	if err := ctx.Err(); err != nil {
		return Delta{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deltas[analysisID]
	if !ok {
		return Delta{}, ErrNotFound
	}
	return d, nil
}

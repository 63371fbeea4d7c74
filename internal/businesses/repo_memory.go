package businesses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores businesses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Business
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Business)}
}

// GetOrCreate returns the existing business for the normalized URL or stores b.
func (r *MemoryRepo) GetOrCreate(ctx context.Context, b Business) (Business, bool, error) {
	if err := ctx.Err(); err != nil {
		return Business{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.UserID == b.UserID && existing.NormalizedURL == b.NormalizedURL {
			return existing, false, nil
		}
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.byID[b.ID] = b
	return b, true, nil
}

// GetByID returns a business owned by userID.
func (r *MemoryRepo) GetByID(ctx context.Context, userID, businessID string) (Business, error) {
	if err := ctx.Err(); err != nil {
		return Business{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[businessID]
	if !ok || b.UserID != userID {
		return Business{}, ErrNotFound
	}
	return b, nil
}

// ListByUser lists a user's businesses, newest first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Business, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Business{}
	for _, b := range r.byID {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a business owned by userID.
func (r *MemoryRepo) Delete(ctx context.Context, userID, businessID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[businessID]
	if !ok || b.UserID != userID {
		return ErrNotFound
	}
	delete(r.byID, businessID)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)

package businesses

import "context"

// Repo defines persistence operations for businesses.
type Repo interface {
	// GetOrCreate returns the user's business for b.NormalizedURL, creating it when absent.
	GetOrCreate(ctx context.Context, b Business) (Business, bool, error)
	GetByID(ctx context.Context, userID, businessID string) (Business, error)
	ListByUser(ctx context.Context, userID string) ([]Business, error)
	Delete(ctx context.Context, userID, businessID string) error
}

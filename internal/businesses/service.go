package businesses

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"servicesift-backend/internal/shared/telemetry"
)

// AnalysisPurger removes the analyses that belong to a business.
type AnalysisPurger interface {
	DeleteByBusiness(ctx context.Context, businessID string) error
}

// Service contains business logic for businesses.
type Service struct {
	Repo     Repo
	Analyses AnalysisPurger
}

// Resolve returns the user's business for a listing URL, creating it on first use.
func (s *Service) Resolve(ctx context.Context, userID, rawURL, name string) (Business, bool, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Business{}, false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = normalized
	}
	return s.Repo.GetOrCreate(ctx, Business{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		NormalizedURL: normalized,
		SourceURL:     strings.TrimSpace(rawURL),
	})
}

// List returns the user's businesses.
func (s *Service) List(ctx context.Context, userID string) ([]Business, error) {
	return s.Repo.ListByUser(ctx, userID)
}

// Delete removes the business together with its analyses.
func (s *Service) Delete(ctx context.Context, userID, businessID string) error {
	if _, err := s.Repo.GetByID(ctx, userID, businessID); err != nil {
		return err
	}
	if s.Analyses != nil {
		if err := s.Analyses.DeleteByBusiness(ctx, businessID); err != nil {
			return err
		}
	}
	if err := s.Repo.Delete(ctx, userID, businessID); err != nil {
		return err
	}
	telemetry.Info("business.deleted", map[string]any{
		"user_id":     userID,
		"business_id": businessID,
	})
	return nil
}

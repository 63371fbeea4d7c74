package analyses

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"servicesift-backend/internal/businesses"
	"servicesift-backend/internal/shared/telemetry"
)

// Service contains business logic for analyses.
type Service struct {
	Repo       Repo
	Businesses *businesses.Service
	// FreeMode creates drafts that are already paid.
	FreeMode bool
}

// Draft is the request to create an analysis before checkout.
type Draft struct {
	UserID       string
	URL          string
	BusinessName string
}

// CreateDraft resolves the business and stores a pending analysis for it.
// The first analysis of a business is its baseline.
func (s *Service) CreateDraft(ctx context.Context, d Draft) (Analysis, error) {
	if d.UserID == "" {
		return Analysis{}, errors.New("user id is required")
	}
	business, _, err := s.Businesses.Resolve(ctx, d.UserID, d.URL, d.BusinessName)
	if err != nil {
		return Analysis{}, err
	}
	existing, err := s.Repo.ListByBusiness(ctx, business.ID)
	if err != nil {
		return Analysis{}, err
	}

	name := strings.TrimSpace(d.BusinessName)
	if name == "" {
		name = business.Name
	}
	a := Analysis{
		ID:            uuid.NewString(),
		UserID:        d.UserID,
		BusinessID:    business.ID,
		BusinessName:  name,
		BusinessURL:   strings.TrimSpace(d.URL),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		IsBaseline:    len(existing) == 0,
	}
	if s.FreeMode {
		a.PaymentStatus = PaymentPaid
	}

	err = s.Repo.Create(ctx, a)
	if errors.Is(err, ErrBaselineTaken) {
		a.IsBaseline = false
		err = s.Repo.Create(ctx, a)
	}
	if err != nil {
		return Analysis{}, err
	}
	stored, err := s.Repo.GetByID(ctx, a.ID)
	if err != nil {
		return Analysis{}, err
	}
	telemetry.Info("analysis.draft_created", map[string]any{
		"user_id":        d.UserID,
		"analysis_id":    a.ID,
		"business_id":    business.ID,
		"is_baseline":    a.IsBaseline,
		"payment_status": a.PaymentStatus,
	})
	return stored, nil
}

// GetOwned returns the analysis if userID owns it.
func (s *Service) GetOwned(ctx context.Context, userID, analysisID string) (Analysis, error) {
	a, err := s.Repo.GetByID(ctx, analysisID)
	if err != nil {
		return Analysis{}, err
	}
	if a.UserID != userID {
		return Analysis{}, ErrNotOwner
	}
	return a, nil
}

// List returns the user's analyses, newest first. limit is clamped to 1..100.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// Detail returns an owned analysis with its saved child rows.
func (s *Service) Detail(ctx context.Context, userID, analysisID string) (Analysis, Results, error) {
	a, err := s.GetOwned(ctx, userID, analysisID)
	if err != nil {
		return Analysis{}, Results{}, err
	}
	results, err := s.Repo.GetResults(ctx, analysisID)
	if err != nil {
		return Analysis{}, Results{}, err
	}
	return a, results, nil
}

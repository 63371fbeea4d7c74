package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/storage/object"
	"servicesift-backend/internal/shared/telemetry"
)

// Service serves report status, artifacts and deltas.
type Service struct {
	Repo     Repo
	Analyses analyses.Repo
	Store    object.ObjectStore
	Signer   object.URLSigner
	URLTTL   time.Duration

	// Retryable classifies a failure code; nil reports nothing as retryable.
	Retryable func(code string) bool
}

// StatusView is the body returned to pollers.
type StatusView struct {
	AnalysisID    string                 `json:"analysisId"`
	Status        analyses.Status        `json:"status"`
	PaymentStatus analyses.PaymentStatus `json:"paymentStatus"`
	ReportStatus  Status                 `json:"reportStatus"`
	ReviewCount   int                    `json:"reviewCount"`
	AverageRating float64                `json:"averageRating"`
	ErrorCode     string                 `json:"errorCode,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	Retryable     bool                   `json:"retryable,omitempty"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
}

// StatusFor returns the polling view of an owned analysis.
func (s *Service) StatusFor(ctx context.Context, userID, analysisID string) (StatusView, error) {
	a, err := s.ownedAnalysis(ctx, userID, analysisID)
	if err != nil {
		return StatusView{}, err
	}
	queued := false
	if rep, err := s.Repo.GetByAnalysis(ctx, analysisID); err == nil {
		queued = rep.QueuedAt != nil
	} else if !errors.Is(err, ErrNotFound) {
		return StatusView{}, err
	}
	return StatusView{
		AnalysisID:    a.ID,
		Status:        a.Status,
		PaymentStatus: a.PaymentStatus,
		ReportStatus:  DeriveStatus(a.Status, a.PaymentStatus, queued),
		ReviewCount:   a.ReviewCount,
		AverageRating: a.AverageRating,
		ErrorCode:     a.ErrorCode,
		ErrorMessage:  a.ErrorMessage,
		Retryable:     a.Status == analyses.StatusFailed && s.Retryable != nil && s.Retryable(a.ErrorCode),
		CompletedAt:   a.CompletedAt,
	}, nil
}

// MarkQueued records that a pipeline run was requested for the analysis.
func (s *Service) MarkQueued(ctx context.Context, a analyses.Analysis) (Report, error) {
	return s.Repo.MarkQueued(ctx, a.ID, a.UserID)
}

// ArtifactQuery selects an artifact by id or by analysis and kind.
type ArtifactQuery struct {
	ArtifactID string
	AnalysisID string
	Kind       string
}

// MintArtifactURL returns a presigned URL for an artifact the user owns.
func (s *Service) MintArtifactURL(ctx context.Context, userID string, q ArtifactQuery) (string, time.Duration, error) {
	var artifact Artifact
	var err error
	switch {
	case q.ArtifactID != "":
		artifact, err = s.Repo.GetArtifact(ctx, q.ArtifactID)
	case q.AnalysisID != "" && q.Kind != "":
		if _, err := s.ownedAnalysis(ctx, userID, q.AnalysisID); err != nil {
			return "", 0, err
		}
		artifact, err = s.Repo.LatestArtifact(ctx, q.AnalysisID, q.Kind)
	default:
		return "", 0, ErrInvalidQuery
	}
	if err != nil {
		return "", 0, err
	}
	if artifact.UserID != userID {
		return "", 0, ErrNotOwner
	}
	if s.Signer == nil {
		return "", 0, ErrNoSigner
	}
	ttl := s.URLTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	url, err := s.Signer.PresignGet(ctx, artifact.StorageKey, ttl)
	if err != nil {
		if errors.Is(err, object.ErrSigningUnsupported) {
			return "", 0, ErrNoSigner
		}
		return "", 0, eris.Wrap(err, "presign artifact")
	}
	return url, ttl, nil
}

// ArtifactKey returns the storage key for a report artifact. The owner
// segment is a truncated hash of the user ID.
func ArtifactKey(userID, analysisID, kind string) string {
	sum := sha256.Sum256([]byte(userID))
	return fmt.Sprintf("reports/%s/%s/%s.json", hex.EncodeToString(sum[:12]), analysisID, kind)
}

type reportDocument struct {
	Analysis analyses.Analysis `json:"analysis"`
	Results  analyses.Results  `json:"results"`
}

// WriteReportArtifact stores the JSON rendition of a completed analysis.
func (s *Service) WriteReportArtifact(ctx context.Context, a analyses.Analysis, results analyses.Results) (Artifact, error) {
	if s.Store == nil {
		return Artifact{}, errors.New("object store is not configured")
	}
	rep, err := s.Repo.GetByAnalysis(ctx, a.ID)
	if errors.Is(err, ErrNotFound) {
		rep, err = s.Repo.MarkQueued(ctx, a.ID, a.UserID)
	}
	if err != nil {
		return Artifact{}, err
	}

	payload, err := json.Marshal(reportDocument{Analysis: a, Results: results})
	if err != nil {
		return Artifact{}, eris.Wrap(err, "marshal report")
	}
	key := ArtifactKey(a.UserID, a.ID, KindReportJSON)
	size, err := s.Store.SaveWithKey(ctx, key, "application/json", bytes.NewReader(payload))
	if err != nil {
		return Artifact{}, eris.Wrap(err, "store report artifact")
	}

	artifact := Artifact{
		ID:          uuid.NewString(),
		ReportID:    rep.ID,
		AnalysisID:  a.ID,
		UserID:      a.UserID,
		Kind:        KindReportJSON,
		StorageKey:  key,
		ContentType: "application/json",
		SizeBytes:   size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Repo.CreateArtifact(ctx, artifact); err != nil {
		return Artifact{}, err
	}
	telemetry.Info("report.artifact_written", map[string]any{
		"analysis_id": a.ID,
		"artifact_id": artifact.ID,
		"size_bytes":  size,
	})
	return artifact, nil
}

// RecordDelta compares a completed follow-up analysis with its business baseline.
// It reports false when the analysis is the baseline or no completed baseline exists.
func (s *Service) RecordDelta(ctx context.Context, a analyses.Analysis, results analyses.Results) (bool, error) {
	if a.IsBaseline || a.BusinessID == "" {
		return false, nil
	}
	siblings, err := s.Analyses.ListByBusiness(ctx, a.BusinessID)
	if err != nil {
		return false, err
	}
	var baseline *analyses.Analysis
	for i := range siblings {
		if siblings[i].IsBaseline && siblings[i].Status == analyses.StatusCompleted {
			baseline = &siblings[i]
			break
		}
	}
	if baseline == nil {
		return false, nil
	}
	baselineResults, err := s.Analyses.GetResults(ctx, baseline.ID)
	if err != nil {
		return false, err
	}
	d := ComputeDelta(*baseline, baselineResults.RootCauses, a, results.RootCauses)
	d.ID = uuid.NewString()
	if err := s.Repo.SaveDelta(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ownedAnalysis(ctx context.Context, userID, analysisID string) (analyses.Analysis, error) {
	a, err := s.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		if errors.Is(err, analyses.ErrNotFound) {
			return analyses.Analysis{}, ErrNotFound
		}
		return analyses.Analysis{}, err
	}
	if a.UserID != userID {
		return analyses.Analysis{}, ErrNotOwner
	}
	return a, nil
}

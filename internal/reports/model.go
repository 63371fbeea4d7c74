package reports

import (
	"errors"
	"time"

	"servicesift-backend/internal/analyses"
)

// Status is the external report vocabulary shown to the browser.
type Status string

const (
	StatusPaid      Status = "PAID"
	StatusQueued    Status = "QUEUED"
	StatusScraping  Status = "SCRAPING"
	StatusAnalyzing Status = "ANALYZING"
	StatusStoring   Status = "STORING"
	StatusReady     Status = "READY"
	StatusFailed    Status = "FAILED"
)

// KindReportJSON is the JSON rendition of a completed analysis.
const KindReportJSON = "report_json"

var (
	ErrNotFound     = errors.New("report not found")
	ErrNotOwner     = errors.New("report belongs to another user")
	ErrNoSigner     = errors.New("artifact url signing is not configured")
	ErrInvalidQuery = errors.New("artifactId or analysisId and kind are required")
)

// Report is the per-analysis report row.
type Report struct {
	ID         string     `json:"id"`
	AnalysisID string     `json:"analysisId"`
	UserID     string     `json:"userId"`
	QueuedAt   *time.Time `json:"queuedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Artifact is a stored rendition of a report.
type Artifact struct {
	ID          string    `json:"id"`
	ReportID    string    `json:"reportId"`
	AnalysisID  string    `json:"analysisId"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Delta compares a follow-up analysis with the business baseline.
type Delta struct {
	ID                 string    `json:"id"`
	BusinessID         string    `json:"businessId"`
	BaselineAnalysisID string    `json:"baselineAnalysisId"`
	AnalysisID         string    `json:"analysisId"`
	ReviewCountDelta   int       `json:"reviewCountDelta"`
	AverageRatingDelta float64   `json:"averageRatingDelta"`
	ResolvedCauses     []string  `json:"resolvedCauses"`
	NewCauses          []string  `json:"newCauses"`
	PersistingCauses   []string  `json:"persistingCauses"`
	CreatedAt          time.Time `json:"createdAt"`
}

// DeriveStatus maps the analysis and payment state to the report vocabulary.
// It is never stored.
func DeriveStatus(status analyses.Status, payment analyses.PaymentStatus, queued bool) Status {
	switch status {
	case analyses.StatusCompleted:
		return StatusReady
	case analyses.StatusFailed:
		return StatusFailed
	case analyses.StatusExtracting:
		return StatusScraping
	case analyses.StatusAnalyzing:
		return StatusAnalyzing
	case analyses.StatusSaving:
		return StatusStoring
	}
	if payment != analyses.PaymentPaid {
		return ""
	}
	if queued {
		return StatusQueued
	}
	return StatusPaid
}

package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/shared/telemetry"
)

const (
	DefaultInterval        = time.Second
	DefaultMaxAttempts     = 300
	DefaultMaxClientErrors = 3

	CodeTimeout = "TIMEOUT"
)

var (
	ErrTimeout = errors.New("analysis did not finish in time")
	ErrAborted = errors.New("polling aborted after repeated client errors")
)

// StatusFetcher reads the current report status of an analysis.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, analysisID string) (reports.StatusView, error)
}

// StatusError is a non-2xx response from the status endpoint.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("report-status %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// ClientError reports whether the server rejected the request itself.
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// HTTPFetcher calls GET /api/v1/report-status with a bearer token.
type HTTPFetcher struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// FetchStatus implements StatusFetcher.
func (f *HTTPFetcher) FetchStatus(ctx context.Context, analysisID string) (reports.StatusView, error) {
	endpoint := strings.TrimRight(f.BaseURL, "/") + "/api/v1/report-status?analysisId=" + url.QueryEscape(analysisID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return reports.StatusView{}, eris.Wrap(err, "build status request")
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return reports.StatusView{}, eris.Wrap(err, "fetch report status")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return reports.StatusView{}, eris.Wrap(err, "read report status")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(body, &envelope)
		return reports.StatusView{}, &StatusError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}
	var view reports.StatusView
	if err := json.Unmarshal(body, &view); err != nil {
		return reports.StatusView{}, eris.Wrap(err, "decode report status")
	}
	return view, nil
}

// Poller waits for an analysis to reach a terminal state.
type Poller struct {
	Fetcher         StatusFetcher
	Interval        time.Duration
	MaxAttempts     int
	MaxClientErrors int
	// OnUpdate is called with every successfully fetched status.
	OnUpdate func(reports.StatusView)
}

// Done reports whether polling can stop on this view.
func Done(v reports.StatusView) bool {
	switch v.Status {
	case analyses.StatusFailed:
		return true
	case analyses.StatusCompleted:
		return v.ReviewCount > 0
	default:
		return false
	}
}

// Wait polls until the analysis completes or fails. A failed analysis is
// returned without error; callers inspect Status and ErrorCode.
func (p *Poller) Wait(ctx context.Context, analysisID string) (reports.StatusView, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	maxClientErrors := p.MaxClientErrors
	if maxClientErrors <= 0 {
		maxClientErrors = DefaultMaxClientErrors
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last reports.StatusView
	clientErrors := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		view, err := p.Fetcher.FetchStatus(ctx, analysisID)
		switch {
		case err == nil:
			clientErrors = 0
			last = view
			if p.OnUpdate != nil {
				p.OnUpdate(view)
			}
			if Done(view) {
				return view, nil
			}
		case isClientError(err):
			clientErrors++
			telemetry.Warn("poller.client_error", map[string]any{
				"analysis_id": analysisID,
				"attempt":     attempt,
				"error":       err.Error(),
			})
			if clientErrors >= maxClientErrors {
				return last, fmt.Errorf("%w: %v", ErrAborted, err)
			}
		default:
			clientErrors = 0
			telemetry.Warn("poller.fetch_failed", map[string]any{
				"analysis_id": analysisID,
				"attempt":     attempt,
				"error":       err.Error(),
			})
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
	return last, ErrTimeout
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.ClientError()
}

package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/reports"
)

func TestWaitReturnsOnCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/report-status", r.URL.Path)
		assert.Equal(t, "a1", r.URL.Query().Get("analysisId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`{"analysisId":"a1","status":"extracting","reportStatus":"SCRAPING"}`))
		case 2:
			_, _ = w.Write([]byte(`{"analysisId":"a1","status":"completed","reviewCount":0}`))
		default:
			_, _ = w.Write([]byte(`{"analysisId":"a1","status":"completed","reviewCount":12,"averageRating":3.5}`))
		}
	}))
	defer srv.Close()

	var seen []analyses.Status
	p := &Poller{
		Fetcher:  &HTTPFetcher{BaseURL: srv.URL, Token: "tok"},
		Interval: time.Millisecond,
		OnUpdate: func(v reports.StatusView) { seen = append(seen, v.Status) },
	}
	view, err := p.Wait(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 12, view.ReviewCount)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, seen, 3)
}

func TestWaitStopsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"analysisId":"a1","status":"failed","errorCode":"EXTRACTION_FAILED","errorMessage":"Review extraction failed: 500"}`))
	}))
	defer srv.Close()

	p := &Poller{Fetcher: &HTTPFetcher{BaseURL: srv.URL}, Interval: time.Millisecond}
	view, err := p.Wait(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, analyses.StatusFailed, view.Status)
	assert.Equal(t, "EXTRACTION_FAILED", view.ErrorCode)
}

func TestWaitAbortsAfterConsecutiveClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"analysis belongs to another user","code":"OWNERSHIP_ERROR"}`))
	}))
	defer srv.Close()

	p := &Poller{Fetcher: &HTTPFetcher{BaseURL: srv.URL}, Interval: time.Millisecond}
	_, err := p.Wait(context.Background(), "a1")
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, int32(DefaultMaxClientErrors), calls.Load())
}

func TestWaitServerErrorsDoNotAbort(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 4 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"analysisId":"a1","status":"completed","reviewCount":3}`))
	}))
	defer srv.Close()

	p := &Poller{Fetcher: &HTTPFetcher{BaseURL: srv.URL}, Interval: time.Millisecond}
	view, err := p.Wait(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.ReviewCount)
}

type stuckFetcher struct{ calls int }

func (s *stuckFetcher) FetchStatus(context.Context, string) (reports.StatusView, error) {
	s.calls++
	return reports.StatusView{AnalysisID: "a1", Status: analyses.StatusAnalyzing}, nil
}

func TestWaitTimesOut(t *testing.T) {
	f := &stuckFetcher{}
	p := &Poller{Fetcher: f, Interval: time.Millisecond, MaxAttempts: 5}
	view, err := p.Wait(context.Background(), "a1")
	require.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 5, f.calls)
	assert.Equal(t, analyses.StatusAnalyzing, view.Status)
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Poller{Fetcher: &stuckFetcher{}, Interval: time.Hour, MaxAttempts: 10}
	_, err := p.Wait(ctx, "a1")
	require.ErrorIs(t, err, context.Canceled)
}

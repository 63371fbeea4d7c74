package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	pipelineStartedTotal   atomic.Uint64
	pipelineCompletedTotal atomic.Uint64
	pipelineFailedTotal    atomic.Uint64
	claimsWonTotal         atomic.Uint64
	claimsSkippedTotal     atomic.Uint64
	staleRecoveriesTotal   atomic.Uint64
	duplicateSessionsTotal atomic.Uint64
	deadLettersTotal       atomic.Uint64
	httpPanicsTotal        atomic.Uint64

	webhookEvents  = newLabeledCounter()
	pipelineErrors = newLabeledCounter()

	pipelineDuration = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 240000, 600000})
)

// IncPipelineStarted counts a runner accepting a job.
func IncPipelineStarted() { pipelineStartedTotal.Add(1) }

// IncPipelineCompleted counts a completed run.
func IncPipelineCompleted() { pipelineCompletedTotal.Add(1) }

// IncPipelineFailed counts a failed run by error code.
func IncPipelineFailed(code string) {
	pipelineFailedTotal.Add(1)
	pipelineErrors.Inc(code)
}

// IncClaimWon counts a successful pending->extracting claim.
func IncClaimWon() { claimsWonTotal.Add(1) }

// IncClaimSkipped counts a reconciliation that found the analysis already done or in flight.
func IncClaimSkipped() { claimsSkippedTotal.Add(1) }

// IncStaleRecovery counts an in-flight analysis reset to pending.
func IncStaleRecovery() { staleRecoveriesTotal.Add(1) }

// IncDuplicateSession counts a checkout session shared by multiple analyses.
func IncDuplicateSession() { duplicateSessionsTotal.Add(1) }

// IncDeadLetter counts a job that exhausted its deliveries.
func IncDeadLetter() { deadLettersTotal.Add(1) }

// IncHTTPPanic counts a handler panic caught by the recovery middleware.
func IncHTTPPanic() { httpPanicsTotal.Add(1) }

// IncWebhookEvent counts a verified payment webhook by event type.
func IncWebhookEvent(eventType string) { webhookEvents.Inc(eventType) }

// ObservePipelineDurationMs records a run duration in milliseconds.
func ObservePipelineDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	pipelineDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "pipeline_started_total", "Pipeline runs accepted", pipelineStartedTotal.Load())
	writeCounter(&buf, "pipeline_completed_total", "Pipeline runs completed", pipelineCompletedTotal.Load())
	writeCounter(&buf, "pipeline_failed_total", "Pipeline runs failed", pipelineFailedTotal.Load())
	writeLabeled(&buf, "pipeline_errors_total", "Pipeline failures by code", "code", pipelineErrors.Snapshot())
	writeHistogram(&buf, "pipeline_duration_ms", "Pipeline duration in milliseconds", pipelineDuration.Snapshot())
	writeCounter(&buf, "reconcile_claims_won_total", "Analyses claimed for a pipeline run", claimsWonTotal.Load())
	writeCounter(&buf, "reconcile_claims_skipped_total", "Reconciliations skipped as done or in flight", claimsSkippedTotal.Load())
	writeCounter(&buf, "reconcile_stale_recoveries_total", "Stale in-flight analyses reset", staleRecoveriesTotal.Load())
	writeCounter(&buf, "reconcile_duplicate_sessions_total", "Checkout sessions linked to more than one analysis", duplicateSessionsTotal.Load())
	writeLabeled(&buf, "webhook_events_total", "Verified payment webhooks by type", "type", webhookEvents.Snapshot())
	writeCounter(&buf, "pipeline_dead_letters_total", "Jobs dead-lettered after exhausting deliveries", deadLettersTotal.Load())
	writeCounter(&buf, "http_panics_total", "Handler panics recovered", httpPanicsTotal.Load())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: make(map[string]uint64)}
}

func (l *labeledCounter) Inc(label string) {
	if label == "" {
		label = "unknown"
	}
	l.mu.Lock()
	l.values[label]++
	l.mu.Unlock()
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeled(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

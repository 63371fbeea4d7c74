package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}

	var buf bytes.Buffer
	writeHistogram(&buf, "x", "help", snap)
	out := buf.String()
	for _, want := range []string{`x_bucket{le="10"} 1`, `x_bucket{le="100"} 2`, `x_bucket{le="+Inf"} 3`, "x_sum 555"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderIncludesLabeledCounters(t *testing.T) {
	IncWebhookEvent("checkout.session.completed")
	IncPipelineFailed("EXTRACTION_FAILED")

	out := Render()
	if !strings.Contains(out, `webhook_events_total{type="checkout.session.completed"}`) {
		t.Fatalf("missing webhook counter in:\n%s", out)
	}
	if !strings.Contains(out, `pipeline_errors_total{code="EXTRACTION_FAILED"}`) {
		t.Fatalf("missing error counter in:\n%s", out)
	}
}

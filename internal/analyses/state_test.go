package analyses

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusExtracting},
		{StatusExtracting, StatusAnalyzing},
		{StatusAnalyzing, StatusSaving},
		{StatusSaving, StatusCompleted},
		{StatusExtracting, StatusFailed},
		{StatusAnalyzing, StatusFailed},
		{StatusSaving, StatusFailed},
		{StatusPending, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusSaving, StatusPending},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s allowed", StatusTransition(tr[0], tr[1]))
		}
	}

	denied := [][2]Status{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusAnalyzing},
		{StatusExtracting, StatusSaving},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusExtracting},
		{StatusAnalyzing, StatusExtracting},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s denied", StatusTransition(tr[0], tr[1]))
		}
	}
}

func TestPaymentTransitionsPaidIsAbsorbing(t *testing.T) {
	if !CanTransitionPayment(PaymentPending, PaymentPaid) || !CanTransitionPayment(PaymentFailed, PaymentPaid) {
		t.Fatalf("expected pending/failed -> paid")
	}
	if !CanTransitionPayment(PaymentPending, PaymentFailed) {
		t.Fatalf("expected pending -> failed")
	}
	for _, to := range []PaymentStatus{PaymentPending, PaymentFailed, PaymentPaid} {
		if CanTransitionPayment(PaymentPaid, to) {
			t.Fatalf("paid must be absorbing, got paid -> %s", to)
		}
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Analysis{Status: StatusExtracting, StatusChangedAt: now.Add(-11 * time.Minute)}
	if !IsStale(a, now, DefaultStaleAfter) {
		t.Fatalf("expected stale after 11 minutes")
	}
	a.StatusChangedAt = now.Add(-9 * time.Minute)
	if IsStale(a, now, DefaultStaleAfter) {
		t.Fatalf("expected fresh after 9 minutes")
	}
	a = Analysis{Status: StatusFailed, StatusChangedAt: now.Add(-time.Hour)}
	if IsStale(a, now, DefaultStaleAfter) {
		t.Fatalf("terminal analyses are never stale")
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'x'
	}
	got := TruncateErrorMessage("line1\n" + string(long))
	if len(got) != MaxErrorMessageLen {
		t.Fatalf("expected %d chars, got %d", MaxErrorMessageLen, len(got))
	}
	if got[:6] != "line1 " {
		t.Fatalf("expected newlines flattened, got %q", got[:6])
	}
}

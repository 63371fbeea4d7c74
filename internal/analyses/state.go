package analyses

import "time"

// DefaultStaleAfter is how long an in-flight analysis may sit unchanged before it can be reset.
const DefaultStaleAfter = 10 * time.Minute

var transitions = map[Status][]Status{
	StatusPending:    {StatusExtracting, StatusFailed},
	StatusExtracting: {StatusAnalyzing, StatusFailed, StatusPending},
	StatusAnalyzing:  {StatusSaving, StatusFailed, StatusPending},
	StatusSaving:     {StatusCompleted, StatusFailed, StatusPending},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether status may move from one value to another.
// In-flight -> pending is only legal for stale runs; see Repo.ResetStale.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether a pipeline run currently owns the analysis.
func (s Status) InFlight() bool {
	switch s {
	case StatusExtracting, StatusAnalyzing, StatusSaving:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExtracting, StatusAnalyzing, StatusSaving, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsStale reports whether an in-flight analysis has not changed status for longer than after.
func IsStale(a Analysis, now time.Time, after time.Duration) bool {
	if !a.Status.InFlight() {
		return false
	}
	if after <= 0 {
		after = DefaultStaleAfter
	}
	return now.Sub(a.StatusChangedAt) > after
}

// CanTransitionPayment reports whether payment_status may move from one value to another.
// Paid is absorbing.
func CanTransitionPayment(from, to PaymentStatus) bool {
	switch from {
	case PaymentPending:
		return to == PaymentPaid || to == PaymentFailed
	case PaymentFailed:
		return to == PaymentPaid
	default:
		return false
	}
}

// StatusTransition formats a transition for logs.
func StatusTransition(from, to Status) string {
	return string(from) + "->" + string(to)
}

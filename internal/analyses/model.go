package analyses

import "time"

// Status is the pipeline progress of an analysis.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusAnalyzing  Status = "analyzing"
	StatusSaving     Status = "saving"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// PaymentStatus is the money progress of an analysis, independent of Status.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Analysis is one paid review analysis of a business.
type Analysis struct {
	ID                      string        `json:"id"`
	UserID                  string        `json:"userId"`
	BusinessID              string        `json:"businessId"`
	BusinessName            string        `json:"businessName"`
	BusinessURL             string        `json:"businessUrl"`
	Status                  Status        `json:"status"`
	PaymentStatus           PaymentStatus `json:"paymentStatus"`
	StripeCheckoutSessionID string        `json:"stripeCheckoutSessionId,omitempty"`
	PaidAt                  *time.Time    `json:"paidAt,omitempty"`
	ReviewCount             int           `json:"reviewCount"`
	AverageRating           float64       `json:"averageRating"`
	IsBaseline              bool          `json:"isBaseline"`
	ErrorCode               string        `json:"errorCode,omitempty"`
	ErrorMessage            string        `json:"errorMessage,omitempty"`
	RunID                   string        `json:"-"`
	RunStartedAt            *time.Time    `json:"-"`
	StatusChangedAt         time.Time     `json:"statusChangedAt"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
	CompletedAt             *time.Time    `json:"completedAt,omitempty"`
}

// Review is one extracted customer review.
type Review struct {
	Author      string  `json:"author"`
	Rating      float64 `json:"rating"`
	Text        string  `json:"text"`
	PublishedAt string  `json:"publishedAt,omitempty"`
}

// RootCause is one of the five ranked complaint themes.
type RootCause struct {
	Rank      int      `json:"rank"`
	Title     string   `json:"title"`
	Severity  string   `json:"severity"`
	Frequency string   `json:"frequency"`
	Bullets   []string `json:"bullets"`
	Quotes    []string `json:"quotes"`
}

// CoachingScript is a staff-facing script addressing a root cause.
type CoachingScript struct {
	Role   string `json:"role"`
	Focus  string `json:"focus"`
	Script string `json:"script"`
}

// ProcessChange is an operational change recommendation.
type ProcessChange struct {
	Area   string `json:"area"`
	Change string `json:"change"`
	Impact string `json:"impact"`
}

// BacklogTask is a task scheduled into week 1-4 of the action plan.
type BacklogTask struct {
	Week  int    `json:"week"`
	Task  string `json:"task"`
	Owner string `json:"owner,omitempty"`
}

// Results are the child rows written once when an analysis is saved.
type Results struct {
	Reviews         []Review         `json:"reviews"`
	RootCauses      []RootCause      `json:"rootCauses"`
	CoachingScripts []CoachingScript `json:"coachingScripts"`
	ProcessChanges  []ProcessChange  `json:"processChanges"`
	BacklogTasks    []BacklogTask    `json:"backlogTasks"`
}

// Completion carries the fields refreshed when an analysis completes.
type Completion struct {
	ReviewCount   int
	AverageRating float64
}

// Failure is a classified pipeline failure persisted on the row.
type Failure struct {
	Code    string
	Message string
}

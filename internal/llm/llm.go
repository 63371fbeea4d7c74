package llm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"servicesift-backend/internal/analyses"
)

//go:embed prompts/review_analysis.txt
var systemPrompt string

// RootCauseCount is the number of ranked root causes a report carries.
const RootCauseCount = 5

// maxPromptReviews bounds the reviews sent to the model.
const maxPromptReviews = 200

// ErrInvalidReport is returned when model output does not match the report schema.
var ErrInvalidReport = errors.New("analysis report failed validation")

// Input carries what the model needs to analyze a business.
type Input struct {
	BusinessName string
	Reviews      []analyses.Review
}

// Report is the structured model output.
type Report struct {
	RootCauses      []analyses.RootCause      `json:"rootCauses"`
	CoachingScripts []analyses.CoachingScript `json:"coachingScripts"`
	ProcessChanges  []analyses.ProcessChange  `json:"processChanges"`
	BacklogTasks    []analyses.BacklogTask    `json:"backlogTasks"`
}

// Analyzer turns reviews into a validated report.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (Report, error)
}

// SystemPrompt returns the fixed instructions sent with every analysis.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the reviews for the model.
func UserPrompt(in Input) string {
	var b strings.Builder
	name := strings.TrimSpace(in.BusinessName)
	if name == "" {
		name = "the business"
	}
	fmt.Fprintf(&b, "Business: %s\n", name)
	reviews := in.Reviews
	if len(reviews) > maxPromptReviews {
		reviews = reviews[:maxPromptReviews]
	}
	fmt.Fprintf(&b, "Reviews (%d):\n", len(reviews))
	for i, rv := range reviews {
		text := strings.Join(strings.Fields(rv.Text), " ")
		fmt.Fprintf(&b, "%d. [%.1f stars] %s\n", i+1, rv.Rating, text)
	}
	return b.String()
}

// Validate checks the report against the fixed schema and sorts root causes by rank.
func Validate(r *Report) error {
	if len(r.RootCauses) != RootCauseCount {
		return fmt.Errorf("%w: expected %d root causes, got %d", ErrInvalidReport, RootCauseCount, len(r.RootCauses))
	}
	seen := make(map[int]bool, RootCauseCount)
	for _, rc := range r.RootCauses {
		if rc.Rank < 1 || rc.Rank > RootCauseCount {
			return fmt.Errorf("%w: root cause rank %d out of range", ErrInvalidReport, rc.Rank)
		}
		if seen[rc.Rank] {
			return fmt.Errorf("%w: duplicate root cause rank %d", ErrInvalidReport, rc.Rank)
		}
		seen[rc.Rank] = true
		if strings.TrimSpace(rc.Title) == "" {
			return fmt.Errorf("%w: root cause rank %d has no title", ErrInvalidReport, rc.Rank)
		}
	}
	for _, task := range r.BacklogTasks {
		if task.Week < 1 || task.Week > 4 {
			return fmt.Errorf("%w: backlog week %d out of range", ErrInvalidReport, task.Week)
		}
	}
	sortByRank(r.RootCauses)
	return nil
}

func sortByRank(causes []analyses.RootCause) {
	sort.SliceStable(causes, func(i, j int) bool { return causes[i].Rank < causes[j].Rank })
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
)

func reportJSON(ranks ...int) string {
	causes := make([]string, 0, len(ranks))
	for _, r := range ranks {
		causes = append(causes, fmt.Sprintf(`{"rank":%d,"title":"Cause %d","severity":"high","frequency":"often","bullets":["b"],"quotes":["q"]}`, r, r))
	}
	return `{"rootCauses":[` + strings.Join(causes, ",") + `],
		"coachingScripts":[{"role":"Front desk","focus":"Cause 1","script":"Greet every guest"}],
		"processChanges":[{"area":"Check-in","change":"Add kiosk","impact":"Shorter lines"}],
		"backlogTasks":[{"week":1,"task":"Order kiosk","owner":"Manager"},{"week":4,"task":"Review results"}]}`
}

func TestParseReportSortsByRank(t *testing.T) {
	r, err := ParseReport("```json\n" + reportJSON(3, 1, 5, 2, 4) + "\n```")
	require.NoError(t, err)
	require.Len(t, r.RootCauses, 5)
	for i, rc := range r.RootCauses {
		assert.Equal(t, i+1, rc.Rank)
	}
	assert.Equal(t, []string{"q"}, r.RootCauses[0].Quotes)
	assert.Len(t, r.BacklogTasks, 2)
}

func TestParseReportIgnoresProse(t *testing.T) {
	_, err := ParseReport("Here is the analysis:\n" + reportJSON(1, 2, 3, 4, 5) + "\nLet me know if you need more.")
	require.NoError(t, err)
}

func TestParseReportRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"four causes":    reportJSON(1, 2, 3, 4),
		"duplicate rank": reportJSON(1, 2, 3, 4, 4),
		"rank range":     reportJSON(1, 2, 3, 4, 6),
		"no json":        "I cannot help with that.",
	}
	for name, text := range cases {
		_, err := ParseReport(text)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrInvalidReport), "%s: %v", name, err)
	}
}

func TestValidateRejectsBacklogWeek(t *testing.T) {
	r := Report{BacklogTasks: []analyses.BacklogTask{{Week: 5, Task: "Too late"}}}
	for i := 1; i <= RootCauseCount; i++ {
		r.RootCauses = append(r.RootCauses, analyses.RootCause{Rank: i, Title: "t"})
	}
	assert.ErrorIs(t, Validate(&r), ErrInvalidReport)
}

func TestUserPromptListsReviews(t *testing.T) {
	p := UserPrompt(Input{BusinessName: "Acme Gym", Reviews: []analyses.Review{{Rating: 2, Text: "Long\nwait"}}})
	assert.Contains(t, p, "Business: Acme Gym")
	assert.Contains(t, p, "1. [2.0 stars] Long wait")
	assert.NotEmpty(t, SystemPrompt())
}

func TestPlaceholderAnalyzerIsNotConfigured(t *testing.T) {
	_, err := PlaceholderAnalyzer{}.Analyze(context.Background(), Input{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

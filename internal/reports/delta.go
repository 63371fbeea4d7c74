package reports

import (
	"math"
	"sort"
	"strings"

	"servicesift-backend/internal/analyses"
)

// ComputeDelta compares a completed follow-up analysis against the baseline.
// Root causes are matched by case-insensitive title.
func ComputeDelta(baseline analyses.Analysis, baselineCauses []analyses.RootCause, current analyses.Analysis, currentCauses []analyses.RootCause) Delta {
	before := causeTitles(baselineCauses)
	after := causeTitles(currentCauses)

	d := Delta{
		BusinessID:         current.BusinessID,
		BaselineAnalysisID: baseline.ID,
		AnalysisID:         current.ID,
		ReviewCountDelta:   current.ReviewCount - baseline.ReviewCount,
		AverageRatingDelta: math.Round((current.AverageRating-baseline.AverageRating)*100) / 100,
		ResolvedCauses:     []string{},
		NewCauses:          []string{},
		PersistingCauses:   []string{},
	}
	for key, title := range before {
		if _, ok := after[key]; ok {
			d.PersistingCauses = append(d.PersistingCauses, title)
		} else {
			d.ResolvedCauses = append(d.ResolvedCauses, title)
		}
	}
	for key, title := range after {
		if _, ok := before[key]; !ok {
			d.NewCauses = append(d.NewCauses, title)
		}
	}
	sort.Strings(d.ResolvedCauses)
	sort.Strings(d.NewCauses)
	sort.Strings(d.PersistingCauses)
	return d
}

func causeTitles(causes []analyses.RootCause) map[string]string {
	out := make(map[string]string, len(causes))
	for _, rc := range causes {
		title := strings.TrimSpace(rc.Title)
		if title == "" {
			continue
		}
		out[strings.ToLower(title)] = title
	}
	return out
}

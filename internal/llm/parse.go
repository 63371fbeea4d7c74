package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotConfigured is returned by the placeholder analyzer.
var ErrNotConfigured = errors.New("AI analysis is not configured")

// ParseReport decodes model text into a validated Report.
// Markdown fences and prose around the JSON object are ignored.
func ParseReport(text string) (Report, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return Report{}, fmt.Errorf("%w: no JSON object in model output", ErrInvalidReport)
	}
	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Report{}, eris.Wrap(err, "decode model output")
	}
	if err := Validate(&r); err != nil {
		return Report{}, err
	}
	return r, nil
}

func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// PlaceholderAnalyzer is used when no model provider is configured.
type PlaceholderAnalyzer struct{}

// Analyze returns ErrNotConfigured.
func (PlaceholderAnalyzer) Analyze(context.Context, Input) (Report, error) {
	return Report{}, ErrNotConfigured
}

package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"servicesift-backend/internal/llm"
	"servicesift-backend/internal/shared/telemetry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5-20250929"

const defaultMaxTokens = 8192

// Analyzer implements llm.Analyzer with the Anthropic Messages API.
type Analyzer struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// New constructs an Analyzer. Extra request options are appended after the API key.
func New(apiKey, model string, opts ...option.RequestOption) (*Analyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, eris.New("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Analyzer{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
	}, nil
}

// Analyze sends the reviews to the model and validates the JSON report it returns.
func (a *Analyzer) Analyze(ctx context.Context, in llm.Input) (llm.Report, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []sdk.TextBlockParam{{Text: llm.SystemPrompt()}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(llm.UserPrompt(in))),
		},
		Temperature: sdk.Float(0),
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Report{}, eris.Wrap(err, "anthropic: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	telemetry.Info("llm.response", map[string]any{
		"model":         string(msg.Model),
		"stop_reason":   string(msg.StopReason),
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
		"review_count":  len(in.Reviews),
	})
	if strings.TrimSpace(text.String()) == "" {
		return llm.Report{}, eris.New("anthropic: empty response")
	}
	return llm.ParseReport(text.String())
}

var _ llm.Analyzer = (*Analyzer)(nil)

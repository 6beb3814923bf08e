// Package enrich turns a scored analysis into richer operator-facing
// narrative by asking the Anthropic API to elaborate on the identified root
// cause. Enrichment is strictly additive: callers fall back to the original
// analysis whenever it fails.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/devkdas/causeway/internal/models"
)

const systemPrompt = "You are an incident analyst. Given an incident summary and a correlated change event, " +
	"reply with a single JSON object with string field root_cause, string field impact_assessment, " +
	"and array-of-strings field suggested_actions. Be specific and brief. No prose outside the JSON."

// Config tunes the Anthropic enricher.
type Config struct {
	Model     string
	MaxTokens int
}

// DefaultConfig returns the enricher defaults.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
	}
}

// AnthropicEnricher elaborates analyses through the Anthropic Messages API.
type AnthropicEnricher struct {
	client anthropic.Client
	config Config
	logger *slog.Logger
}

// NewAnthropicEnricher creates an enricher. An empty apiKey defers to the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropicEnricher(apiKey string, cfg Config, logger *slog.Logger) *AnthropicEnricher {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicEnricher{
		client: anthropic.NewClient(opts...),
		config: cfg,
		logger: logger,
	}
}

// Elaborate implements lifecycle.Enricher.
func (e *AnthropicEnricher) Elaborate(ctx context.Context, incident models.Incident, analysis models.Analysis) (models.Analysis, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.config.Model),
		MaxTokens: int64(e.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(incident, analysis))),
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var textParts []string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			textParts = append(textParts, resp.Content[i].Text)
		}
	}

	enriched, err := parseElaboration(strings.Join(textParts, ""), analysis)
	if err != nil {
		return models.Analysis{}, err
	}
	e.logger.Debug("analysis enriched",
		slog.String("incident_id", incident.ID),
		slog.Int("input_tokens", int(resp.Usage.InputTokens)),
		slog.Int("output_tokens", int(resp.Usage.OutputTokens)),
	)
	return enriched, nil
}

// buildPrompt packs the incident and analysis into the user message.
func buildPrompt(incident models.Incident, analysis models.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident: %s\n", incident.Title)
	fmt.Fprintf(&b, "Severity: %s\n", incident.Severity)
	fmt.Fprintf(&b, "Components: %s\n", strings.Join(incident.Components(), ", "))
	fmt.Fprintf(&b, "Signal count: %d\n", len(incident.Signals))
	for _, sig := range incident.Signals {
		fmt.Fprintf(&b, "- [%s] %s on %s: %s\n", sig.Severity, sig.Type, sig.Component, sig.Description)
	}
	fmt.Fprintf(&b, "Correlated change: %s\n", analysis.RootCause)
	fmt.Fprintf(&b, "Confidence: %.2f\n", analysis.Confidence)
	return b.String()
}

type elaboration struct {
	RootCause        string   `json:"root_cause"`
	ImpactAssessment string   `json:"impact_assessment"`
	SuggestedActions []string `json:"suggested_actions"`
}

// parseElaboration decodes the model reply, tolerating surrounding prose by
// extracting the outermost JSON object.
func parseElaboration(text string, base models.Analysis) (models.Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return models.Analysis{}, fmt.Errorf("no JSON object in enrichment reply")
	}

	var parsed elaboration
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return models.Analysis{}, fmt.Errorf("decode enrichment reply: %w", err)
	}

	out := base
	if parsed.RootCause != "" {
		out.RootCause = parsed.RootCause
	}
	if parsed.ImpactAssessment != "" {
		out.ImpactAssessment = parsed.ImpactAssessment
	}
	if len(parsed.SuggestedActions) > 0 {
		out.SuggestedActions = parsed.SuggestedActions
	}
	return out, nil
}

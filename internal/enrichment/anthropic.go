package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/feedpulse/feedpulse/internal/models"
)

// AnthropicProvider summarizes items through the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	logger    *slog.Logger
	maxTokens int64
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(apiKey, model string, logger *slog.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		logger:    logger,
		maxTokens: 1000,
	}
}

// Name identifies the provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Summarize sends the item to the Messages API and parses the JSON reply.
func (p *AnthropicProvider) Summarize(ctx context.Context, item models.FeedItem) (*Enrichment, error) {
	start := time.Now()

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(item))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from model %s", p.model)
	}

	enr, err := parseEnrichment(text.String())
	if err != nil {
		return nil, err
	}
	enr.Model = p.model
	enr.ProcessingTimeMs = time.Since(start).Milliseconds()
	return enr, nil
}

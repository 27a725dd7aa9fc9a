package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/feedpulse/feedpulse/internal/models"
)

// OpenAIProvider summarizes items through the OpenAI chat completion API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger

	maxTokens  int
	maxRetries int
	baseDelay  time.Duration
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(apiKey, model string, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		model:      model,
		logger:     logger,
		maxTokens:  1000,
		maxRetries: 3,
		baseDelay:  time.Second,
	}
}

// Name identifies the provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Summarize calls the chat API in JSON mode and parses the reply. Rate-limit
// responses are retried with exponential backoff and jitter; other failures
// surface immediately.
func (p *OpenAIProvider) Summarize(ctx context.Context, item models.FeedItem) (*Enrichment, error) {
	request := openai.ChatCompletionRequest{
		Model:               p.model,
		MaxCompletionTokens: p.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(item)},
		},
	}

	start := time.Now()

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, request)
		if err == nil {
			break
		}
		if !isRateLimit(err) || attempt == p.maxRetries-1 {
			break
		}

		delay := p.baseDelay*time.Duration(1<<uint(attempt)) +
			time.Duration(rand.Intn(500))*time.Millisecond
		p.logger.Warn("openai rate limited, retrying",
			"url", item.URL,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned from model %s", p.model)
	}

	enr, err := parseEnrichment(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	enr.Model = p.model
	enr.ProcessingTimeMs = time.Since(start).Milliseconds()
	return enr, nil
}

func isRateLimit(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "Too Many Requests") ||
		strings.Contains(msg, "Rate limit")
}

package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ModelSonnet is the default model for deep-reasoning analysis
const ModelSonnet = "claude-sonnet-4-5-20250929"

// RawResponse is what came back across the reasoning boundary, before parsing
type RawResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64 // prompt tokens served from the provider's cache
}

// ReasoningClient is the boundary to the external reasoning service
type ReasoningClient interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*RawResponse, error)
}

// AnthropicClient is the ReasoningClient backed by the Anthropic Messages API
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a client. An empty apiKey falls back to ANTHROPIC_API_KEY.
func NewAnthropicClient(apiKey, model string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if model == "" {
		model = ModelSonnet
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{
		client:    &client,
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Analyze sends the cached instructions and the rendered prompt, and concatenates the text blocks of the reply
func (c *AnthropicClient) Analyze(ctx context.Context, req *AnalysisRequest) (*RawResponse, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text:         analysisInstructions,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &RawResponse{
		Text:         text,
		Model:        string(resp.Model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CachedTokens: resp.Usage.CacheReadInputTokens,
	}, nil
}

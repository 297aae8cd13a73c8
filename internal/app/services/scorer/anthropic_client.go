package scorer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/echelon-labs/verify/internal/app/apperr"
)

// AnthropicClient adapts the Anthropic SDK's Messages API to the
// ModelClient interface the Scorer drives.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient constructs a client against the given model name
// (e.g. "claude-sonnet-4-6"), authenticating with apiKey.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete issues a single-turn message and returns its text content.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.CodeScorerAPI, "anthropic messages.new", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", apperr.New(apperr.CodeScorerAPI, fmt.Sprintf("anthropic response carried no text block (stop_reason=%s)", msg.StopReason))
}

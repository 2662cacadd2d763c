package meetingpod

import (
	"context"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

const defaultAnthropicMaxTokens = 4096

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// AnthropicClient sends the assembled prompt to the Anthropic Messages API.
type AnthropicClient struct {
	model       string
	temperature float64
	maxTokens   int64
	messages    anthropicMessages
}

var _ LLM = &AnthropicClient{}

func NewAnthropicClient(config *LLMConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	client := anthropicsdk.NewClient(opts...)
	return &AnthropicClient{
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   maxTokens,
		messages:    &client.Messages,
	}
}

func (c *AnthropicClient) Generate(ctx context.Context, prompt string, _ []Turn) (*Generation, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
		Temperature: param.NewOpt(c.temperature),
	}
	if sessionID, ok := SessionIDFrom(ctx); ok {
		params.Metadata = anthropicsdk.MetadataParam{
			UserID: param.NewOpt(sessionID),
		}
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyCompletion
	}
	model := string(msg.Model)
	if model == "" {
		model = c.model
	}
	return &Generation{
		Text:  text.String(),
		Model: model,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

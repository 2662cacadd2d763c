package meetingpod

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Define a custom type for context keys
type ContextKey string

// WithSessionID tags ctx with the chat session so provider requests can carry it.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKey("sessionID"), sessionID)
}

// SessionIDFrom returns the session tagged by WithSessionID, if any.
func SessionIDFrom(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(ContextKey("sessionID")).(string)
	return sessionID, ok && sessionID != ""
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig selects and parameterizes an LLM provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	MaxRetries  int
	// ExtraBody adds top-level fields to every OpenAI-compatible request, for proxies that read
	// their own keys (customer identifiers, routing tags).
	ExtraBody map[string]string
}

// NewLLMClient builds the client for the configured provider. An empty provider means OpenAI,
// which also covers OpenAI-compatible endpoints through BaseURL.
func (config *LLMConfig) NewLLMClient() (LLM, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrAPIKeyMissing
	}
	switch strings.ToLower(config.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderAnthropic:
		return NewAnthropicClient(config), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrProviderNotSupported, config.Provider)
	}
}

type openaiChatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient is a wrapper around the openai client, just to inject the session metadata and
// flatten the completion into a Generation.
type OpenAIClient struct {
	model       string
	temperature float64
	maxTokens   int64
	extraBody   map[string]string
	completions openaiChatCompletions
}

var _ LLM = &OpenAIClient{}

func NewOpenAIClient(config *LLMConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		extraBody:   config.ExtraBody,
		completions: &client.Chat.Completions,
	}
}

func (c *OpenAIClient) extraBodyOpts() []option.RequestOption {
	keys := make([]string, 0, len(c.extraBody))
	for key := range c.extraBody {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	opts := make([]option.RequestOption, 0, len(keys))
	for _, key := range keys {
		opts = append(opts, option.WithJSONSet(key, c.extraBody[key]))
	}
	return opts
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, _ []Turn) (*Generation, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	if sessionID, ok := SessionIDFrom(ctx); ok {
		params.User = openai.String(sessionID)
	}

	completion, err := c.completions.New(ctx, params, c.extraBodyOpts()...)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, ErrEmptyCompletion
	}
	model := completion.Model
	if model == "" {
		model = c.model
	}
	return &Generation{
		Text:  completion.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateSchema reflects the JSON Schema of T with every definition inlined.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

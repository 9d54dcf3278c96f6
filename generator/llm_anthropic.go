package generator

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicLLM implements TextGenerator on the Anthropic Messages API.
type AnthropicLLM struct {
	model     string
	maxTokens int64
	client    anthropic.Client
}

func NewAnthropicLLMFromConfig(cfg *LLMSettings) (*AnthropicLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key missing; provide api_key or ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		// the Messages API requires max_tokens
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicLLM{
		model:     cfg.Model,
		maxTokens: maxTokens,
		client:    anthropic.NewClient(opts...),
	}, nil
}

func (a *AnthropicLLM) Model() string { return a.model }

func (a *AnthropicLLM) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Completion{
		Text: text.String(),
		Usage: Usage{
			PromptUnits:     resp.Usage.InputTokens,
			CompletionUnits: resp.Usage.OutputTokens,
		},
		Reported: resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0,
	}, nil
}

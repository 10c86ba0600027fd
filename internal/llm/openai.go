package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/colloquy/pkg/schema"
)

// OpenAIConfig holds connection settings for the OpenAI completer.
// BaseURL is optional and supports Azure or compatible APIs.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAICompleter implements Completer against the OpenAI chat API.
type OpenAICompleter struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAICompleter creates an OpenAI-backed completer.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"openai api key not provided (set COLLOQUY_OPENAI_API_KEY)")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAICompleter{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements Completer.
func (c *OpenAICompleter) Name() string { return "openai" }

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "no model specified")
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLLM,
			"openai completion failed: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"model": model})
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeLLM, "openai returned no choices").
			WithDetails(map[string]any{"model": model})
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Close implements Completer.
func (c *OpenAICompleter) Close() error { return nil }

// Package llm abstracts chat completion providers behind the Completer
// interface so prompt steps can run against OpenAI-compatible backends in
// production and a scripted fake in tests.
package llm

import "context"

// ChatMessage is one turn of conversation sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries a rendered prompt plus the step's resolved
// run configuration.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []string      `json:"tools,omitempty"`
	Resources   []string      `json:"resources,omitempty"`
}

// CompletionResponse is the model's reply with usage accounting.
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Completer produces chat completions. Implementations must be safe for
// concurrent use; dialogs running in parallel share one instance.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Close() error
}

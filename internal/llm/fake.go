package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/rendis/colloquy/pkg/schema"
)

// FakeCompleter is a deterministic in-memory completer for development and
// tests. Scripted responses are consumed in FIFO order; once the script is
// exhausted it echoes the last user message. Errors can be injected to
// exercise retry and fallback paths.
type FakeCompleter struct {
	mu        sync.Mutex
	script    []string
	errScript []error
	calls     []CompletionRequest
}

// NewFakeCompleter creates a fake completer with an optional response script.
func NewFakeCompleter(script ...string) *FakeCompleter {
	return &FakeCompleter{script: script}
}

// FailNext queues an error to be returned before any scripted response.
func (c *FakeCompleter) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errScript = append(c.errScript, err)
}

// Calls returns a copy of every request received, in order.
func (c *FakeCompleter) Calls() []CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CompletionRequest(nil), c.calls...)
}

// Name implements Completer.
func (c *FakeCompleter) Name() string { return "fake" }

// Complete implements Completer.
func (c *FakeCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeLLM, "completion cancelled").WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)

	if len(c.errScript) > 0 {
		err := c.errScript[0]
		c.errScript = c.errScript[1:]
		return nil, schema.NewErrorf(schema.ErrCodeLLM,
			"fake completion failed: %s", err.Error()).WithCause(err)
	}

	var text string
	if len(c.script) > 0 {
		text = c.script[0]
		c.script = c.script[1:]
	} else {
		text = fmt.Sprintf("echo: %s", lastUserContent(req.Messages))
	}

	model := req.Model
	if model == "" {
		model = "fake-model"
	}
	return &CompletionResponse{
		Text:         text,
		Model:        model,
		FinishReason: "stop",
		InputTokens:  promptTokens(req.Messages),
		OutputTokens: len(text) / 4,
	}, nil
}

// Close implements Completer.
func (c *FakeCompleter) Close() error { return nil }

func lastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

func promptTokens(messages []ChatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content) / 4
	}
	return n
}

package ollama

import (
	"context"
	"fmt"
)

// ChatClient sends single-turn prompts to an Ollama chat model.
type ChatClient struct {
	t     transport
	model string
}

// NewChatClient creates an Ollama chat client.
func NewChatClient(baseURL, model string, opts ...Option) *ChatClient {
	return &ChatClient{t: newTransport(baseURL, opts), model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

// Complete returns the model's reply to prompt.
func (c *ChatClient) Complete(ctx context.Context, prompt string, deterministic bool) (string, error) {
	req := chatReq{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if deterministic {
		req.Options = map[string]any{"temperature": 0}
	}
	var out chatResp
	if err := c.t.post(ctx, "/api/chat", req, &out); err != nil {
		return "", fmt.Errorf("ollama: chat with %s: %w", c.model, err)
	}
	return out.Message.Content, nil
}

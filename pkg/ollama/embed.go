package ollama

import (
	"context"
	"errors"
	"fmt"
)

// EmbedClient embeds text with an Ollama model.
type EmbedClient struct {
	t     transport
	model string
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string, opts ...Option) *EmbedClient {
	return &EmbedClient{t: newTransport(baseURL, opts), model: model}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding of text, narrowed to float32 for the index.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var res embedResp
	if err := c.t.post(ctx, "/api/embeddings", embedReq{Model: c.model, Prompt: text}, &res); err != nil {
		return nil, fmt.Errorf("ollama: embed with %s: %w", c.model, err)
	}
	if len(res.Embedding) == 0 {
		return nil, errors.New("ollama: embed: empty embedding")
	}
	vec := make([]float32, len(res.Embedding))
	for i, f := range res.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}

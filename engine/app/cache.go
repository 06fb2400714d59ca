package app

import (
	"context"

	"github.com/WessleyAI/finqa/engine/qa"
	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedEmbedder memoises query embeddings by exact question text. Failed
// calls are not cached.
type cachedEmbedder struct {
	cache *lru.Cache[string, []float32]
	next  qa.Embedder
}

func newCachedEmbedder(size int, next qa.Embedder) qa.Embedder {
	if size <= 0 {
		return next
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return next
	}
	return &cachedEmbedder{cache: c, next: next}
}

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

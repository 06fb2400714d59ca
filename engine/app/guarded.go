package app

import (
	"context"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/engine/qa"
	"github.com/WessleyAI/finqa/pkg/resilience"
)

type guardedEmbedder struct {
	b    *resilience.Breaker
	next qa.Embedder
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.Do(ctx, g.b, func(ctx context.Context) ([]float32, error) {
		return g.next.Embed(ctx, text)
	})
}

type guardedCompleter struct {
	b    *resilience.Breaker
	next qa.Completer
}

func (g *guardedCompleter) Complete(ctx context.Context, prompt string, deterministic bool) (string, error) {
	return resilience.Do(ctx, g.b, func(ctx context.Context) (string, error) {
		return g.next.Complete(ctx, prompt, deterministic)
	})
}

type guardedIndex struct {
	b    *resilience.Breaker
	next Index
}

func (g *guardedIndex) Query(ctx context.Context, vector []float32, k int) ([]domain.Match, error) {
	return resilience.Do(ctx, g.b, func(ctx context.Context) ([]domain.Match, error) {
		return g.next.Query(ctx, vector, k)
	})
}

func (g *guardedIndex) Count(ctx context.Context) (int, error) {
	return resilience.Do(ctx, g.b, g.next.Count)
}

func (g *guardedIndex) Insert(ctx context.Context, vectors []domain.IndexedVector) error {
	return g.b.Call(ctx, func(ctx context.Context) error {
		return g.next.Insert(ctx, vectors)
	})
}

func (g *guardedIndex) EnsureCollection(ctx context.Context, dims int) error {
	return g.b.Call(ctx, func(ctx context.Context) error {
		return g.next.EnsureCollection(ctx, dims)
	})
}

package app

import (
	"context"
	"fmt"

	"github.com/WessleyAI/finqa/engine/corpus"
	"github.com/WessleyAI/finqa/engine/domain"
)

// Ingest ensures the collection exists and populates it from the corpus
// file at path, or the configured path when empty.
func (a *App) Ingest(ctx context.Context, path string) (corpus.Report, error) {
	if path == "" {
		path = a.cfg.Corpus.Path
	}
	entries, err := corpus.ReadFile(path)
	if err != nil {
		a.metrics.ObserveIngest("failed", 0)
		return corpus.Report{}, err
	}
	return a.IngestEntries(ctx, entries)
}

// IngestEntries is Ingest over an already-parsed corpus.
func (a *App) IngestEntries(ctx context.Context, entries []domain.CorpusEntry) (corpus.Report, error) {
	if err := a.index.EnsureCollection(ctx, a.cfg.Qdrant.Dims); err != nil {
		a.metrics.ObserveIngest("failed", 0)
		return corpus.Report{}, domain.NewServiceError("app: ensure collection", domain.ErrIndexUnavailable, err)
	}

	rep, err := a.loader.Load(ctx, entries)
	if err != nil {
		a.metrics.ObserveIngest("failed", rep.Inserted)
		return rep, fmt.Errorf("app: ingest: %w", err)
	}
	result := "inserted"
	if rep.Skipped {
		result = "skipped"
	}
	a.metrics.ObserveIngest(result, rep.Inserted)
	if _, err := a.Status(ctx); err != nil {
		a.logger.Warn("post-ingest count", "error", err)
	}
	return rep, nil
}

// Status returns the number of vectors in the index.
func (a *App) Status(ctx context.Context) (int, error) {
	n, err := a.index.Count(ctx)
	if err != nil {
		return 0, err
	}
	a.metrics.SetIndexSize(n)
	return n, nil
}

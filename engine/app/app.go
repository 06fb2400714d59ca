// Package app assembles the answering service from configuration: provider
// clients, the similarity index, the QA engine, the corpus loader and the
// optional Redis and NATS integrations. An App is built once at process
// start and shared by every request handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/finqa/engine/corpus"
	"github.com/WessleyAI/finqa/engine/qa"
	"github.com/WessleyAI/finqa/engine/semantic"
	"github.com/WessleyAI/finqa/pkg/config"
	"github.com/WessleyAI/finqa/pkg/metrics"
	"github.com/WessleyAI/finqa/pkg/ollama"
	"github.com/WessleyAI/finqa/pkg/openai"
	"github.com/WessleyAI/finqa/pkg/resilience"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
)

// Index is everything the service needs from the similarity index.
type Index interface {
	qa.Retriever
	corpus.Index
	EnsureCollection(ctx context.Context, dims int) error
}

// Components are the external collaborators an App is assembled from.
type Components struct {
	Embedder  qa.Embedder
	Completer qa.Completer
	Index     Index
	// Optional.
	Lock   corpus.Locker
	Ledger corpus.Ledger
	NATS   *nats.Conn
}

// App is the application context.
type App struct {
	cfg     *config.Config
	engine  *qa.Engine
	index   Index
	loader  *corpus.Loader
	metrics *metrics.Metrics
	nc      *nats.Conn
	logger  *slog.Logger
	closers []func() error
}

// Assemble builds an App over already-constructed components. Outbound
// model and index calls are wrapped in circuit breakers.
func Assemble(cfg *config.Config, c Components, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	bopts := resilience.BreakerOpts{
		FailThreshold: cfg.Breaker.MaxFailures,
		Timeout:       cfg.Breaker.Timeout,
	}
	embedBreaker := resilience.NewBreaker("embed", bopts, logger)
	chatBreaker := resilience.NewBreaker("chat", bopts, logger)
	indexBreaker := resilience.NewBreaker("index", bopts, logger)

	index := &guardedIndex{b: indexBreaker, next: c.Index}
	completer := &guardedCompleter{b: chatBreaker, next: c.Completer}

	engine := qa.New(qa.Deps{
		Embedder:   newCachedEmbedder(cfg.QA.EmbedCacheSize, &guardedEmbedder{b: embedBreaker, next: c.Embedder}),
		Index:      index,
		Classifier: completer,
		Generator:  completer,
	}, qa.Options{
		TopK:            cfg.QA.TopK,
		CallTimeout:     cfg.QA.CallTimeout,
		UnknownLanguage: qa.UnknownLanguagePolicy(cfg.QA.UnknownLanguage),
	}, logger.With("component", "qa"))

	// Ingestion retries on its own schedule; the query path breaker would
	// trip on the first burst of retries.
	loader := corpus.NewLoader(index, c.Embedder, corpus.Options{
		BatchSize:        cfg.Corpus.BatchSize,
		RetryAttempts:    cfg.Corpus.RetryAttempts,
		Limiter:          resilience.NewLimiter(cfg.Corpus.EmbedRPS, cfg.Corpus.EmbedBurst),
		Lock:             c.Lock,
		Ledger:           c.Ledger,
		ReingestOnChange: cfg.Corpus.ReingestOnChange,
	}, logger.With("component", "corpus"))

	return &App{
		cfg:     cfg,
		engine:  engine,
		index:   index,
		loader:  loader,
		metrics: metrics.New(),
		nc:      c.NATS,
		logger:  logger,
	}
}

// New connects to every collaborator named in cfg and assembles an App.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func() error
	fail := func(err error) (*App, error) {
		return nil, errors.Join(err, closeAll(closers))
	}

	var c Components
	var err error
	if c.Embedder, err = newEmbedder(cfg); err != nil {
		return fail(err)
	}
	if c.Completer, err = newCompleter(cfg); err != nil {
		return fail(err)
	}

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)
	c.Index = store

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb.Close)
		c.Lock = corpus.NewRedisLock(rdb, corpus.LockKey, cfg.Redis.LockTTL)
		c.Ledger = corpus.NewRedisLedger(rdb, corpus.HashKey)
		logger.Info("redis ingest coordination enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("finqa"))
		if err != nil {
			return fail(fmt.Errorf("app: connect nats %s: %w", cfg.NATS.URL, err))
		}
		closers = append(closers, func() error { nc.Close(); return nil })
		c.NATS = nc
		logger.Info("nats enabled", "url", cfg.NATS.URL)
	}

	a := Assemble(cfg, c, logger)
	a.closers = closers
	return a, nil
}

func newEmbedder(cfg *config.Config) (qa.Embedder, error) {
	switch cfg.Provider.Embed {
	case config.ProviderOpenAI:
		return newOpenAI(cfg), nil
	case config.ProviderOllama:
		return ollama.NewEmbedClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel), nil
	default:
		return nil, fmt.Errorf("app: unknown embed provider %q", cfg.Provider.Embed)
	}
}

func newCompleter(cfg *config.Config) (qa.Completer, error) {
	switch cfg.Provider.Chat {
	case config.ProviderOpenAI:
		return newOpenAI(cfg), nil
	case config.ProviderOllama:
		return ollama.NewChatClient(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel), nil
	default:
		return nil, fmt.Errorf("app: unknown chat provider %q", cfg.Provider.Chat)
	}
}

func newOpenAI(cfg *config.Config) *openai.Client {
	return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.EmbedModel, cfg.OpenAI.ChatModel,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout}),
	)
}

// Metrics returns the App's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Close releases every connection opened by New.
func (a *App) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}

// closeAll runs closers in reverse order and joins their errors.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

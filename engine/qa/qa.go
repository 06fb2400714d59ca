// Package qa is the question-answering decision engine. It guards against
// account identifiers, retrieves the nearest stored questions, returns the
// stored answer in the matched language when the neighbour is close enough,
// and otherwise gates on a finance classifier before generating an answer
// from the retrieved context.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/finqa/engine/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever returns the k nearest stored questions, ascending by distance.
type Retriever interface {
	Query(ctx context.Context, vector []float32, k int) ([]domain.Match, error)
}

// Completer is a text-generation endpoint. Deterministic requests run at
// temperature zero.
type Completer interface {
	Complete(ctx context.Context, prompt string, deterministic bool) (string, error)
}

// UnknownLanguagePolicy decides what happens when a matched neighbour carries
// a language tag outside the known set.
type UnknownLanguagePolicy string

const (
	// UnknownLanguageError fails the request with domain.ErrDataIntegrity.
	UnknownLanguageError UnknownLanguagePolicy = "error"
	// UnknownLanguageFallthrough continues to the domain gate as if there
	// were no match.
	UnknownLanguageFallthrough UnknownLanguagePolicy = "fallthrough"
)

// Options configures the engine.
type Options struct {
	TopK            int
	CallTimeout     time.Duration
	UnknownLanguage UnknownLanguagePolicy
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:            2,
		CallTimeout:     30 * time.Second,
		UnknownLanguage: UnknownLanguageError,
	}
}

// Deps are the engine's external collaborators.
type Deps struct {
	Embedder   Embedder
	Index      Retriever
	Classifier Completer
	Generator  Completer
}

// Engine answers finance questions. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	embed      Embedder
	index      Retriever
	classifier Completer
	generator  Completer
	opts       Options
	logger     *slog.Logger
}

// New creates an Engine.
func New(deps Deps, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.UnknownLanguage == "" {
		opts.UnknownLanguage = def.UnknownLanguage
	}
	return &Engine{
		embed:      deps.Embedder,
		index:      deps.Index,
		classifier: deps.Classifier,
		generator:  deps.Generator,
		opts:       opts,
		logger:     logger,
	}
}

// IsMatch applies the threshold rule: a neighbour matches when its distance
// is at most 1 - threshold. Higher thresholds are stricter.
func IsMatch(distance, threshold float64) bool {
	return distance <= 1-threshold
}

// Answer runs the decision pipeline for one question.
func (e *Engine) Answer(ctx context.Context, question string, threshold float64) (domain.Answer, error) {
	ctx, span := otel.Tracer("engine/qa").Start(ctx, "qa.answer")
	defer span.End()

	ans, err := e.answer(ctx, question, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Answer{}, err
	}
	span.SetAttributes(
		attribute.String("qa.outcome", string(ans.Outcome)),
		attribute.Float64("qa.score", ans.Score),
	)
	return ans, nil
}

func (e *Engine) answer(ctx context.Context, question string, threshold float64) (domain.Answer, error) {
	// 1. Sensitive-data guard, before anything leaves the process.
	if containsFolioNumber(question) {
		e.logger.Info("qa: folio guard refused", "question_len", len(question))
		return domain.Answer{Text: MsgFolioRefusal, Outcome: domain.OutcomeGuardRefused}, nil
	}

	// 2. Embed and retrieve.
	vector, err := e.embedQuery(ctx, question)
	if err != nil {
		return domain.Answer{}, err
	}
	matches, err := e.retrieve(ctx, vector)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(matches) == 0 {
		e.logger.Info("qa: no neighbours returned")
		return domain.Answer{Text: MsgNoSimilar, Outcome: domain.OutcomeNoResults}, nil
	}

	// 3. Threshold decision on the nearest neighbour.
	top := matches[0]
	score := 1 - top.Distance
	e.logger.Debug("qa: nearest neighbour",
		"document", top.Document,
		"distance", top.Distance,
		"threshold", threshold,
		"max_distance", 1-threshold,
	)
	if IsMatch(top.Distance, threshold) {
		lang, ok := top.Language()
		if ok {
			e.logger.Info("qa: stored answer", "language", lang, "score", score)
			return domain.Answer{
				Text:     top.Answer(lang),
				Score:    score,
				Outcome:  domain.OutcomeMatched,
				Language: lang,
			}, nil
		}
		tag := top.Metadata[domain.MetaLanguage]
		if e.opts.UnknownLanguage != UnknownLanguageFallthrough {
			return domain.Answer{}, domain.NewServiceError("qa: select answer", domain.ErrDataIntegrity,
				fmt.Errorf("unknown language tag %q on %q", tag, top.Document))
		}
		e.logger.Warn("qa: unknown language tag, falling through", "tag", tag)
	}

	// 4. Domain gate.
	finance, err := e.classify(ctx, question)
	if err != nil {
		return domain.Answer{}, err
	}
	if !finance {
		e.logger.Info("qa: domain gate refused")
		return domain.Answer{Text: MsgDomainRefusal, Outcome: domain.OutcomeDomainRefused}, nil
	}

	// 5. Generated fallback. The score stays tied to the nearest neighbour.
	text, err := e.generate(ctx, question, matches)
	if err != nil {
		return domain.Answer{}, err
	}
	e.logger.Info("qa: generated answer", "score", score, "contexts", len(matches))
	return domain.Answer{Text: text, Score: score, Outcome: domain.OutcomeGenerated}, nil
}

func (e *Engine) embedQuery(ctx context.Context, question string) ([]float32, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	vector, err := e.embed.Embed(ctx, question)
	if err != nil {
		return nil, domain.NewServiceError("qa: embed query", domain.ErrEmbeddingService, err)
	}
	return vector, nil
}

func (e *Engine) retrieve(ctx context.Context, vector []float32) ([]domain.Match, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	matches, err := e.index.Query(ctx, vector, e.opts.TopK)
	if err != nil {
		return nil, domain.NewServiceError("qa: query index", domain.ErrIndexUnavailable, err)
	}
	return matches, nil
}

func (e *Engine) classify(ctx context.Context, question string) (bool, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	reply, err := e.classifier.Complete(ctx, classifierPrompt(question), true)
	if err != nil {
		return false, domain.NewServiceError("qa: classify", domain.ErrGenerationService, err)
	}
	e.logger.Debug("qa: classifier reply", "reply", reply)
	return isAffirmative(reply), nil
}

func (e *Engine) generate(ctx context.Context, question string, matches []domain.Match) (string, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	text, err := e.generator.Complete(ctx, generatorPrompt(question, matches), false)
	if err != nil {
		return "", domain.NewServiceError("qa: generate", domain.ErrGenerationService, err)
	}
	return text, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

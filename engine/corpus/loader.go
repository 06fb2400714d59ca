package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Index is the write side of the similarity index.
type Index interface {
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, vectors []domain.IndexedVector) error
}

// Embedder turns question text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Locker gives one initializer exclusive access to the populate step.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Ledger remembers the hash of the corpus last written to the index.
type Ledger interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, hash string) error
}

// Report summarizes one Load call.
type Report struct {
	Skipped  bool   `json:"skipped"`
	Inserted int    `json:"inserted"`
	Hash     string `json:"hash"`
	// Drift is set when the index was populated from a different corpus.
	Drift bool `json:"drift,omitempty"`
}

// Options configures a Loader. Zero values select the defaults.
type Options struct {
	BatchSize     int
	RetryAttempts int
	// Limiter paces embedding calls; nil means unlimited.
	Limiter *rate.Limiter
	// Backoff builds the retry schedule for one embed call.
	Backoff func() backoff.BackOff
	// LockPoll is how often a waiting initializer rechecks the index.
	LockPoll time.Duration
	Lock     Locker
	Ledger   Ledger
	// ReingestOnChange rewrites every vector when the ledger hash differs
	// from the current corpus, or when the index holds vectors but no hash
	// was ever recorded. Keys are stable, so entries are overwritten
	// in place; vectors for entries removed from the corpus are kept.
	ReingestOnChange bool
}

// Loader populates an empty index from the corpus.
type Loader struct {
	index  Index
	embed  Embedder
	opts   Options
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(index Index, embed Embedder, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = time.Second
	}
	return &Loader{index: index, embed: embed, opts: opts, logger: logger}
}

type job struct {
	entry domain.CorpusEntry
	lang  domain.Language
	text  string
}

// Load inserts one vector per non-empty question variant when the index is
// empty, and leaves a populated index untouched.
func (l *Loader) Load(ctx context.Context, entries []domain.CorpusEntry) (Report, error) {
	hash := Hash(entries)

	if l.opts.Lock != nil {
		release, populated, err := l.acquire(ctx)
		if err != nil {
			return Report{}, err
		}
		if populated {
			l.logger.Info("corpus: populated by another initializer")
			return Report{Skipped: true, Hash: hash}, nil
		}
		defer release()
	}

	count, err := l.index.Count(ctx)
	if err != nil {
		return Report{}, domain.NewServiceError("corpus: count", domain.ErrIndexUnavailable, err)
	}

	if count > 0 {
		state := l.ledgerState(ctx, hash)
		drift := state == ledgerStale
		if !l.opts.ReingestOnChange || (state != ledgerStale && state != ledgerMissing) {
			l.logger.Info("corpus: index already populated", "count", count)
			return Report{Skipped: true, Hash: hash, Drift: drift}, nil
		}
		if state == ledgerMissing {
			l.logger.Warn("corpus: index has vectors but no recorded hash, repopulating", "count", count, "hash", hash)
		} else {
			l.logger.Info("corpus: corpus changed, reingesting", "count", count, "hash", hash)
		}
	}

	inserted, err := l.populate(ctx, entries)
	if err != nil {
		return Report{Inserted: inserted, Hash: hash}, err
	}

	if l.opts.Ledger != nil {
		if err := l.opts.Ledger.Set(ctx, hash); err != nil {
			l.logger.Warn("corpus: record hash", "error", err)
		}
	}
	l.logger.Info("corpus: index populated", "inserted", inserted, "entries", len(entries))
	return Report{Inserted: inserted, Hash: hash}, nil
}

// acquire takes the lock, or waits until either the lock frees up or the
// holder has populated the index.
func (l *Loader) acquire(ctx context.Context) (release func(), populated bool, err error) {
	for {
		ok, err := l.opts.Lock.TryLock(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("corpus: acquire lock: %w", err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := l.opts.Lock.Unlock(ctx); err != nil {
					l.logger.Warn("corpus: release lock", "error", err)
				}
			}, false, nil
		}

		l.logger.Debug("corpus: lock held elsewhere, waiting")
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(l.opts.LockPoll):
		}

		count, err := l.index.Count(ctx)
		if err != nil {
			return nil, false, domain.NewServiceError("corpus: count", domain.ErrIndexUnavailable, err)
		}
		if count > 0 {
			return nil, true, nil
		}
	}
}

type ledgerStatus int

const (
	// ledgerUnknown: no ledger configured, or it could not be read.
	ledgerUnknown ledgerStatus = iota
	// ledgerMissing: no hash recorded. A populate that failed partway
	// leaves the index in this state.
	ledgerMissing
	ledgerStale
	ledgerCurrent
)

func (l *Loader) ledgerState(ctx context.Context, hash string) ledgerStatus {
	if l.opts.Ledger == nil {
		return ledgerUnknown
	}
	stored, err := l.opts.Ledger.Get(ctx)
	switch {
	case err != nil:
		l.logger.Warn("corpus: read stored hash", "error", err)
		return ledgerUnknown
	case stored == "":
		return ledgerMissing
	case stored != hash:
		l.logger.Warn("corpus: index was built from a different corpus", "stored_hash", stored, "corpus_hash", hash)
		return ledgerStale
	default:
		return ledgerCurrent
	}
}

func (l *Loader) populate(ctx context.Context, entries []domain.CorpusEntry) (int, error) {
	var jobs []job
	for _, e := range entries {
		if err := domain.ValidateEntry(e); err != nil {
			l.logger.Warn("corpus: skipping entry", "id", e.ID, "error", err)
			continue
		}
		for _, lang := range domain.Languages {
			text := e.Question.For(lang)
			if strings.TrimSpace(text) == "" {
				continue
			}
			jobs = append(jobs, job{entry: e, lang: lang, text: text})
		}
	}

	inserted := 0
	for start := 0; start < len(jobs); start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, len(jobs))
		batch := make([]domain.IndexedVector, 0, end-start)
		for _, j := range jobs[start:end] {
			vec, err := l.embedWithRetry(ctx, j.text)
			if err != nil {
				return inserted, domain.NewServiceError("corpus: embed "+j.entry.Key(j.lang), domain.ErrEmbeddingService, err)
			}
			batch = append(batch, domain.NewIndexedVector(j.entry, j.lang, vec))
		}
		if err := l.index.Insert(ctx, batch); err != nil {
			return inserted, domain.NewServiceError("corpus: insert", domain.ErrIndexUnavailable, err)
		}
		inserted += len(batch)
		l.logger.Debug("corpus: batch inserted", "inserted", inserted, "total", len(jobs))
	}
	return inserted, nil
}

func (l *Loader) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		if err := l.opts.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		v, err := l.embed.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(l.opts.Backoff(), uint64(l.opts.RetryAttempts)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return vec, nil
}

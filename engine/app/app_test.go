package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/engine/qa"
	"github.com/WessleyAI/finqa/pkg/config"
	"github.com/WessleyAI/finqa/pkg/natsutil"
	"github.com/WessleyAI/finqa/pkg/resilience"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies map[bool]string
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, deterministic bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.replies[deterministic], nil
}

type fakeIndex struct {
	mu       sync.Mutex
	matches  []domain.Match
	stored   []domain.IndexedVector
	dims     int
	countErr error
}

func (f *fakeIndex) Query(context.Context, []float32, int) ([]domain.Match, error) {
	return f.matches, nil
}

func (f *fakeIndex) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.stored), nil
}

func (f *fakeIndex) Insert(_ context.Context, v []domain.IndexedVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, v...)
	return nil
}

func (f *fakeIndex) EnsureCollection(_ context.Context, dims int) error {
	f.dims = dims
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Qdrant:  config.QdrantConfig{Collection: "qna_collection", Dims: 3},
		Corpus:  config.CorpusConfig{BatchSize: 8},
		NATS:    config.NATSConfig{Queue: "finqa"},
		QA:      config.QAConfig{TopK: 2, DefaultThreshold: 0.7, UnknownLanguage: "error", CallTimeout: time.Second},
		Breaker: config.BreakerConfig{MaxFailures: 2, Timeout: time.Hour},
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
}

func englishMatch(distance float64) domain.Match {
	return domain.Match{
		Document: "What is NAV?",
		Distance: distance,
		Metadata: map[string]string{
			domain.MetaLanguage:       "english",
			domain.MetaAnswerEnglish:  "Net Asset Value.",
			domain.MetaAnswerHinglish: "NAV matlab Net Asset Value.",
			domain.MetaAnswerHindi:    "शुद्ध संपत्ति मूल्य।",
		},
	}
}

type harness struct {
	embed *fakeEmbedder
	chat  *fakeCompleter
	index *fakeIndex
	app   *App
}

func newHarness(t *testing.T, nc *nats.Conn, matches ...domain.Match) *harness {
	t.Helper()
	h := &harness{
		embed: &fakeEmbedder{},
		chat:  &fakeCompleter{replies: map[bool]string{true: "NO", false: "generated"}},
		index: &fakeIndex{matches: matches},
	}
	h.app = Assemble(testConfig(), Components{
		Embedder:  h.embed,
		Completer: h.chat,
		Index:     h.index,
		NATS:      nc,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second))
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func ptr(f float64) *float64 { return &f }

// --- tests ---

func TestAsk_RejectsBlankQuestion(t *testing.T) {
	h := newHarness(t, nil, englishMatch(0.1))
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := h.app.Ask(context.Background(), q, nil)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
	}
	assert.Zero(t, h.embed.calls)
}

func TestAsk_DefaultThreshold(t *testing.T) {
	h := newHarness(t, nil, englishMatch(0.25))

	ans, err := h.app.Ask(context.Background(), "what is nav", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeMatched, ans.Outcome)
	assert.Equal(t, "Net Asset Value.", ans.Text)
	assert.InDelta(t, 0.75, ans.Score, 1e-9)

	ans, err = h.app.Ask(context.Background(), "what is nav", ptr(0.8))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDomainRefused, ans.Outcome)
	assert.Equal(t, qa.MsgDomainRefusal, ans.Text)
}

func TestAsk_RecordsMetrics(t *testing.T) {
	h := newHarness(t, nil, englishMatch(0.1))
	_, err := h.app.Ask(context.Background(), "what is nav", nil)
	require.NoError(t, err)
	h.embed.err = errors.New("down")
	_, err = h.app.Ask(context.Background(), "what is nav", nil)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	h.app.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `finqa_answers_total{outcome="matched"} 1`)
	assert.Contains(t, body, `finqa_answer_failures_total{kind="embedding"} 1`)
}

func TestAsk_BreakerOpensOnRepeatedFailures(t *testing.T) {
	h := newHarness(t, nil, englishMatch(0.1))
	h.embed.err = errors.New("connection refused")

	for i := 0; i < 2; i++ {
		_, err := h.app.Ask(context.Background(), "what is nav", nil)
		require.ErrorIs(t, err, domain.ErrEmbeddingService)
	}
	_, err := h.app.Ask(context.Background(), "what is nav", nil)
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, h.embed.calls, "open breaker must not reach the provider")
}

func TestNewAskResponse(t *testing.T) {
	resp := NewAskResponse("q", domain.Answer{Text: "a", Score: 0.912345678})
	require.NotNil(t, resp.SimilarityScore)
	assert.Equal(t, 0.9123, *resp.SimilarityScore)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "q", resp.UserQuery)
	assert.Equal(t, "a", resp.BotResponse)

	refusal := NewAskResponse("q", domain.Answer{Text: qa.MsgFolioRefusal, Outcome: domain.OutcomeGuardRefused})
	assert.Nil(t, refusal.SimilarityScore)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.NewValidationError("question", "", domain.ErrEmptyQuestion), "validation"},
		{domain.NewServiceError("op", domain.ErrEmbeddingService, nil), "embedding"},
		{domain.NewServiceError("op", domain.ErrIndexUnavailable, nil), "index"},
		{domain.NewServiceError("op", domain.ErrGenerationService, nil), "generation"},
		{domain.NewServiceError("op", domain.ErrDataIntegrity, nil), "data_integrity"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}
}

func TestIngestAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	path := filepath.Join(t.TempDir(), "json_data.json")
	corpusJSON := `[{"id": 7, "question": {"english": "What is an ETF?", "hinglish": "ETF kya hai?", "hindi": ""},
	  "answer": {"english": "Exchange traded fund.", "hinglish": "Exchange traded fund hota hai.", "hindi": "एक्सचेंज ट्रेडेड फंड।"}}]`
	require.NoError(t, os.WriteFile(path, []byte(corpusJSON), 0o644))

	rep, err := h.app.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, 3, h.index.dims)

	n, err := h.app.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rep, err = h.app.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}

func TestIngest_MissingFile(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.app.Ingest(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}

func TestStatus_IndexError(t *testing.T) {
	h := newHarness(t, nil)
	h.index.countErr = errors.New("qdrant down")
	_, err := h.app.Status(context.Background())
	assert.Error(t, err)
}

func TestServeNATS_AskAndEvent(t *testing.T) {
	nc := startNATS(t)
	h := newHarness(t, nc, englishMatch(0.1))

	events := make(chan AnsweredEvent, 1)
	evSub, err := natsutil.Subscribe(nc, SubjectAnswered, func(_ context.Context, ev AnsweredEvent) { events <- ev })
	require.NoError(t, err)
	defer evSub.Unsubscribe()

	sub, err := h.app.ServeNATS()
	require.NoError(t, err)
	require.NotNil(t, sub)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := natsutil.Request[AskRequest, AskResponse](ctx, nc, SubjectAsk, AskRequest{Question: "what is nav"})
	require.NoError(t, err)
	assert.Equal(t, "Net Asset Value.", resp.BotResponse)
	require.NotNil(t, resp.SimilarityScore)
	assert.Equal(t, 0.9, *resp.SimilarityScore)

	select {
	case ev := <-events:
		assert.Equal(t, domain.OutcomeMatched, ev.Outcome)
		assert.False(t, ev.Refused)
		assert.InDelta(t, 0.9, ev.Score, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("no answered event")
	}

	_, err = natsutil.Request[AskRequest, AskResponse](ctx, nc, SubjectAsk, AskRequest{Question: " "})
	var re *natsutil.RemoteError
	require.ErrorAs(t, err, &re)
	assert.True(t, strings.Contains(re.Message, "question cannot be empty"))
}

func TestServeNATS_Disabled(t *testing.T) {
	h := newHarness(t, nil)
	sub, err := h.app.ServeNATS()
	assert.NoError(t, err)
	assert.Nil(t, sub)
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	assert.NoError(t, h.app.Close())
	assert.NoError(t, h.app.Close())
}

func TestAsk_EmbedCache(t *testing.T) {
	cfg := testConfig()
	cfg.QA.EmbedCacheSize = 8
	embed := &fakeEmbedder{}
	a := Assemble(cfg, Components{
		Embedder:  embed,
		Completer: &fakeCompleter{},
		Index:     &fakeIndex{matches: []domain.Match{englishMatch(0.1)}},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := a.Ask(context.Background(), "what is nav", nil)
		require.NoError(t, err)
	}
	_, err := a.Ask(context.Background(), "what is an etf", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, embed.calls)
}

func TestAsk_EmbedCacheSkipsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.QA.EmbedCacheSize = 8
	embed := &fakeEmbedder{err: errors.New("down")}
	a := Assemble(cfg, Components{
		Embedder:  embed,
		Completer: &fakeCompleter{},
		Index:     &fakeIndex{matches: []domain.Match{englishMatch(0.1)}},
	}, nil)

	_, err := a.Ask(context.Background(), "what is nav", nil)
	require.Error(t, err)
	embed.err = nil
	_, err = a.Ask(context.Background(), "what is nav", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, embed.calls)
}

func TestAnsweredEvent_MarksRefusals(t *testing.T) {
	nc := startNATS(t)
	h := newHarness(t, nc, englishMatch(0.9))

	events := make(chan AnsweredEvent, 1)
	sub, err := natsutil.Subscribe(nc, SubjectAnswered, func(_ context.Context, ev AnsweredEvent) { events <- ev })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ans, err := h.app.Ask(context.Background(), "best pizza in town", nil)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDomainRefused, ans.Outcome)

	select {
	case ev := <-events:
		assert.True(t, ev.Refused)
		assert.Equal(t, domain.OutcomeDomainRefused, ev.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("no answered event")
	}
}

func TestCloseAll_JoinsErrorsInReverse(t *testing.T) {
	var order []int
	errA, errB := errors.New("qdrant close"), errors.New("redis close")
	closers := []func() error{
		func() error { order = append(order, 1); return errA },
		func() error { order = append(order, 2); return nil },
		func() error { order = append(order, 3); return errB },
	}
	err := closeAll(closers)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.NoError(t, closeAll(nil))
}

package app

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// NATS subjects.
const (
	SubjectAsk      = "qa.ask"
	SubjectAnswered = "qa.answered"
)

// AskRequest is the wire form of a question, shared by HTTP and NATS.
type AskRequest struct {
	Question  string   `json:"question"`
	Threshold *float64 `json:"similarity_threshold,omitempty"`
}

// AskResponse is the wire form of an answer.
type AskResponse struct {
	Status          string   `json:"status"`
	UserQuery       string   `json:"user_query"`
	BotResponse     string   `json:"bot_response"`
	SimilarityScore *float64 `json:"similarity_score"`
}

// NewAskResponse renders ans for display: the score is rounded to four
// decimals and a zero score is reported as null.
func NewAskResponse(question string, ans domain.Answer) AskResponse {
	resp := AskResponse{
		Status:      "success",
		UserQuery:   question,
		BotResponse: ans.Text,
	}
	if ans.Score != 0 {
		s := math.Round(ans.Score*10000) / 10000
		resp.SimilarityScore = &s
	}
	return resp
}

// AnsweredEvent is published on SubjectAnswered after every answer.
type AnsweredEvent struct {
	Outcome   domain.Outcome `json:"outcome"`
	Refused   bool           `json:"refused"`
	Score     float64        `json:"score"`
	LatencyMS int64          `json:"latency_ms"`
}

// Ask validates the question and runs the engine. A nil threshold selects
// the configured default.
func (a *App) Ask(ctx context.Context, question string, threshold *float64) (domain.Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return domain.Answer{}, err
	}
	t := a.cfg.QA.DefaultThreshold
	if threshold != nil {
		t = *threshold
	}

	start := time.Now()
	ans, err := a.engine.Answer(ctx, question, t)
	elapsed := time.Since(start)
	if err != nil {
		a.metrics.ObserveFailure(ErrorKind(err), elapsed)
		a.logger.Error("answer failed", "error", err, "latency", elapsed)
		return domain.Answer{}, err
	}
	a.metrics.ObserveAnswer(string(ans.Outcome), elapsed)
	a.publishAnswered(ctx, ans, elapsed)
	return ans, nil
}

func (a *App) publishAnswered(ctx context.Context, ans domain.Answer, elapsed time.Duration) {
	if a.nc == nil {
		return
	}
	ev := AnsweredEvent{
		Outcome:   ans.Outcome,
		Refused:   ans.Refused(),
		Score:     ans.Score,
		LatencyMS: elapsed.Milliseconds(),
	}
	if err := natsutil.Publish(ctx, a.nc, SubjectAnswered, ev); err != nil {
		a.logger.Warn("publish answered event", "error", err)
	}
}

// ServeNATS answers AskRequests on SubjectAsk. It is a no-op without a
// NATS connection.
func (a *App) ServeNATS() (*nats.Subscription, error) {
	if a.nc == nil {
		return nil, nil
	}
	timeout := a.cfg.Server.RequestTimeout
	return natsutil.Serve(a.nc, SubjectAsk, a.cfg.NATS.Queue, func(ctx context.Context, req AskRequest) (AskResponse, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ans, err := a.Ask(ctx, req.Question, req.Threshold)
		if err != nil {
			return AskResponse{}, err
		}
		return NewAskResponse(req.Question, ans), nil
	})
}

// ErrorKind names the failure class of err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case domain.IsValidation(err):
		return "validation"
	case errors.Is(err, domain.ErrEmbeddingService):
		return "embedding"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return "index"
	case errors.Is(err, domain.ErrGenerationService):
		return "generation"
	case errors.Is(err, domain.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/engine/qa"
	"github.com/WessleyAI/finqa/pkg/config"
)

type fakeService struct {
	answer    domain.Answer
	err       error
	count     int
	countErr  error
	threshold *float64
	question  string
}

func (f *fakeService) Ask(_ context.Context, q string, t *float64) (domain.Answer, error) {
	f.question, f.threshold = q, t
	if err := domain.ValidateQuestion(q); err != nil {
		return domain.Answer{}, err
	}
	return f.answer, f.err
}

func (f *fakeService) Status(context.Context) (int, error) { return f.count, f.countErr }

func testHandler(svc service) http.Handler {
	cfg := &config.Config{Server: config.ServerConfig{CORSOrigin: "*", RequestTimeout: 5 * time.Second}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "finqa_answers_total 0\n")
	})
	return newHandler(cfg, svc, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestRootEndpoint(t *testing.T) {
	rec := do(t, testHandler(&fakeService{}), "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if _, ok := resp["endpoints"].(map[string]any)["POST /chat"]; !ok {
		t.Fatalf("missing chat endpoint in %v", resp)
	}
}

func TestUnknownPath(t *testing.T) {
	rec := do(t, testHandler(&fakeService{}), "GET", "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := do(t, testHandler(&fakeService{count: 42}), "GET", "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "working" || resp.DatabaseCount != 42 {
		t.Fatalf("unexpected status body %+v", resp)
	}
}

func TestStatusEndpoint_IndexDown(t *testing.T) {
	rec := do(t, testHandler(&fakeService{countErr: errors.New("qdrant unreachable")}), "GET", "/status", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decode(t, rec)["detail"]; got != "failed: qdrant unreachable" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestChatEndpoint_EmptyQuestion(t *testing.T) {
	for _, body := range []string{`{"question":""}`, `{"question":"   "}`, `{}`} {
		rec := do(t, testHandler(&fakeService{}), "POST", "/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if got := decode(t, rec)["detail"]; got != "Question cannot be empty" {
			t.Fatalf("%s: unexpected detail %q", body, got)
		}
	}
}

func TestChatEndpoint_InvalidJSON(t *testing.T) {
	rec := do(t, testHandler(&fakeService{}), "POST", "/chat", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatEndpoint_Matched(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{Text: "Net Asset Value.", Score: 0.876543, Outcome: domain.OutcomeMatched}}
	rec := do(t, testHandler(svc), "POST", "/chat", `{"question":"what is nav","similarity_threshold":0.8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["status"] != "success" || resp["user_query"] != "what is nav" || resp["bot_response"] != "Net Asset Value." {
		t.Fatalf("unexpected body %v", resp)
	}
	if resp["similarity_score"] != 0.8765 {
		t.Fatalf("expected rounded score, got %v", resp["similarity_score"])
	}
	if svc.threshold == nil || *svc.threshold != 0.8 {
		t.Fatalf("threshold not forwarded: %v", svc.threshold)
	}
}

func TestChatEndpoint_DefaultThreshold(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{Text: "x", Score: 0.9}}
	do(t, testHandler(svc), "POST", "/chat", `{"question":"q"}`)
	if svc.threshold != nil {
		t.Fatalf("expected nil threshold, got %v", *svc.threshold)
	}
}

func TestChatEndpoint_RefusalHasNullScore(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{Text: qa.MsgFolioRefusal, Outcome: domain.OutcomeGuardRefused}}
	rec := do(t, testHandler(svc), "POST", "/chat", `{"question":"my folio number"}`)
	resp := decode(t, rec)
	v, ok := resp["similarity_score"]
	if !ok || v != nil {
		t.Fatalf("expected null similarity_score, got %v (present=%v)", v, ok)
	}
	if resp["bot_response"] != qa.MsgFolioRefusal {
		t.Fatalf("unexpected response %v", resp["bot_response"])
	}
}

func TestChatEndpoint_ServiceError(t *testing.T) {
	svc := &fakeService{err: domain.NewServiceError("qa: embed query", domain.ErrEmbeddingService, errors.New("timeout"))}
	rec := do(t, testHandler(svc), "POST", "/chat", `{"question":"q"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	detail, _ := decode(t, rec)["detail"].(string)
	if !strings.HasPrefix(detail, "Error processing query: ") || !strings.Contains(detail, "embedding service error") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, testHandler(&fakeService{}), "GET", "/metrics", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("finqa_answers_total")) {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, testHandler(&fakeService{}), "OPTIONS", "/chat", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
}

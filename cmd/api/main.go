// Package main implements the finqa HTTP API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/finqa/engine/app"
	"github.com/WessleyAI/finqa/engine/domain"
	"github.com/WessleyAI/finqa/pkg/config"
	"github.com/WessleyAI/finqa/pkg/mid"
)

func main() {
	configPath := flag.String("config", "", "path to a finqa.yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Seed the index ---
	if cfg.Corpus.IngestOnStart {
		rep, err := a.Ingest(ctx, cfg.Corpus.Path)
		if err != nil {
			return err
		}
		logger.Info("corpus ready", "skipped", rep.Skipped, "inserted", rep.Inserted, "drift", rep.Drift)
	}

	// --- Optional NATS transport ---
	sub, err := a.ServeNATS()
	if err != nil {
		return err
	}
	if sub != nil {
		defer sub.Drain()
		logger.Info("serving nats", "subject", app.SubjectAsk, "queue", cfg.NATS.Queue)
	}

	// --- Build HTTP server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newHandler(cfg, a, a.Metrics().Handler(), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// service is the part of the App the handlers use.
type service interface {
	Ask(ctx context.Context, question string, threshold *float64) (domain.Answer, error)
	Status(ctx context.Context) (int, error)
}

func newHandler(cfg *config.Config, svc service, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /status", handleStatus(svc, logger))
	mux.HandleFunc("POST /chat", handleChat(svc, logger))
	mux.Handle("GET /metrics", metrics)

	return mid.Chain(mux,
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.Timeout(cfg.Server.RequestTimeout),
		mid.OTel("finqa-api"),
	)
}

// --- Handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the finqa chatbot API",
		"endpoints": map[string]string{
			"POST /chat":   "Send a question to the chatbot",
			"GET /status":  "Index health and vector count",
			"GET /metrics": "Prometheus metrics",
		},
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	DatabaseCount int    `json:"database_count"`
}

func handleStatus(svc service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.Status(r.Context())
		if err != nil {
			logger.Error("status check failed", "err", err)
			writeDetail(w, http.StatusInternalServerError, "failed: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:        "working",
			Message:       "API is running smoothly",
			DatabaseCount: n,
		})
	}
}

func handleChat(svc service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req app.AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ans, err := svc.Ask(r.Context(), req.Question, req.Threshold)
		switch {
		case errors.Is(err, domain.ErrEmptyQuestion):
			writeDetail(w, http.StatusBadRequest, "Question cannot be empty")
			return
		case err != nil:
			logger.Error("chat failed", "err", err, "kind", app.ErrorKind(err), "request_id", mid.RequestIDFrom(r.Context()))
			writeDetail(w, http.StatusInternalServerError, "Error processing query: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, app.NewAskResponse(req.Question, ans))
	}
}

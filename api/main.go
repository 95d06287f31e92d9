package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DeafMist/proposal-radar/internal/app"
	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/evaluation"
	"github.com/DeafMist/proposal-radar/internal/extract"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/metrics"
	"github.com/DeafMist/proposal-radar/internal/models"
)

const (
	evaluationTimeout = 2 * time.Minute
	multipartMemory   = 8 << 20
)

type evaluator interface {
	Supports(filename string) bool
	EvaluateDocument(ctx context.Context, doc evaluation.Document, budget models.Budget) (models.EvaluationVerdict, error)
	EvaluateBatch(ctx context.Context, docs []evaluation.Document, budget models.Budget) models.BatchReport
}

type healthChecker interface {
	Health(ctx context.Context) error
}

func main() {
	log := logger.New("api")
	if err := config.LoadDotEnv(); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	svc, err := app.Build(cfg.Common, cfg.Pipeline, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	defer svc.Close()

	srv := &server{log: log, cfg: cfg, eval: svc.Pipeline, health: svc}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      evaluationTimeout + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	eval   evaluator
	health healthChecker
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/evaluate", func(r chi.Router) {
		r.Post("/proposal", s.handleEvaluate)
		r.Post("/proposals", s.handleEvaluateBatch)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	budget, ok := s.parseUpload(w, r)
	if !ok {
		return
	}

	fh, err := formFile(r, "file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.eval.Supports(fh.Filename) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s: %s", extract.ErrUnsupported, fh.Filename)})
		return
	}
	doc, err := readDocument(fh)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), evaluationTimeout)
	defer cancel()

	verdict, err := s.eval.EvaluateDocument(ctx, doc, budget)
	switch {
	case errors.Is(err, extract.ErrUnsupported):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, evaluation.ErrUnparseable):
		s.log.Warn("unparseable upload", slog.String("filename", doc.Name), slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: evaluation.ErrUnparseable.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

func (s *server) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	budget, ok := s.parseUpload(w, r)
	if !ok {
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no files uploaded"})
		return
	}
	if len(files) > s.cfg.MaxBatchFiles {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("maximum %d files allowed per batch", s.cfg.MaxBatchFiles)})
		return
	}

	docs := make([]evaluation.Document, 0, len(files))
	for _, fh := range files {
		doc, err := readDocument(fh)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		docs = append(docs, doc)
	}

	ctx, cancel := context.WithTimeout(r.Context(), evaluationTimeout)
	defer cancel()

	report := s.eval.EvaluateBatch(ctx, docs, budget)
	s.log.Info("batch evaluated",
		slog.Int("total_files", report.Summary.TotalFiles),
		slog.Int("approved", report.Summary.ApprovedCount),
		slog.Int("rejected", report.Summary.RejectedCount),
		slog.Int("errors", report.Summary.ErrorCount),
	)
	writeJSON(w, http.StatusOK, report)
}

// parseUpload reads the multipart form and its budget field. It writes the
// error response itself and reports whether the handler may continue.
func (s *server) parseUpload(w http.ResponseWriter, r *http.Request) (models.Budget, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid multipart form: %v", err)})
		return models.Budget{}, false
	}

	budget, err := parseBudget(r.FormValue("budget"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return models.Budget{}, false
	}
	return budget, true
}

func parseBudget(raw string) (models.Budget, error) {
	if raw == "" {
		return models.Budget{}, errors.New("budget is required")
	}
	var b models.Budget
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return models.Budget{}, fmt.Errorf("invalid budget: %w", err)
	}
	if b.TotalCost < 0 {
		return models.Budget{}, errors.New("invalid budget: total_cost cannot be negative")
	}
	for key, amount := range b.Costs {
		if amount < 0 {
			return models.Budget{}, fmt.Errorf("invalid budget: cost %q cannot be negative", key)
		}
	}
	return b, nil
}

func formFile(r *http.Request, field string) (*multipart.FileHeader, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, fmt.Errorf("%s is required", field)
	}
	return r.MultipartForm.File[field][0], nil
}

func readDocument(fh *multipart.FileHeader) (evaluation.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return evaluation.Document{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return evaluation.Document{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return evaluation.Document{Name: fh.Filename, Data: data}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

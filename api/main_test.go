package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/evaluation"
	"github.com/DeafMist/proposal-radar/internal/models"
)

type stubEvaluator struct {
	budgets []models.Budget
	batch   []evaluation.Document
	err     error
}

func (s *stubEvaluator) Supports(filename string) bool {
	switch filepath.Ext(filename) {
	case ".txt", ".md", ".docx", ".pdf":
		return true
	}
	return false
}

func (s *stubEvaluator) EvaluateDocument(_ context.Context, doc evaluation.Document, budget models.Budget) (models.EvaluationVerdict, error) {
	s.budgets = append(s.budgets, budget)
	if s.err != nil {
		return models.EvaluationVerdict{}, s.err
	}
	return models.EvaluationVerdict{
		ID:       "eval-1",
		Filename: doc.Name,
		Overall:  models.OverallApproval{Passed: true, Status: models.StatusApproved, ApprovalScore: 100},
	}, nil
}

func (s *stubEvaluator) EvaluateBatch(_ context.Context, docs []evaluation.Document, _ models.Budget) models.BatchReport {
	s.batch = docs
	report := models.BatchReport{Summary: models.BatchSummary{TotalFiles: len(docs), ApprovedCount: len(docs)}}
	for i, d := range docs {
		report.Results = append(report.Results, models.BatchResult{Filename: d.Name, FileIndex: i, Status: models.BatchCompleted})
	}
	return report
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func newTestServer(eval evaluator, health healthChecker) http.Handler {
	srv := &server{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:    &config.API{MaxBatchFiles: 2, MaxUploadBytes: 1 << 20},
		eval:   eval,
		health: health,
	}
	return srv.routes()
}

type upload struct {
	field, name, body string
}

func multipartRequest(t *testing.T, path, budget string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if budget != "" {
		require.NoError(t, mw.WriteField("budget", budget))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const budgetJSON = `{"total_cost":100000,"items":["Laptop"],"costs":{"equipment":20000}}`

func TestEvaluateProposal(t *testing.T) {
	eval := &stubEvaluator{}
	h := newTestServer(eval, stubHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposal", budgetJSON, upload{"file", "p.txt", "Abstract\nText"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var verdict models.EvaluationVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	require.Equal(t, "p.txt", verdict.Filename)
	require.Equal(t, models.StatusApproved, verdict.Overall.Status)

	require.Len(t, eval.budgets, 1)
	require.Equal(t, 100000.0, eval.budgets[0].TotalCost)
	require.Equal(t, 20000.0, eval.budgets[0].Costs["equipment"])
}

func TestEvaluateProposalBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		budget string
		files  []upload
		err    error
	}{
		{name: "missing budget", files: []upload{{"file", "p.txt", "x"}}},
		{name: "invalid budget", budget: "{not json", files: []upload{{"file", "p.txt", "x"}}},
		{name: "negative cost", budget: `{"total_cost":10,"costs":{"travel":-1}}`, files: []upload{{"file", "p.txt", "x"}}},
		{name: "missing file", budget: budgetJSON},
		{name: "unsupported type", budget: budgetJSON, files: []upload{{"file", "p.exe", "x"}}},
		{
			name:   "unparseable",
			budget: budgetJSON,
			files:  []upload{{"file", "p.docx", "garbage"}},
			err:    fmt.Errorf("extract p.docx: %w", evaluation.ErrUnparseable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubEvaluator{err: tt.err}, stubHealth{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposal", tt.budget, tt.files...))
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestEvaluateProposalUnparseableMessage(t *testing.T) {
	h := newTestServer(&stubEvaluator{err: fmt.Errorf("extract a.pdf: %w", evaluation.ErrUnparseable)}, stubHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposal", budgetJSON, upload{"file", "a.pdf", "%PDF"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"could not parse the document"}`, rec.Body.String())
}

func TestEvaluateProposals(t *testing.T) {
	eval := &stubEvaluator{}
	h := newTestServer(eval, stubHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposals", budgetJSON,
		upload{"files", "a.txt", "one"},
		upload{"files", "b.exe", "two"},
	))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eval.batch, 2)
	require.Equal(t, "b.exe", eval.batch[1].Name)

	var report models.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 2, report.Summary.TotalFiles)
	require.Len(t, report.Results, 2)
}

func TestEvaluateProposalsLimits(t *testing.T) {
	h := newTestServer(&stubEvaluator{}, stubHealth{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposals", budgetJSON))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/evaluate/proposals", budgetJSON,
		upload{"files", "a.txt", "1"},
		upload{"files", "b.txt", "2"},
		upload{"files", "c.txt", "3"},
	))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "maximum 2 files")
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubEvaluator{}, stubHealth{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(&stubEvaluator{}, stubHealth{err: errors.New("cluster red")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "cluster red")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&stubEvaluator{}, stubHealth{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "proposal_radar_http_requests_total")
}

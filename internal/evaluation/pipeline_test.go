package evaluation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/proposal-radar/internal/audit"
	"github.com/DeafMist/proposal-radar/internal/evaluation"
	"github.com/DeafMist/proposal-radar/internal/extract"
	"github.com/DeafMist/proposal-radar/internal/finance"
	"github.com/DeafMist/proposal-radar/internal/models"
	"github.com/DeafMist/proposal-radar/internal/novelty"
)

type stubNovelty struct {
	passed bool
	calls  atomic.Int32
	texts  chan string
}

func (s *stubNovelty) Calculate(_ context.Context, text string) models.NoveltyResult {
	s.calls.Add(1)
	if s.texts != nil {
		s.texts <- text
	}
	if strings.Contains(text, "panic") {
		panic("embedder crashed")
	}
	status, passed := novelty.Classify(30)
	if !s.passed {
		status, passed = novelty.Classify(80)
	}
	return models.NoveltyResult{SimilarityPercentage: 30, Status: status, Passed: passed}
}

type stubRisk struct {
	passed bool
}

func (s stubRisk) Predict(string) models.RiskResult {
	status := models.RiskApproved
	if !s.passed {
		status = models.RiskRejected
	}
	return models.RiskResult{Status: status, ConfidencePercent: 80, Passed: s.passed}
}

var rules = finance.NewRuleSet(
	[]string{"alcohol"},
	map[string]string{"Wine": "alcohol"},
	map[string]float64{finance.LimitEquipment: 40, finance.LimitContingencyOfRevenue: 5},
)

func cleanBudget() models.Budget {
	return models.Budget{
		TotalCost: 100000,
		Items:     []string{"Laptop"},
		Costs:     map[string]float64{"equipment": 20000, "personnel": 60000},
	}
}

func newPipeline(t *testing.T, nov evaluation.NoveltyEngine, rsk evaluation.RiskEngine, log *audit.Log) *evaluation.Pipeline {
	t.Helper()
	p, err := evaluation.NewPipeline(evaluation.Deps{
		Novelty:     nov,
		Risk:        rsk,
		Rules:       rules,
		Audit:       log,
		Concurrency: 2,
	})
	require.NoError(t, err)
	return p
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name                    string
		novelty, finance, risky bool
		wantStatus              string
		wantScore               int
	}{
		{name: "all pass", novelty: true, finance: true, risky: true, wantStatus: models.StatusApproved, wantScore: 100},
		{name: "novelty fails", novelty: false, finance: true, risky: true, wantStatus: models.StatusRejected, wantScore: 67},
		{name: "two fail", novelty: false, finance: false, risky: true, wantStatus: models.StatusRejected, wantScore: 33},
		{name: "all fail", wantStatus: models.StatusRejected, wantScore: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluation.Combine(
				models.NoveltyResult{Passed: tt.novelty},
				models.FinancialResult{Passed: tt.finance},
				models.RiskResult{Passed: tt.risky},
			)
			require.Equal(t, tt.wantStatus, got.Status)
			require.Equal(t, tt.wantScore, got.ApprovalScore)
			require.Equal(t, tt.wantStatus == models.StatusApproved, got.Passed)
		})
	}
}

func TestCombineCriteria(t *testing.T) {
	got := evaluation.Combine(
		models.NoveltyResult{Passed: true},
		models.FinancialResult{Passed: false},
		models.RiskResult{Passed: true},
	)
	require.Equal(t, models.CriteriaSummary{
		Novelty:   models.RulePass,
		Financial: models.RuleFail,
		Risk:      models.RulePass,
	}, got.Criteria)
}

func TestNewPipelineRequiresEngines(t *testing.T) {
	_, err := evaluation.NewPipeline(evaluation.Deps{Risk: stubRisk{}})
	require.Error(t, err)
	_, err = evaluation.NewPipeline(evaluation.Deps{Novelty: &stubNovelty{}})
	require.Error(t, err)
}

func TestEvaluateApproves(t *testing.T) {
	p := newPipeline(t, &stubNovelty{passed: true}, stubRisk{passed: true}, nil)

	v := p.Evaluate(context.Background(), "Abstract\nA solar pump.\nMethodology\nField trials.", cleanBudget())
	require.NotEmpty(t, v.ID)
	require.True(t, v.Financial.Passed)
	require.Equal(t, models.StatusApproved, v.Overall.Status)
	require.Equal(t, 100, v.Overall.ApprovalScore)
	require.NotNil(t, v.Document)
	require.Len(t, v.Document.Sections, 2)
	require.Equal(t, 2, v.Preview.SectionsFound)
	require.Equal(t, models.BatchCompleted, v.Preview.Status)
}

func TestEvaluatePassesFullTextToEngines(t *testing.T) {
	nov := &stubNovelty{passed: true, texts: make(chan string, 1)}
	p := newPipeline(t, nov, stubRisk{passed: true}, nil)

	p.Evaluate(context.Background(), "Intro words\nAbstract\nBody words", cleanBudget())
	require.Equal(t, "Intro words Body words", <-nov.texts)
}

func TestEvaluateRejectsOnDisallowedItem(t *testing.T) {
	p := newPipeline(t, &stubNovelty{passed: true}, stubRisk{passed: true}, nil)

	budget := cleanBudget()
	budget.Items = append(budget.Items, "Wine")
	v := p.Evaluate(context.Background(), "text", budget)
	require.False(t, v.Financial.Passed)
	require.Equal(t, models.StatusRejected, v.Overall.Status)
	require.Equal(t, 67, v.Overall.ApprovalScore)
	require.Equal(t, models.RuleFail, v.Overall.Criteria.Financial)
}

func TestEvaluateRecoversEnginePanic(t *testing.T) {
	p := newPipeline(t, &stubNovelty{passed: true}, stubRisk{passed: true}, nil)

	v := p.Evaluate(context.Background(), "this will panic", cleanBudget())
	require.True(t, v.Novelty.Outcome.Degraded)
	require.True(t, v.Novelty.Passed)
	require.Equal(t, models.StatusApproved, v.Overall.Status)
}

func TestEvaluateWritesAuditEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.txt")
	log, err := audit.New(path)
	require.NoError(t, err)
	p := newPipeline(t, &stubNovelty{passed: true}, stubRisk{passed: true}, log)

	_, err = p.EvaluateDocument(context.Background(), evaluation.Document{Name: "p.txt", Data: []byte("proposal body")}, cleanBudget())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Analyzed File: p.txt")
	require.Contains(t, string(data), "Overall Compliance Status: PASS")
}

func TestEvaluateDocumentErrors(t *testing.T) {
	p := newPipeline(t, &stubNovelty{passed: true}, stubRisk{passed: true}, nil)
	ctx := context.Background()

	_, err := p.EvaluateDocument(ctx, evaluation.Document{Name: "a.exe", Data: []byte("x")}, cleanBudget())
	require.True(t, errors.Is(err, extract.ErrUnsupported))

	_, err = p.EvaluateDocument(ctx, evaluation.Document{Name: "broken.docx", Data: []byte("not a zip")}, cleanBudget())
	require.True(t, errors.Is(err, evaluation.ErrUnparseable))

	_, err = p.EvaluateDocument(ctx, evaluation.Document{Name: "blank.txt", Data: []byte("  \n\t ")}, cleanBudget())
	require.True(t, errors.Is(err, evaluation.ErrUnparseable))
}

func TestEvaluateBatch(t *testing.T) {
	nov := &stubNovelty{passed: true}
	p := newPipeline(t, nov, stubRisk{passed: true}, nil)

	docs := []evaluation.Document{
		{Name: "first.txt", Data: []byte("Abstract\nFirst proposal.")},
		{Name: "broken.docx", Data: []byte("garbage")},
		{Name: "third.md", Data: []byte("Third proposal.")},
	}
	report := p.EvaluateBatch(context.Background(), docs, cleanBudget())

	require.Len(t, report.Results, 3)
	for i, r := range report.Results {
		require.Equal(t, i, r.FileIndex)
		require.Equal(t, docs[i].Name, r.Filename)
	}
	require.Equal(t, models.BatchCompleted, report.Results[0].Status)
	require.Equal(t, models.BatchError, report.Results[1].Status)
	require.NotEmpty(t, report.Results[1].ErrorMessage)
	require.Nil(t, report.Results[1].Verdict)
	require.Equal(t, 2, report.Results[2].Verdict.FileIndex)

	s := report.Summary
	require.Equal(t, 3, s.TotalFiles)
	require.Equal(t, 2, s.ApprovedCount)
	require.Equal(t, 0, s.RejectedCount)
	require.Equal(t, 1, s.ErrorCount)
	require.Equal(t, s.TotalFiles, s.ApprovedCount+s.RejectedCount+s.ErrorCount)
	require.Len(t, s.FilesProcessed, 3)
	require.Equal(t, len(docs[0].Data), s.FilesProcessed[0].FileSize)
	require.Equal(t, models.BatchError, s.FilesProcessed[1].Status)
	require.EqualValues(t, 2, nov.calls.Load())
}

func TestEvaluateBatchCountsRejections(t *testing.T) {
	p := newPipeline(t, &stubNovelty{passed: false}, stubRisk{passed: true}, nil)

	report := p.EvaluateBatch(context.Background(), []evaluation.Document{
		{Name: "a.txt", Data: []byte("one")},
		{Name: "b.txt", Data: []byte("two")},
	}, cleanBudget())
	require.Equal(t, 0, report.Summary.ApprovedCount)
	require.Equal(t, 2, report.Summary.RejectedCount)
	require.Equal(t, 0, report.Summary.ErrorCount)
}

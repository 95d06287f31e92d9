// Package evaluation runs the three pre-screening engines over a proposal and
// folds their signals into a single verdict.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/proposal-radar/internal/audit"
	"github.com/DeafMist/proposal-radar/internal/extract"
	"github.com/DeafMist/proposal-radar/internal/finance"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/metrics"
	"github.com/DeafMist/proposal-radar/internal/models"
	"github.com/DeafMist/proposal-radar/internal/novelty"
	"github.com/DeafMist/proposal-radar/internal/processing"
	"github.com/DeafMist/proposal-radar/internal/risk"
)

const (
	defaultConcurrency = 4
	inlineSource       = "inline"
)

// ErrUnparseable reports a document whose text could not be recovered.
var ErrUnparseable = errors.New("could not parse the document")

// NoveltyEngine scores a proposal against the reference corpus.
type NoveltyEngine interface {
	Calculate(ctx context.Context, text string) models.NoveltyResult
}

// RiskEngine predicts the approval class of a proposal.
type RiskEngine interface {
	Predict(text string) models.RiskResult
}

// Deps wires the pipeline collaborators.
type Deps struct {
	Sections    *processing.SectionExtractor
	Documents   *extract.Registry
	Novelty     NoveltyEngine
	Risk        RiskEngine
	Rules       finance.RuleSet
	Audit       *audit.Log
	Log         *slog.Logger
	Concurrency int
}

// Document is one uploaded file.
type Document struct {
	Name string
	Data []byte
}

// Pipeline is safe for concurrent use; every collaborator is read-only after
// construction.
type Pipeline struct {
	sections    *processing.SectionExtractor
	documents   *extract.Registry
	novelty     NoveltyEngine
	risk        RiskEngine
	rules       finance.RuleSet
	audit       *audit.Log
	log         *slog.Logger
	concurrency int
	now         func() time.Time
}

func NewPipeline(d Deps) (*Pipeline, error) {
	if d.Novelty == nil {
		return nil, fmt.Errorf("novelty engine is required")
	}
	if d.Risk == nil {
		return nil, fmt.Errorf("risk engine is required")
	}
	if d.Sections == nil {
		sections, err := processing.NewSectionExtractor(nil)
		if err != nil {
			return nil, err
		}
		d.Sections = sections
	}
	if d.Documents == nil {
		d.Documents = extract.NewRegistry()
	}
	if d.Concurrency <= 0 {
		d.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		sections:    d.Sections,
		documents:   d.Documents,
		novelty:     d.Novelty,
		risk:        d.Risk,
		rules:       d.Rules,
		audit:       d.Audit,
		log:         logger.OrDiscard(d.Log),
		concurrency: d.Concurrency,
		now:         time.Now,
	}, nil
}

// Supports reports whether the file extension has a text extractor.
func (p *Pipeline) Supports(filename string) bool {
	return p.documents.Supports(filename)
}

// Evaluate screens raw proposal text.
func (p *Pipeline) Evaluate(ctx context.Context, text string, budget models.Budget) models.EvaluationVerdict {
	return p.evaluate(ctx, inlineSource, text, budget)
}

// EvaluateDocument extracts the text of an uploaded file and screens it.
func (p *Pipeline) EvaluateDocument(ctx context.Context, doc Document, budget models.Budget) (models.EvaluationVerdict, error) {
	raw, err := p.documents.Extract(doc.Name, doc.Data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			return models.EvaluationVerdict{}, fmt.Errorf("extract %s: %w", doc.Name, err)
		}
		return models.EvaluationVerdict{}, fmt.Errorf("extract %s: %w: %v", doc.Name, ErrUnparseable, err)
	}

	text := processing.NormalizeText(raw)
	if strings.TrimSpace(text) == "" {
		return models.EvaluationVerdict{}, fmt.Errorf("extract %s: %w", doc.Name, ErrUnparseable)
	}

	v := p.evaluate(ctx, doc.Name, text, budget)
	v.Preview.FileSize = len(doc.Data)
	return v, nil
}

func (p *Pipeline) evaluate(ctx context.Context, source, text string, budget models.Budget) models.EvaluationVerdict {
	start := p.now()

	doc := p.sections.Extract(source, text)
	fullText := doc.FullText()

	var (
		nov models.NoveltyResult
		rsk models.RiskResult
	)
	var g errgroup.Group
	g.Go(func() error {
		nov = p.calculateNovelty(ctx, fullText)
		return nil
	})
	g.Go(func() error {
		rsk = p.predictRisk(fullText)
		return nil
	})
	fin := finance.Analyze(budget, p.rules)
	_ = g.Wait()

	if err := p.audit.Record(source, fin.Checks); err != nil {
		p.log.Warn("failed to write audit entry", slog.String("source", source), slog.Any("err", err))
	}

	overall := Combine(nov, fin, rsk)
	v := models.EvaluationVerdict{
		ID:          uuid.NewString(),
		Filename:    source,
		EvaluatedAt: start.UTC(),
		Document:    &doc,
		Novelty:     nov,
		Financial:   fin,
		Risk:        rsk,
		Overall:     overall,
	}
	v.Preview = preview(v, len(text))

	recordMetrics(v, p.now().Sub(start))
	p.log.Info("proposal evaluated",
		slog.String("evaluation_id", v.ID),
		slog.String("source", source),
		slog.String("status", overall.Status),
		slog.Int("approval_score", overall.ApprovalScore),
	)
	return v
}

func (p *Pipeline) calculateNovelty(ctx context.Context, text string) (res models.NoveltyResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("novelty engine panicked", slog.Any("panic", r))
			res = novelty.Neutral(novelty.ReasonEmbedError)
		}
	}()
	return p.novelty.Calculate(ctx, text)
}

func (p *Pipeline) predictRisk(text string) (res models.RiskResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("risk engine panicked", slog.Any("panic", r))
			res = risk.Fallback(risk.ReasonPredictionError)
		}
	}()
	return p.risk.Predict(text)
}

// Combine approves a proposal only when all three engines pass. The score is
// the share of passing engines rounded to a whole percent.
func Combine(n models.NoveltyResult, f models.FinancialResult, r models.RiskResult) models.OverallApproval {
	passed := 0
	for _, ok := range []bool{n.Passed, f.Passed, r.Passed} {
		if ok {
			passed++
		}
	}

	status := models.StatusRejected
	if passed == 3 {
		status = models.StatusApproved
	}
	return models.OverallApproval{
		Passed:        passed == 3,
		Status:        status,
		ApprovalScore: int(math.Round(float64(passed) * 100 / 3)),
		Criteria: models.CriteriaSummary{
			Novelty:   criterion(n.Passed),
			Financial: criterion(f.Passed),
			Risk:      criterion(r.Passed),
		},
	}
}

func criterion(passed bool) models.RuleStatus {
	if passed {
		return models.RulePass
	}
	return models.RuleFail
}

func preview(v models.EvaluationVerdict, size int) models.FilePreview {
	sections := 0
	if v.Document != nil {
		sections = len(v.Document.Sections)
	}
	return models.FilePreview{
		Filename:          v.Filename,
		FileIndex:         v.FileIndex,
		Status:            models.BatchCompleted,
		OverallStatus:     v.Overall.Status,
		ApprovalScore:     v.Overall.ApprovalScore,
		NoveltySimilarity: v.Novelty.SimilarityPercentage,
		FinancialHealth:   v.Financial.HealthScore,
		RiskConfidence:    v.Risk.ConfidencePercent,
		FileSize:          size,
		SectionsFound:     sections,
	}
}

func recordMetrics(v models.EvaluationVerdict, elapsed time.Duration) {
	metrics.Evaluations.WithLabelValues(v.Overall.Status).Inc()
	metrics.EvaluationDuration.Observe(elapsed.Seconds())
	if v.Novelty.Outcome.Degraded {
		metrics.EngineDegraded.WithLabelValues("novelty", v.Novelty.Outcome.Reason).Inc()
	}
	if v.Risk.Outcome.Degraded {
		metrics.EngineDegraded.WithLabelValues("risk", v.Risk.Outcome.Reason).Inc()
	}
}

package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/proposal-radar/internal/metrics"
	"github.com/DeafMist/proposal-radar/internal/models"
)

// EvaluateBatch screens every document against the same budget. A failing
// file becomes an error entry and never aborts the others. Results keep the
// upload order.
func (p *Pipeline) EvaluateBatch(ctx context.Context, docs []Document, budget models.Budget) models.BatchReport {
	results := make([]models.BatchResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			results[i] = p.evaluateEntry(gctx, i, doc, budget)
			return nil
		})
	}
	_ = g.Wait()

	metrics.BatchFiles.Observe(float64(len(docs)))
	return models.BatchReport{
		Summary: summarize(results, p.now().UTC()),
		Results: results,
	}
}

func (p *Pipeline) evaluateEntry(ctx context.Context, i int, doc Document, budget models.Budget) (res models.BatchResult) {
	res = models.BatchResult{Filename: doc.Name, FileIndex: i}

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("batch entry panicked", slog.String("filename", doc.Name), slog.Any("panic", r))
			res.Status = models.BatchError
			res.ErrorMessage = fmt.Sprintf("internal error: %v", r)
			res.Verdict = nil
		}
	}()

	v, err := p.EvaluateDocument(ctx, doc, budget)
	if err != nil {
		p.log.Warn("batch entry failed", slog.String("filename", doc.Name), slog.Any("err", err))
		metrics.Evaluations.WithLabelValues(models.BatchError).Inc()
		res.Status = models.BatchError
		res.ErrorMessage = err.Error()
		return res
	}

	v.FileIndex = i
	v.Preview.FileIndex = i
	res.Status = models.BatchCompleted
	res.Verdict = &v
	return res
}

func summarize(results []models.BatchResult, at time.Time) models.BatchSummary {
	s := models.BatchSummary{
		TotalFiles:     len(results),
		ProcessedAt:    at,
		FilesProcessed: make([]models.FilePreview, 0, len(results)),
	}
	for _, r := range results {
		if r.Status != models.BatchCompleted || r.Verdict == nil {
			s.ErrorCount++
			s.FilesProcessed = append(s.FilesProcessed, models.FilePreview{
				Filename:  r.Filename,
				FileIndex: r.FileIndex,
				Status:    models.BatchError,
			})
			continue
		}
		if r.Verdict.Overall.Passed {
			s.ApprovedCount++
		} else {
			s.RejectedCount++
		}
		s.FilesProcessed = append(s.FilesProcessed, r.Verdict.Preview)
	}
	return s
}

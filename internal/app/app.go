// Package app assembles the evaluation services from configuration. The
// binaries share it so that the indexer and the evaluators always agree on
// the embedding model and the index backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DeafMist/proposal-radar/internal/audit"
	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/DeafMist/proposal-radar/internal/elasticsearch"
	"github.com/DeafMist/proposal-radar/internal/embedding"
	"github.com/DeafMist/proposal-radar/internal/evaluation"
	"github.com/DeafMist/proposal-radar/internal/extract"
	"github.com/DeafMist/proposal-radar/internal/finance"
	"github.com/DeafMist/proposal-radar/internal/index"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/novelty"
	"github.com/DeafMist/proposal-radar/internal/processing"
	"github.com/DeafMist/proposal-radar/internal/risk"
)

// HealthChecker is implemented by index backends that depend on a remote
// service.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// OpenIndex returns the configured similarity index. The Elasticsearch
// backend is returned without touching the cluster.
func OpenIndex(cfg config.Common, log *slog.Logger) (index.Index, error) {
	switch cfg.IndexBackend {
	case config.BackendElasticsearch:
		es, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			return nil, err
		}
		return es, nil
	case config.BackendMemory:
		mem, err := index.NewMemory(cfg.IndexSnapshotPath)
		if err != nil {
			return nil, err
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// Services holds the long-lived collaborators of an evaluating binary.
type Services struct {
	Pipeline *evaluation.Pipeline
	Index    index.Index
	Embedder embedding.Embedder
}

// Health reports the state of the index backend.
func (s *Services) Health(ctx context.Context) error {
	if hc, ok := s.Index.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Close releases the embedding model.
func (s *Services) Close() error {
	if s.Embedder == nil {
		return nil
	}
	return s.Embedder.Close()
}

// Build loads every artifact and wires the evaluation pipeline. Missing
// financial rules or risk artifacts are fatal.
func Build(common config.Common, pipe config.Pipeline, log *slog.Logger) (*Services, error) {
	log = logger.OrDiscard(log)

	rules, err := finance.LoadRules(pipe.RulesPath)
	if err != nil {
		return nil, err
	}

	headers, err := processing.LoadHeaders(pipe.SectionHeadersPath)
	if err != nil {
		return nil, err
	}
	sections, err := processing.NewSectionExtractor(headers)
	if err != nil {
		return nil, err
	}

	riskEngine, err := risk.Load(pipe.RiskVectorizerPath, pipe.RiskModelPath, log)
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.New(pipe.AuditLogPath)
	if err != nil {
		return nil, err
	}

	idx, err := OpenIndex(common, log)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	emb, err := embedding.New(common.Embedding)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	pipeline, err := evaluation.NewPipeline(evaluation.Deps{
		Sections:    sections,
		Documents:   extract.NewRegistry(),
		Novelty:     novelty.NewEngine(emb, idx, pipe.NoveltyTopK, log),
		Risk:        riskEngine,
		Rules:       rules,
		Audit:       auditLog,
		Log:         log,
		Concurrency: pipe.BatchConcurrency,
	})
	if err != nil {
		return nil, errors.Join(err, emb.Close())
	}

	log.Info("evaluation pipeline ready",
		slog.String("index_backend", common.IndexBackend),
		slog.String("embedding_model", emb.ModelID()),
		slog.Int("section_headers", len(headers)),
		slog.Int("disallowed_items", len(rules.DisallowedItems)),
	)
	return &Services{Pipeline: pipeline, Index: idx, Embedder: emb}, nil
}

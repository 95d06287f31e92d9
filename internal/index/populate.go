package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/models"
)

const embedBatch = 32

// TextEmbedder is the part of the embedding model the populator needs.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Populator fills an empty index from the knowledge base. Populate is
// idempotent: a non-empty index is left untouched.
type Populator struct {
	idx Index
	emb TextEmbedder
	log *slog.Logger
	mu  sync.Mutex
}

func NewPopulator(idx Index, emb TextEmbedder, log *slog.Logger) *Populator {
	return &Populator{idx: idx, emb: emb, log: logger.OrDiscard(log)}
}

// Populate embeds every entry and adds it when the index is empty. It
// returns the number of projects written.
func (p *Populator) Populate(ctx context.Context, entries []models.KnowledgeBaseEntry) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, err := p.idx.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	if count > 0 {
		p.log.Info("index already populated", slog.Int("count", count))
		return 0, nil
	}
	if len(entries) == 0 {
		p.log.Warn("knowledge base is empty, nothing to index")
		return 0, nil
	}

	// Every vector is computed before the first write so a failed run leaves
	// the index empty and the next run retries from scratch.
	items := make([]Item, 0, len(entries))
	for start := 0; start < len(entries); start += embedBatch {
		end := start + embedBatch
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = embedText(e)
		}
		vecs, err := p.emb.EmbedTexts(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed knowledge base: %w", err)
		}
		if len(vecs) != len(batch) {
			return 0, fmt.Errorf("embed knowledge base: got %d vectors for %d entries", len(vecs), len(batch))
		}
		for i, e := range batch {
			items = append(items, Item{Entry: e, Vector: vecs[i]})
		}
		p.log.Debug("embedded batch", slog.Int("from", start), slog.Int("to", end))
	}

	added, err := p.idx.Add(ctx, items)
	if err != nil {
		return added, fmt.Errorf("add to index: %w", err)
	}
	p.log.Info("index populated", slog.Int("added", added))
	return added, nil
}

func embedText(e models.KnowledgeBaseEntry) string {
	if strings.TrimSpace(e.FullText) != "" {
		return e.FullText
	}
	return e.Title
}

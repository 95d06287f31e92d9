package novelty

import (
	"context"
	"log/slog"
	"math"

	"github.com/DeafMist/proposal-radar/internal/index"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/models"
)

// Classification thresholds on the similarity percentage.
const (
	RedFlagThreshold = 70
	CautionThreshold = 50

	// MaxSimilarity caps the headline score; the engine never claims identity.
	MaxSimilarity = 95

	neutralSimilarity = 50
	neutralDistance   = 0.5
	defaultTopK       = 3
)

// Degraded reasons.
const (
	ReasonEmptyCorpus = "empty_corpus"
	ReasonEmbedError  = "embedding_error"
	ReasonQueryError  = "query_error"
)

// Embedder is the part of the embedding model the engine needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the part of the similarity index the engine needs.
type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]index.Neighbor, error)
}

// Engine scores how close a proposal is to prior projects. It holds only
// shared read-only collaborators and is safe for concurrent use.
type Engine struct {
	emb  Embedder
	idx  Searcher
	topK int
	log  *slog.Logger
}

func NewEngine(emb Embedder, idx Searcher, topK int, log *slog.Logger) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Engine{emb: emb, idx: idx, topK: topK, log: logger.OrDiscard(log)}
}

// Calculate embeds text and classifies it against its nearest neighbour.
// Failures never propagate: they yield the neutral passing verdict with a
// degraded outcome.
func (e *Engine) Calculate(ctx context.Context, text string) models.NoveltyResult {
	vec, err := e.emb.EmbedText(ctx, text)
	if err != nil {
		e.log.Warn("novelty embedding failed", slog.Any("err", err))
		return Neutral(ReasonEmbedError)
	}
	hits, err := e.idx.Query(ctx, vec, e.topK)
	if err != nil {
		e.log.Warn("novelty query failed", slog.Any("err", err))
		return Neutral(ReasonQueryError)
	}
	if len(hits) == 0 {
		return Neutral(ReasonEmptyCorpus)
	}

	similarity := SimilarityPercent(hits[0].Distance)
	status, passed := Classify(similarity)
	neighbors := make([]models.SimilarProject, len(hits))
	for i, h := range hits {
		neighbors[i] = models.SimilarProject{
			ID:         h.ID,
			Title:      h.Title,
			Similarity: clampRound(h.Distance, 100),
		}
	}
	return models.NoveltyResult{
		SimilarityPercentage: similarity,
		NearestDistance:      hits[0].Distance,
		Status:               status,
		Passed:               passed,
		Neighbors:            neighbors,
	}
}

// Neutral is the verdict used when no comparison is possible.
func Neutral(reason string) models.NoveltyResult {
	return models.NoveltyResult{
		SimilarityPercentage: neutralSimilarity,
		NearestDistance:      neutralDistance,
		Status:               models.NoveltyCaution,
		Passed:               true,
		Neighbors:            []models.SimilarProject{},
		Outcome:              models.Degraded(reason),
	}
}

// SimilarityPercent maps a cosine distance to clamp(0, 95, round((1-d)*100)).
func SimilarityPercent(distance float64) int {
	return clampRound(distance, MaxSimilarity)
}

// Classify buckets a similarity percentage into a status and pass flag.
func Classify(similarity int) (models.NoveltyStatus, bool) {
	switch {
	case similarity >= RedFlagThreshold:
		return models.NoveltyRedFlag, false
	case similarity >= CautionThreshold:
		return models.NoveltyCaution, true
	default:
		return models.NoveltyUnique, true
	}
}

func clampRound(distance float64, ceiling int) int {
	v := math.Round((1 - distance) * 100)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > float64(ceiling) {
		return ceiling
	}
	return int(v)
}

package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/DeafMist/proposal-radar/internal/config"
)

// Embedder maps text to fixed-length vectors. Implementations must be safe
// for concurrent use.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Close() error
}

// New builds the configured embedder wrapped with the vector cache.
func New(cfg config.Embedding) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case config.ProviderHash:
		inner = NewHashEmbedder(cfg.Dimensions)
	case config.ProviderHTTP:
		inner, err = NewHTTPClient(cfg)
	case config.ProviderOpenAI:
		inner, err = NewOpenAIEmbedder(cfg)
	case config.ProviderONNX:
		inner, err = NewOrtEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(inner, cfg.CacheDir)
}

// embedEach embeds texts one at a time through single.
func embedEach(ctx context.Context, texts []string, single func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := single(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Normalize scales vec to unit length in place. Zero vectors are unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

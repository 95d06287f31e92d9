package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/DeafMist/proposal-radar/internal/processing"
)

const defaultHashDimensions = 384

// HashEmbedder is a deterministic bag-of-words embedder based on feature
// hashing. It needs no model files, which makes it the offline fallback.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hashing embedder with the given width.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) ModelID() string { return fmt.Sprintf("fnv-hash-%d", h.dims) }

func (h *HashEmbedder) Close() error { return nil }

func (h *HashEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, tok := range processing.Tokenize(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		// The top bit picks the sign so collisions tend to cancel out.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec), nil
}

func (h *HashEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, h.EmbedText)
}

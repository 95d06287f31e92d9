package index

import (
	"context"
	"math"

	"github.com/DeafMist/proposal-radar/internal/models"
)

// Item is one knowledge base project with its embedding.
type Item struct {
	Entry  models.KnowledgeBaseEntry
	Vector []float32
}

// Neighbor is a query hit. Distance is the cosine distance 1 - cos(a, b),
// so smaller means more similar.
type Neighbor struct {
	ID       string
	Title    string
	Distance float64
}

// Index is a persistent vector store of prior projects. Every backend uses
// cosine distance.
type Index interface {
	Count(ctx context.Context) (int, error)
	// Add stores items whose project id is not yet present and reports how
	// many were written.
	Add(ctx context.Context, items []Item) (int, error)
	// Query returns up to k nearest neighbours ordered by ascending distance.
	Query(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

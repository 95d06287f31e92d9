package index_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DeafMist/proposal-radar/internal/index"
	"github.com/DeafMist/proposal-radar/internal/models"
	"github.com/stretchr/testify/require"
)

func item(id string, vec ...float32) index.Item {
	return index.Item{Entry: models.KnowledgeBaseEntry{ProjectID: id, Title: "Project " + id}, Vector: vec}
}

func TestCosineDistance(t *testing.T) {
	require.InDelta(t, 0.0, index.CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-9)
	require.InDelta(t, 1.0, index.CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, 2.0, index.CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	require.Equal(t, 1.0, index.CosineDistance([]float32{0, 0}, []float32{1, 0}))
}

func TestMemoryQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	m, err := index.NewMemory("")
	require.NoError(t, err)

	added, err := m.Add(ctx, []index.Item{
		item("far", 0, 1),
		item("near", 1, 0.1),
		item("mid", 1, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 3, added)

	hits, err := m.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "near", hits[0].ID)
	require.Equal(t, "Project near", hits[0].Title)
	require.Equal(t, "mid", hits[1].ID)
	require.Less(t, hits[0].Distance, hits[1].Distance)
}

func TestMemoryAddSkipsExistingIDs(t *testing.T) {
	ctx := context.Background()
	m, err := index.NewMemory("")
	require.NoError(t, err)

	n, err := m.Add(ctx, []index.Item{item("a", 1), item("a", 2), item("b", 1)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = m.Add(ctx, []index.Item{item("b", 3)})
	require.NoError(t, err)
	require.Zero(t, n)

	count, _ := m.Count(ctx)
	require.Equal(t, 2, count)
}

func TestMemorySnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "proposals.json")

	m, err := index.NewMemory(path)
	require.NoError(t, err)
	_, err = m.Add(ctx, []index.Item{item("p1", 1, 0), item("p2", 0, 1)})
	require.NoError(t, err)

	reopened, err := index.NewMemory(path)
	require.NoError(t, err)
	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	hits, err := reopened.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Equal(t, "p2", hits[0].ID)
}

func TestMemoryQueryEmpty(t *testing.T) {
	m, err := index.NewMemory("")
	require.NoError(t, err)
	hits, err := m.Query(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	require.Empty(t, hits)
}

type stubEmbedder struct {
	calls  atomic.Int32
	err    error
	failOn int32
}

func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	call := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.failOn > 0 && call == s.failOn {
		return nil, errors.New("embedder timed out")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func entries(n int) []models.KnowledgeBaseEntry {
	out := make([]models.KnowledgeBaseEntry, n)
	for i := range out {
		out[i] = models.KnowledgeBaseEntry{ProjectID: string(rune('a' + i%26)) + string(rune('0'+i/26)), Title: "t", FullText: "text"}
	}
	return out
}

func TestPopulateOnce(t *testing.T) {
	ctx := context.Background()
	m, err := index.NewMemory("")
	require.NoError(t, err)
	emb := &stubEmbedder{}
	p := index.NewPopulator(m, emb, nil)

	added, err := p.Populate(ctx, entries(40))
	require.NoError(t, err)
	require.Equal(t, 40, added)
	require.EqualValues(t, 2, emb.calls.Load())

	added, err = p.Populate(ctx, entries(40))
	require.NoError(t, err)
	require.Zero(t, added)
	require.EqualValues(t, 2, emb.calls.Load())

	count, _ := m.Count(ctx)
	require.Equal(t, 40, count)
}

func TestPopulateConcurrentCallersWriteOnce(t *testing.T) {
	ctx := context.Background()
	m, err := index.NewMemory("")
	require.NoError(t, err)
	p := index.NewPopulator(m, &stubEmbedder{}, nil)

	var (
		wg    sync.WaitGroup
		total atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := p.Populate(ctx, entries(5))
			if err == nil {
				total.Add(int32(n))
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 5, total.Load())
}

func TestPopulateEmbedError(t *testing.T) {
	m, err := index.NewMemory("")
	require.NoError(t, err)
	p := index.NewPopulator(m, &stubEmbedder{err: errors.New("model offline")}, nil)

	_, err = p.Populate(context.Background(), entries(3))
	require.ErrorContains(t, err, "model offline")
}

func TestPopulateFailedRunCanBeRetried(t *testing.T) {
	ctx := context.Background()
	m, err := index.NewMemory("")
	require.NoError(t, err)
	p := index.NewPopulator(m, &stubEmbedder{failOn: 2}, nil)

	added, err := p.Populate(ctx, entries(40))
	require.ErrorContains(t, err, "embedder timed out")
	require.Zero(t, added)
	count, err := m.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	added, err = p.Populate(ctx, entries(40))
	require.NoError(t, err)
	require.Equal(t, 40, added)
	count, err = m.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 40, count)
}

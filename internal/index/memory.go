package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/DeafMist/proposal-radar/internal/models"
)

// Memory is a brute-force index kept in memory and optionally mirrored to a
// JSON snapshot file.
type Memory struct {
	path string

	mu    sync.RWMutex
	items []Item
	ids   map[string]struct{}
}

type snapshotItem struct {
	Entry  models.KnowledgeBaseEntry `json:"entry"`
	Vector []float32                 `json:"vector"`
}

// NewMemory opens the index and loads the snapshot at path when it exists.
// An empty path keeps the index purely in memory.
func NewMemory(path string) (*Memory, error) {
	m := &Memory{path: path, ids: make(map[string]struct{})}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}
	var snap []snapshotItem
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	for _, s := range snap {
		if _, dup := m.ids[s.Entry.ProjectID]; dup {
			continue
		}
		m.ids[s.Entry.ProjectID] = struct{}{}
		m.items = append(m.items, Item{Entry: s.Entry, Vector: s.Vector})
	}
	return m, nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *Memory) Add(_ context.Context, items []Item) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, it := range items {
		if _, dup := m.ids[it.Entry.ProjectID]; dup {
			continue
		}
		m.ids[it.Entry.ProjectID] = struct{}{}
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		m.items = append(m.items, Item{Entry: it.Entry, Vector: vec})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := m.saveLocked(); err != nil {
		return added, err
	}
	return added, nil
}

func (m *Memory) Query(_ context.Context, vec []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	items := m.items
	m.mu.RUnlock()
	if len(items) == 0 || k <= 0 {
		return nil, nil
	}

	hits := make([]Neighbor, 0, len(items))
	for _, it := range items {
		hits = append(hits, Neighbor{
			ID:       it.Entry.ProjectID,
			Title:    it.Entry.Title,
			Distance: CosineDistance(vec, it.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) saveLocked() error {
	if m.path == "" {
		return nil
	}
	snap := make([]snapshotItem, len(m.items))
	for i, it := range m.items {
		snap[i] = snapshotItem{Entry: it.Entry, Vector: it.Vector}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace index snapshot: %w", err)
	}
	return nil
}

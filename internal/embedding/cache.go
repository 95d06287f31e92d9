package embedding

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/DeafMist/proposal-radar/internal/processing"
)

// Cached memoises vectors of an inner embedder in memory and, when a cache
// directory is set, on disk. Keys cover the model id and normalized text.
type Cached struct {
	inner Embedder
	dir   string

	mu  sync.RWMutex
	mem map[string][]float32
}

// NewCached wraps inner. An empty dir disables the disk layer.
func NewCached(inner Embedder, dir string) (*Cached, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cached{inner: inner, dir: dir, mem: make(map[string][]float32)}, nil
}

func (c *Cached) ModelID() string { return c.inner.ModelID() }

func (c *Cached) Close() error { return c.inner.Close() }

// EmbedText returns the cached vector for text or computes and stores it.
func (c *Cached) EmbedText(ctx context.Context, text string) ([]float32, error) {
	normalized := processing.NormalizeText(text)
	key := c.key(normalized)
	if vec, ok := c.get(key); ok {
		return vec, nil
	}
	if vec, err := c.load(key); err == nil {
		c.put(key, vec)
		return cloneVector(vec), nil
	}
	vec, err := c.inner.EmbedText(ctx, normalized)
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	_ = c.save(key, vec)
	return cloneVector(vec), nil
}

// EmbedTexts embeds texts in order, batching the cache misses.
func (c *Cached) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var (
		missing   []string
		missingAt []int
	)
	for i, t := range texts {
		normalized := processing.NormalizeText(t)
		keys[i] = c.key(normalized)
		if vec, ok := c.get(keys[i]); ok {
			out[i] = vec
			continue
		}
		if vec, err := c.load(keys[i]); err == nil {
			c.put(keys[i], vec)
			out[i] = cloneVector(vec)
			continue
		}
		missing = append(missing, normalized)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, vec := range vecs {
		i := missingAt[j]
		c.put(keys[i], vec)
		_ = c.save(keys[i], vec)
		out[i] = cloneVector(vec)
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.inner.ModelID())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cached) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.mem[key]
	if !ok {
		return nil, false
	}
	return cloneVector(vec), true
}

func (c *Cached) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = cloneVector(vec)
}

func (c *Cached) load(key string) ([]float32, error) {
	if c.dir == "" {
		return nil, os.ErrNotExist
	}
	path := filepath.Join(c.dir, key+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("cache file broken: %s", path)
	}
	length := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) != 4+length*4 {
		return nil, errors.New("cache length mismatch: " + path)
	}
	vec := make([]float32, length)
	if err := binary.Read(bytes.NewReader(data[4:]), binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Cached) save(key string, vec []float32) error {
	if c.dir == "" {
		return nil
	}
	path := filepath.Join(c.dir, key+".bin")
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(vec)))
	if err := binary.Write(&buf, binary.LittleEndian, vec); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

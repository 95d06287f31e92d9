package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/DeafMist/proposal-radar/internal/index"
	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/models"
)

const vectorField = "embedding"

// Client stores knowledge base projects as dense vectors in Elasticsearch.
// It implements index.Index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

type projectDoc struct {
	models.KnowledgeBaseEntry
	Embedding []float32 `json:"embedding"`
}

// New instantiates the Elasticsearch client.
func New(addr, indexName string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, index: indexName, log: logger.OrDiscard(log)}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// EnsureIndex creates the project index with a cosine dense_vector mapping
// unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"project_id":          map[string]any{"type": "keyword"},
				"project_title":       map[string]any{"type": "text"},
				"implementing_agency": map[string]any{"type": "keyword"},
				"year":                map[string]any{"type": "integer"},
				"status":              map[string]any{"type": "keyword"},
				"full_text":           map[string]any{"type": "text", "index": false},
				vectorField: map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another process may have created it between the two calls.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(data)))
	}
	c.log.Info("created index", slog.String("index", c.index), slog.Int("dims", dims))
	return nil
}

// Count returns the number of stored projects. A missing index counts as empty.
func (c *Client) Count(ctx context.Context) (int, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("count failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return parsed.Count, nil
}

// Add bulk-creates projects keyed by project id. Documents that already
// exist are skipped, which keeps concurrent indexers from duplicating rows.
func (c *Client) Add(ctx context.Context, items []index.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, it := range items {
		meta := map[string]any{"create": map[string]any{"_index": c.index, "_id": it.Entry.ProjectID}}
		if err := enc.Encode(meta); err != nil {
			return 0, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(projectDoc{KnowledgeBaseEntry: it.Entry, Embedding: it.Vector}); err != nil {
			return 0, fmt.Errorf("marshal project: %w", err)
		}
	}

	res, err := c.es.Bulk(bytes.NewReader(body.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("bulk index failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Items []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode bulk response: %w", err)
	}

	added := 0
	var failed []string
	for _, item := range parsed.Items {
		for _, r := range item {
			switch {
			case r.Status == http.StatusCreated:
				added++
			case r.Status == http.StatusConflict:
				c.log.Debug("project already indexed", slog.String("id", r.ID))
			default:
				failed = append(failed, r.ID)
			}
		}
	}
	if len(failed) > 0 {
		return added, fmt.Errorf("bulk index rejected %d documents: %s", len(failed), strings.Join(failed, ", "))
	}
	return added, nil
}

// Query runs an approximate kNN search and converts the cosine scores back
// to distances.
func (c *Client) Query(ctx context.Context, vec []float32, k int) ([]index.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	candidates := k * 10
	if candidates < 50 {
		candidates = 50
	}
	body := map[string]any{
		"size":    k,
		"_source": []string{"project_id", "project_title"},
		"knn": map[string]any{
			"field":          vectorField,
			"query_vector":   vec,
			"k":              k,
			"num_candidates": candidates,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	// Nothing has been indexed yet.
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					ProjectID string `json:"project_id"`
					Title     string `json:"project_title"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]index.Neighbor, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, index.Neighbor{
			ID:       hit.Source.ProjectID,
			Title:    hit.Source.Title,
			Distance: ScoreToDistance(hit.Score),
		})
	}
	return out, nil
}

// ScoreToDistance inverts the cosine kNN score (1 + cos) / 2 into the
// cosine distance 1 - cos.
func ScoreToDistance(score float64) float64 {
	d := 2 - 2*score
	if d < 0 {
		return 0
	}
	return d
}

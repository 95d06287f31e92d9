package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DeafMist/proposal-radar/internal/config"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INDEX_BACKEND", "ELASTICSEARCH_ADDR", "ELASTICSEARCH_INDEX", "INDEX_SNAPSHOT_PATH",
		"KNOWLEDGE_BASE_PATH", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIM",
		"EMBEDDING_ENDPOINT", "EMBEDDING_API_KEY", "EMBEDDING_BATCH_SIZE",
		"FINANCIAL_RULES_PATH", "NOVELTY_TOP_K", "BATCH_CONCURRENCY",
		"API_BIND_ADDR", "API_MAX_BATCH_FILES", "API_MAX_UPLOAD_MB",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_VERDICT_TOPIC", "KAFKA_CONSUMER_GROUP",
		"WORKER_DEDUPE_CAPACITY", "WORKER_DEDUPE_TTL", "WORKER_QUEUE_CAPACITY",
		"INDEXER_MAX_RETRIES", "INDEXER_RETRY_DELAY", "INDEXER_MAX_RETRY_DELAY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAPIDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	require.Equal(t, 10, cfg.MaxBatchFiles)
	require.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	require.Equal(t, config.BackendElasticsearch, cfg.IndexBackend)
	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "proposals", cfg.ElasticsearchIndex)
	require.Equal(t, config.ProviderONNX, cfg.Embedding.Provider)
	require.Equal(t, 384, cfg.Embedding.Dimensions)
	require.Equal(t, "configs/financial_rules.yaml", cfg.RulesPath)
	require.Equal(t, 3, cfg.NoveltyTopK)
	require.Equal(t, 4, cfg.BatchConcurrency)
}

func TestLoadAPIOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_MAX_BATCH_FILES", "3")
	t.Setenv("INDEX_BACKEND", "MEMORY")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIM", "64")
	t.Setenv("NOVELTY_TOP_K", "5")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 3, cfg.MaxBatchFiles)
	require.Equal(t, config.BackendMemory, cfg.IndexBackend)
	require.Equal(t, config.ProviderHash, cfg.Embedding.Provider)
	require.Equal(t, 64, cfg.Embedding.Dimensions)
	require.Equal(t, 5, cfg.NoveltyTopK)
}

func TestLoadAPIValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"INDEX_BACKEND": "sqlite"}},
		{name: "unknown provider", env: map[string]string{"EMBEDDING_PROVIDER": "magic"}},
		{name: "http without endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "http"}},
		{name: "openai without key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}},
		{name: "negative top k", env: map[string]string{"NOVELTY_TOP_K": "-1"}},
		{name: "zero batch files", env: map[string]string{"API_MAX_BATCH_FILES": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadAPI()
			require.Error(t, err)
		})
	}
}

func TestLoadWorker(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "7")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "proposal_requests", cfg.KafkaTopic)
	require.Equal(t, "proposal_verdicts", cfg.KafkaVerdictTopic)
	require.Equal(t, "proposal-worker", cfg.KafkaConsumer)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 7, cfg.DedupeCapacity)
}

func TestLoadWorkerRejectsSameTopics(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_TOPIC", "same")
	t.Setenv("KAFKA_VERDICT_TOPIC", "same")

	_, err := config.LoadWorker()
	require.Error(t, err)
}

func TestLoadIndexer(t *testing.T) {
	clearEnv(t)
	t.Setenv("INDEXER_MAX_RETRIES", "4")
	t.Setenv("INDEXER_RETRY_DELAY", "bogus")

	cfg, err := config.LoadIndexer()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.RetryDelay)
	require.Equal(t, 30*time.Second, cfg.MaxDelay)
}

func TestLoadKBBuild(t *testing.T) {
	t.Setenv("KB_SPREADSHEET_PATH", "in.xlsx")
	t.Setenv("KB_CONTENT_DIR", "texts")
	t.Setenv("KNOWLEDGE_BASE_PATH", "out.json")

	cfg, err := config.LoadKBBuild()
	require.NoError(t, err)
	require.Equal(t, "in.xlsx", cfg.SpreadsheetPath)
	require.Equal(t, "texts", cfg.ContentDir)
	require.Equal(t, "out.json", cfg.OutputPath)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PROPOSAL_RADAR_TEST_VALUE=from-file\n"), 0o644))
	t.Setenv("PROPOSAL_RADAR_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("PROPOSAL_RADAR_TEST_VALUE"))

	require.NoError(t, config.LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "from-file", os.Getenv("PROPOSAL_RADAR_TEST_VALUE"))
}

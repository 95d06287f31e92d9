package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Index backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// Embedding providers.
const (
	ProviderHash   = "hash"
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
)

// Embedding selects and configures the embedding model shared by the indexer
// and the novelty engine. Both must use the same settings.
type Embedding struct {
	Provider      string
	ModelID       string
	Dimensions    int
	Endpoint      string
	APIKey        string
	BatchSize     int
	CacheDir      string
	OrtLibrary    string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
}

// Common contains index and embedding parameters shared by every service.
type Common struct {
	IndexBackend       string
	ElasticsearchAddr  string
	ElasticsearchIndex string
	IndexSnapshotPath  string
	KnowledgeBasePath  string
	Embedding          Embedding
}

// Pipeline configures the evaluation engines.
type Pipeline struct {
	RulesPath          string
	SectionHeadersPath string
	RiskModelPath      string
	RiskVectorizerPath string
	AuditLogPath       string
	NoveltyTopK        int
	BatchConcurrency   int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Pipeline
	BindAddr       string
	MaxBatchFiles  int
	MaxUploadBytes int64
}

// Worker holds configuration for the Kafka evaluation worker.
type Worker struct {
	Common
	Pipeline
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaVerdictTopic string
	KafkaConsumer     string
	DedupeCapacity    int
	DedupeTTL         time.Duration
	QueueCapacity     int
}

// Indexer configures the one-shot knowledge base indexing job.
type Indexer struct {
	Common
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// KBBuild configures the knowledge base builder.
type KBBuild struct {
	SpreadsheetPath string
	ContentDir      string
	OutputPath      string
}

// LoadDotEnv loads variables from the given .env files when they exist.
// Variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	pipeline, err := loadPipeline()
	if err != nil {
		return nil, err
	}
	c := &API{
		Common:         *common,
		Pipeline:       *pipeline,
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		MaxBatchFiles:  getInt("API_MAX_BATCH_FILES", 10),
		MaxUploadBytes: int64(getInt("API_MAX_UPLOAD_MB", 32)) << 20,
	}

	if c.MaxBatchFiles <= 0 {
		return nil, fmt.Errorf("API_MAX_BATCH_FILES must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("API_MAX_UPLOAD_MB must be positive")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	pipeline, err := loadPipeline()
	if err != nil {
		return nil, err
	}
	c := &Worker{
		Common:            *common,
		Pipeline:          *pipeline,
		KafkaBrokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "proposal_requests"),
		KafkaVerdictTopic: getEnv("KAFKA_VERDICT_TOPIC", "proposal_verdicts"),
		KafkaConsumer:     getEnv("KAFKA_CONSUMER_GROUP", "proposal-worker"),
		DedupeCapacity:    getInt("WORKER_DEDUPE_CAPACITY", 5000),
		DedupeTTL:         getDuration("WORKER_DEDUPE_TTL", "24h"),
		QueueCapacity:     getInt("WORKER_QUEUE_CAPACITY", 10),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.KafkaTopic == c.KafkaVerdictTopic {
		return nil, fmt.Errorf("KAFKA_VERDICT_TOPIC must differ from KAFKA_TOPIC")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.QueueCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_QUEUE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadIndexer builds an Indexer config from environment variables.
func LoadIndexer() (*Indexer, error) {
	common, err := loadCommon()
	if err != nil {
		return nil, err
	}
	c := &Indexer{
		Common:     *common,
		MaxRetries: getInt("INDEXER_MAX_RETRIES", 10),
		RetryDelay: getDuration("INDEXER_RETRY_DELAY", "2s"),
		MaxDelay:   getDuration("INDEXER_MAX_RETRY_DELAY", "30s"),
	}

	if c.MaxRetries <= 0 {
		return nil, fmt.Errorf("INDEXER_MAX_RETRIES must be positive")
	}
	if c.RetryDelay <= 0 || c.MaxDelay < c.RetryDelay {
		return nil, fmt.Errorf("INDEXER_RETRY_DELAY must be positive and not exceed INDEXER_MAX_RETRY_DELAY")
	}

	return c, nil
}

// LoadKBBuild builds a KBBuild config from environment variables.
func LoadKBBuild() (*KBBuild, error) {
	c := &KBBuild{
		SpreadsheetPath: getEnv("KB_SPREADSHEET_PATH", "data/raw/project_database.xlsx"),
		ContentDir:      getEnv("KB_CONTENT_DIR", "data/raw/proposals/content"),
		OutputPath:      getEnv("KNOWLEDGE_BASE_PATH", "data/processed/knowledge_base.json"),
	}
	if c.SpreadsheetPath == c.OutputPath {
		return nil, fmt.Errorf("KNOWLEDGE_BASE_PATH must differ from KB_SPREADSHEET_PATH")
	}
	return c, nil
}

func loadCommon() (*Common, error) {
	c := &Common{
		IndexBackend:       strings.ToLower(getEnv("INDEX_BACKEND", BackendElasticsearch)),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "proposals"),
		IndexSnapshotPath:  getEnv("INDEX_SNAPSHOT_PATH", "vector_db/proposals.json"),
		KnowledgeBasePath:  getEnv("KNOWLEDGE_BASE_PATH", "data/processed/knowledge_base.json"),
		Embedding: Embedding{
			Provider:      strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderONNX)),
			ModelID:       getEnv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
			Dimensions:    getInt("EMBEDDING_DIM", 384),
			Endpoint:      getEnv("EMBEDDING_ENDPOINT", ""),
			APIKey:        getEnv("EMBEDDING_API_KEY", ""),
			BatchSize:     getInt("EMBEDDING_BATCH_SIZE", 32),
			CacheDir:      getEnv("EMBEDDING_CACHE_DIR", ""),
			OrtLibrary:    getEnv("ORT_SHARED_LIBRARY", ""),
			ModelPath:     getEnv("EMBEDDING_ONNX_MODEL", "models/all-MiniLM-L6-v2/model.onnx"),
			TokenizerPath: getEnv("EMBEDDING_TOKENIZER", "models/all-MiniLM-L6-v2/tokenizer.json"),
			MaxSeqLen:     getInt("EMBEDDING_MAX_SEQ_LEN", 256),
		},
	}

	switch c.IndexBackend {
	case BackendElasticsearch, BackendMemory:
	default:
		return nil, fmt.Errorf("INDEX_BACKEND must be %q or %q", BackendElasticsearch, BackendMemory)
	}
	switch c.Embedding.Provider {
	case ProviderHash, ProviderONNX:
	case ProviderHTTP, ProviderOpenAI:
		if c.Embedding.Provider == ProviderHTTP && c.Embedding.Endpoint == "" {
			return nil, fmt.Errorf("EMBEDDING_ENDPOINT is required for the http provider")
		}
		if c.Embedding.Provider == ProviderOpenAI && c.Embedding.APIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY is required for the openai provider")
		}
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		return nil, fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive")
	}

	return c, nil
}

func loadPipeline() (*Pipeline, error) {
	c := &Pipeline{
		RulesPath:          getEnv("FINANCIAL_RULES_PATH", "configs/financial_rules.yaml"),
		SectionHeadersPath: getEnv("SECTION_HEADERS_FILE", ""),
		RiskModelPath:      getEnv("RISK_MODEL_PATH", "trained_models/risk_model.json"),
		RiskVectorizerPath: getEnv("RISK_VECTORIZER_PATH", "trained_models/tfidf_vectorizer.json"),
		AuditLogPath:       getEnv("AUDIT_LOG_PATH", "financial_audit_log.txt"),
		NoveltyTopK:        getInt("NOVELTY_TOP_K", 3),
		BatchConcurrency:   getInt("BATCH_CONCURRENCY", 4),
	}

	if c.NoveltyTopK <= 0 {
		return nil, fmt.Errorf("NOVELTY_TOP_K must be positive")
	}
	if c.BatchConcurrency <= 0 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Package config loads the corpus indexing platform's configuration surface
// (§6): chunking, pipeline, retrieval and forum options, plus the embedder
// and vector-index connection settings, from a YAML file overlaid with
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Chunking configures the Markdown and Forum chunkers.
type Chunking struct {
	MaxTokens          int    `yaml:"maxTokens"`
	OverlapTokens      int    `yaml:"overlapTokens"`
	AbsoluteMaxTokens  int    `yaml:"absoluteMaxTokens"`
	EmbeddingModel     string `yaml:"embeddingModel"`
	FailFastValidation bool   `yaml:"failFastValidation"`
}

// Pipeline configures the ingestion worker pools.
type Pipeline struct {
	EmbeddingThreads int  `yaml:"embeddingThreads"`
	UpsertThreads    int  `yaml:"upsertThreads"`
	Resume           bool `yaml:"resume"`
}

// Retrieval configures the query-time retrieval engine.
type Retrieval struct {
	RetrievalCount             int     `yaml:"retrievalCount"`
	GroupByThreadOnRetrieval   bool    `yaml:"groupByThreadOnRetrieval"`
	TimeDecayWeighting         bool    `yaml:"timeDecayWeighting"`
	TimeDecayHalfLifeDays      float64 `yaml:"timeDecayHalfLifeDays"`
	MaxPostsPerThreadInContext int     `yaml:"maxPostsPerThreadInContext"`
}

// Forum configures forum-specific chunking behavior.
type Forum struct {
	EmbedQuotedContent   bool   `yaml:"embedQuotedContent"`
	QuotedContentNamespace string `yaml:"quotedContentNamespace"`
	SkipUnchangedPosts   bool   `yaml:"skipUnchangedPosts"`
}

// Embedder configures the HTTP embedding provider.
type Embedder struct {
	BaseURL   string        `yaml:"baseUrl"`
	Path      string        `yaml:"path"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	APIHeader string        `yaml:"apiHeader"`
	Timeout   time.Duration `yaml:"timeout"`
	Dimension int           `yaml:"dimension"`
}

// VectorIndex configures the Qdrant connection.
type VectorIndex struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
}

// Config is the complete configuration surface of the platform.
type Config struct {
	CorpusRoot  string      `yaml:"corpusRoot"`
	ProgressDir string      `yaml:"progressDir"`
	StatePath   string      `yaml:"statePath"`
	LogLevel    string      `yaml:"logLevel"`
	LogPath     string      `yaml:"logPath"`
	OTLPEndpoint string     `yaml:"otlpEndpoint"`

	Chunking    Chunking    `yaml:"chunking"`
	Pipeline    Pipeline    `yaml:"pipeline"`
	Retrieval   Retrieval   `yaml:"retrieval"`
	Forum       Forum       `yaml:"forum"`
	Embedder    Embedder    `yaml:"embedder"`
	VectorIndex VectorIndex `yaml:"vectorIndex"`
}

// Default returns the configuration surface defaults enumerated in §6.
func Default() Config {
	return Config{
		CorpusRoot:  ".",
		ProgressDir: ".progress",
		StatePath:   "ragcore.db",
		LogLevel:    "info",
		Chunking: Chunking{
			MaxTokens:         800,
			OverlapTokens:     120,
			AbsoluteMaxTokens: 1024,
		},
		Pipeline: Pipeline{
			EmbeddingThreads: 4,
			UpsertThreads:    2,
		},
		Retrieval: Retrieval{
			RetrievalCount:             30,
			GroupByThreadOnRetrieval:   true,
			TimeDecayHalfLifeDays:      365,
			MaxPostsPerThreadInContext: 10,
		},
		Forum: Forum{
			SkipUnchangedPosts: true,
		},
		Embedder: Embedder{
			Path:      "/embeddings",
			APIHeader: "Authorization",
			Timeout:   30 * time.Second,
			Dimension: 1536,
		},
		VectorIndex: VectorIndex{
			Collection: "corpus_chunks",
			Metric:     "cosine",
		},
	}
}

// Load reads a YAML config file at path (if it exists), then overlays
// recognized RAGCORE_* environment variables (loaded from a .env file at
// envPath first, if present -- a no-op if the file is absent).
func Load(path, envPath string) (Config, error) {
	_ = godotenv.Load(envPath)

	cfg := Default()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	str(&cfg.CorpusRoot, "RAGCORE_CORPUS_ROOT")
	str(&cfg.ProgressDir, "RAGCORE_PROGRESS_DIR")
	str(&cfg.StatePath, "RAGCORE_STATE_PATH")
	str(&cfg.LogLevel, "RAGCORE_LOG_LEVEL")
	str(&cfg.LogPath, "RAGCORE_LOG_PATH")
	str(&cfg.OTLPEndpoint, "RAGCORE_OTLP_ENDPOINT")

	intv(&cfg.Chunking.MaxTokens, "RAGCORE_CHUNKING_MAX_TOKENS")
	intv(&cfg.Chunking.OverlapTokens, "RAGCORE_CHUNKING_OVERLAP_TOKENS")
	intv(&cfg.Chunking.AbsoluteMaxTokens, "RAGCORE_CHUNKING_ABSOLUTE_MAX_TOKENS")
	str(&cfg.Chunking.EmbeddingModel, "RAGCORE_EMBEDDING_MODEL")
	boolv(&cfg.Chunking.FailFastValidation, "RAGCORE_CHUNKING_FAIL_FAST")

	intv(&cfg.Pipeline.EmbeddingThreads, "RAGCORE_PIPELINE_EMBEDDING_THREADS")
	intv(&cfg.Pipeline.UpsertThreads, "RAGCORE_PIPELINE_UPSERT_THREADS")
	boolv(&cfg.Pipeline.Resume, "RAGCORE_PIPELINE_RESUME")

	intv(&cfg.Retrieval.RetrievalCount, "RAGCORE_RETRIEVAL_COUNT")
	boolv(&cfg.Retrieval.GroupByThreadOnRetrieval, "RAGCORE_RETRIEVAL_GROUP_BY_THREAD")
	boolv(&cfg.Retrieval.TimeDecayWeighting, "RAGCORE_RETRIEVAL_TIME_DECAY")
	floatv(&cfg.Retrieval.TimeDecayHalfLifeDays, "RAGCORE_RETRIEVAL_TIME_DECAY_HALF_LIFE_DAYS")
	intv(&cfg.Retrieval.MaxPostsPerThreadInContext, "RAGCORE_RETRIEVAL_MAX_POSTS_PER_THREAD")

	boolv(&cfg.Forum.EmbedQuotedContent, "RAGCORE_FORUM_EMBED_QUOTED_CONTENT")
	str(&cfg.Forum.QuotedContentNamespace, "RAGCORE_FORUM_QUOTED_NAMESPACE")
	boolv(&cfg.Forum.SkipUnchangedPosts, "RAGCORE_FORUM_SKIP_UNCHANGED")

	str(&cfg.Embedder.BaseURL, "RAGCORE_EMBEDDER_BASE_URL")
	str(&cfg.Embedder.Path, "RAGCORE_EMBEDDER_PATH")
	str(&cfg.Embedder.Model, "RAGCORE_EMBEDDER_MODEL")
	str(&cfg.Embedder.APIKey, "RAGCORE_EMBEDDER_API_KEY")
	str(&cfg.Embedder.APIHeader, "RAGCORE_EMBEDDER_API_HEADER")
	intv(&cfg.Embedder.Dimension, "RAGCORE_EMBEDDER_DIMENSION")

	str(&cfg.VectorIndex.DSN, "RAGCORE_QDRANT_DSN")
	str(&cfg.VectorIndex.Collection, "RAGCORE_QDRANT_COLLECTION")
	str(&cfg.VectorIndex.Metric, "RAGCORE_QDRANT_METRIC")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func intv(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatv(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolv(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the settings that every operation depends on: the
// embedder base URL, model and a positive dimension, and the vector-index
// DSN. The embedder API key is not checked, since a keyless endpoint is
// valid. Callers check this before starting a server rather than failing
// on the first request.
func (c Config) Validate() error {
	if c.Embedder.BaseURL == "" {
		return fmt.Errorf("embedder.baseUrl (RAGCORE_EMBEDDER_BASE_URL) is required")
	}
	if c.Embedder.Model == "" {
		return fmt.Errorf("embedder.model (RAGCORE_EMBEDDER_MODEL) is required")
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	if c.VectorIndex.DSN == "" {
		return fmt.Errorf("vectorIndex.dsn (RAGCORE_QDRANT_DSN) is required")
	}
	return nil
}

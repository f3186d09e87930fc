// Package cmd provides the ragctl CLI commands.
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/corpusrag/ragcore/internal/config"
	"github.com/corpusrag/ragcore/internal/observability"
	"github.com/corpusrag/ragcore/internal/rag/chunker"
	"github.com/corpusrag/ragcore/internal/rag/embedder"
	"github.com/corpusrag/ragcore/internal/rag/obs"
	"github.com/corpusrag/ragcore/internal/rag/pipeline"
	"github.com/corpusrag/ragcore/internal/rag/service"
	"github.com/corpusrag/ragcore/internal/rag/statestore"
	"github.com/corpusrag/ragcore/internal/rag/vectorindex"
)

var (
	cfgPath string
	envPath string
)

// NewRootCmd assembles the ragctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Operate the corpus RAG indexing and retrieval platform",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "ragctl.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to a .env file overlaying configuration")

	root.AddCommand(newIngestCmd())
	root.AddCommand(newRetrieveCmd())
	root.AddCommand(newHealthCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// buildService loads configuration and wires a Service against it, per §6's
// external interfaces. Callers must invoke the returned cleanup func.
func buildService(ctx context.Context) (*service.Service, config.Config, func(), error) {
	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdownMeter, err := obs.InitMeterProvider(ctx, cfg.OTLPEndpoint, "ragctl")
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("init meter provider: %w", err)
	}

	state, err := statestore.Open(cfg.StatePath)
	if err != nil {
		shutdownMeter(ctx)
		return nil, config.Config{}, nil, fmt.Errorf("open state store: %w", err)
	}

	index, err := vectorindex.Open(ctx, cfg.VectorIndex.DSN, cfg.VectorIndex.Collection, cfg.Embedder.Dimension, cfg.VectorIndex.Metric)
	if err != nil {
		state.Close()
		shutdownMeter(ctx)
		return nil, config.Config{}, nil, fmt.Errorf("open vector index: %w", err)
	}
	if err := index.EnsureCollection(ctx, cfg.Embedder.Dimension); err != nil {
		index.Close()
		state.Close()
		shutdownMeter(ctx)
		return nil, config.Config{}, nil, fmt.Errorf("ensure collection: %w", err)
	}

	httpClient := observability.NewHTTPClient(&http.Client{Timeout: cfg.Embedder.Timeout})
	emb := embedder.NewHTTPEmbedder(embedder.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		Path:      cfg.Embedder.Path,
		Model:     cfg.Embedder.Model,
		APIKey:    cfg.Embedder.APIKey,
		APIHeader: cfg.Embedder.APIHeader,
		Timeout:   cfg.Embedder.Timeout,
	}, cfg.Embedder.Dimension, httpClient, embedder.DefaultRetryConfig())

	svc := service.New(cfg.CorpusRoot, state, index, emb,
		service.WithLogger(obs.NewZerologLogger(log.Logger)),
		service.WithMetrics(obs.NewOtelMetrics()),
		service.WithPipelineConfig(pipeline.Config{
			EmbeddingThreads: cfg.Pipeline.EmbeddingThreads,
			UpsertThreads:    cfg.Pipeline.UpsertThreads,
			QueueSize:        pipeline.DefaultConfig().QueueSize,
			UpsertBatchSize:  pipeline.DefaultConfig().UpsertBatchSize,
		}),
		service.WithMarkdownOptions(chunker.MarkdownOptions{
			MaxTokens:          cfg.Chunking.MaxTokens,
			OverlapTokens:      cfg.Chunking.OverlapTokens,
			AbsoluteMaxTokens:  cfg.Chunking.AbsoluteMaxTokens,
			EmbeddingModel:     cfg.Chunking.EmbeddingModel,
			FailFastValidation: cfg.Chunking.FailFastValidation,
		}),
		service.WithForumOptions(chunker.ForumOptions{
			MaxTokens:              cfg.Chunking.MaxTokens,
			OverlapTokens:          cfg.Chunking.OverlapTokens,
			EmbeddingModel:         cfg.Chunking.EmbeddingModel,
			EmbedQuotedContent:     cfg.Forum.EmbedQuotedContent,
			QuotedContentNamespace: cfg.Forum.QuotedContentNamespace,
		}),
	)

	cleanup := func() {
		index.Close()
		state.Close()
		shutdownMeter(ctx)
	}
	return svc, cfg, cleanup, nil
}

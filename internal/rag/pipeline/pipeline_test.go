package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/corpusrag/ragcore/internal/rag/embedder"
	"github.com/corpusrag/ragcore/internal/rag/progress"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"github.com/corpusrag/ragcore/internal/rag/statestore"
	"github.com/corpusrag/ragcore/internal/rag/vectorindex"
)

func newTestDeps(t *testing.T) (Deps, *statestore.Store, *progress.Tracker, *vectorindex.Fake) {
	t.Helper()
	state, err := statestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	tr, err := progress.Create(filepath.Join(t.TempDir(), "progress.json"), "test-session", 0, 0)
	if err != nil {
		t.Fatalf("create progress: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	idx := vectorindex.NewFake()
	idx.EnsureCollection(context.Background(), 32)

	return Deps{
		Embedder:       embedder.NewDeterministic(32, true, 1),
		Index:          idx,
		State:          state,
		Progress:       tr,
		EmbeddingModel: "deterministic",
	}, state, tr, idx
}

func makeSource(key string, n int) Source {
	chunks := make([]sourceunit.Chunk, n)
	for i := range chunks {
		chunks[i] = sourceunit.Chunk{ID: key + "-" + string(rune('a'+i)), SourceKey: key, Content: "chunk content number"}
	}
	return Source{Key: key, ContentHash: "hash-" + key, Chunks: chunks}
}

func TestRun_EmbedsAndUpsertsAllChunks(t *testing.T) {
	deps, state, _, idx := newTestDeps(t)
	sources := []Source{makeSource("a.md", 3), makeSource("b.md", 2)}

	diag, err := Run(context.Background(), DefaultConfig(), deps, sources)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diag.ProcessedChunks != 5 {
		t.Fatalf("expected 5 processed chunks, got %d", diag.ProcessedChunks)
	}
	if diag.FailedChunks != 0 {
		t.Fatalf("expected no failures, got %d", diag.FailedChunks)
	}

	matches, _ := idx.Search(context.Background(), []float32{1}, 100, nil)
	if len(matches) != 5 {
		t.Fatalf("expected 5 points in index, got %d", len(matches))
	}

	fs, ok, err := state.Get(context.Background(), "a.md")
	if err != nil || !ok {
		t.Fatalf("expected file state for a.md: ok=%v err=%v", ok, err)
	}
	if len(fs.ChunkIDs) != 3 {
		t.Fatalf("expected 3 chunk ids recorded for a.md, got %d", len(fs.ChunkIDs))
	}
}

type failingEmbedder struct {
	failOn string
}

func (f *failingEmbedder) Name() string   { return "failing" }
func (f *failingEmbedder) Dimension() int { return 4 }
func (f *failingEmbedder) Ping(context.Context) error { return nil }
func (f *failingEmbedder) EmbedOne(_ context.Context, text string) ([]float32, int, bool, error) {
	if text == f.failOn {
		return nil, 0, false, errors.New("embedding rejected")
	}
	return []float32{1, 0, 0, 0}, 0, false, nil
}

func TestRun_ContinuesPastPerChunkFailure(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	deps.Embedder = &failingEmbedder{failOn: "bad chunk"}

	src := Source{Key: "c.md", ContentHash: "h", Chunks: []sourceunit.Chunk{
		{ID: "c1", Content: "good chunk"},
		{ID: "c2", Content: "bad chunk"},
		{ID: "c3", Content: "good chunk"},
	}}

	diag, err := Run(context.Background(), DefaultConfig(), deps, []Source{src})
	if err != nil {
		t.Fatalf("run should not abort on per-chunk failure: %v", err)
	}
	if diag.ProcessedChunks != 2 {
		t.Fatalf("expected 2 processed chunks, got %d", diag.ProcessedChunks)
	}
	if diag.FailedChunks != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", diag.FailedChunks)
	}
}

func TestRun_SkipsChunksAlreadyMarkedProcessed(t *testing.T) {
	deps, _, tr, idx := newTestDeps(t)
	src := makeSource("d.md", 3)

	tr.InitFile("d.md", 3)
	tr.MarkProcessed("d.md", 0)
	tr.MarkProcessed("d.md", 1)

	diag, err := Run(context.Background(), DefaultConfig(), deps, []Source{src})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diag.ProcessedChunks != 1 {
		t.Fatalf("expected only the unskipped chunk processed, got %d", diag.ProcessedChunks)
	}
	matches, _ := idx.Search(context.Background(), []float32{1}, 100, nil)
	if len(matches) != 1 {
		t.Fatalf("expected only 1 new point upserted, got %d", len(matches))
	}
}

type wrongDimEmbedder struct{ dim int }

func (f *wrongDimEmbedder) Name() string                      { return "wrong-dim" }
func (f *wrongDimEmbedder) Dimension() int                     { return f.dim }
func (f *wrongDimEmbedder) Ping(context.Context) error         { return nil }
func (f *wrongDimEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, int, bool, error) {
	return []float32{1, 2, 3}, 0, false, nil // always 3, regardless of f.dim
}

func TestRun_DimensionMismatchAbortsSessionBeforeUpsert(t *testing.T) {
	deps, _, _, idx := newTestDeps(t)
	deps.Embedder = &wrongDimEmbedder{dim: 32}

	src := makeSource("e.md", 2)
	diag, err := Run(context.Background(), DefaultConfig(), deps, []Source{src})
	if err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
	if diag.ProcessedChunks != 0 {
		t.Fatalf("expected no chunks processed before abort, got %d", diag.ProcessedChunks)
	}
	matches, _ := idx.Search(context.Background(), []float32{1}, 100, nil)
	if len(matches) != 0 {
		t.Fatalf("expected no points upserted before abort, got %d", len(matches))
	}
}

func TestRun_AbsoluteMaxTokensFailFastRecordsPerChunkFailure(t *testing.T) {
	deps, _, _, _ := newTestDeps(t)
	deps.AbsoluteMaxTokens = 10
	deps.FailFastValidation = true

	src := Source{Key: "f.md", ContentHash: "h", Chunks: []sourceunit.Chunk{
		{ID: "f1", Content: "short", TokenCount: 3},
		{ID: "f2", Content: "way too long for the configured bound", TokenCount: 50},
	}}

	diag, err := Run(context.Background(), DefaultConfig(), deps, []Source{src})
	if err != nil {
		t.Fatalf("run should not abort the session on a per-chunk token bound violation: %v", err)
	}
	if diag.ProcessedChunks != 1 {
		t.Fatalf("expected 1 processed chunk, got %d", diag.ProcessedChunks)
	}
	if diag.FailedChunks != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", diag.FailedChunks)
	}
}

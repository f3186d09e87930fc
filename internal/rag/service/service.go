// Package service exposes the admin control surface of the RAG platform:
// ingestion in its several modes, retrieval, and health, wiring together
// the reader, chunker, pipeline, state store, progress tracker, vector
// index, and retrieval engine.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corpusrag/ragcore/internal/rag/chunker"
	"github.com/corpusrag/ragcore/internal/rag/embedder"
	"github.com/corpusrag/ragcore/internal/rag/fingerprint"
	"github.com/corpusrag/ragcore/internal/rag/obs"
	"github.com/corpusrag/ragcore/internal/rag/pipeline"
	"github.com/corpusrag/ragcore/internal/rag/progress"
	"github.com/corpusrag/ragcore/internal/rag/reader"
	"github.com/corpusrag/ragcore/internal/rag/retrieval"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"github.com/corpusrag/ragcore/internal/rag/statestore"
	"github.com/corpusrag/ragcore/internal/rag/tokencount"
	"github.com/corpusrag/ragcore/internal/rag/vectorindex"
)

// Service provides the high-level ingest/retrieve/health operations
// described by §4 of the corpus indexing spec.
type Service struct {
	root string

	state    *statestore.Store
	index    vectorindex.Index
	embedder embedder.Embedder

	log     obs.Logger
	metrics obs.Metrics
	clock   obs.Clock

	counter       tokencount.Counter
	markdownOpts  chunker.MarkdownOptions
	forumOpts     chunker.ForumOptions
	pipelineCfg   pipeline.Config
	progressPath  func(sessionID string) string
}

// Option configures a Service during construction.
type Option func(*Service)

func WithLogger(l obs.Logger) Option     { return func(s *Service) { s.log = l } }
func WithMetrics(m obs.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithClock(c obs.Clock) Option       { return func(s *Service) { s.clock = c } }
func WithEmbedder(e embedder.Embedder) Option { return func(s *Service) { s.embedder = e } }
func WithPipelineConfig(c pipeline.Config) Option { return func(s *Service) { s.pipelineCfg = c } }
func WithMarkdownOptions(o chunker.MarkdownOptions) Option {
	return func(s *Service) { s.markdownOpts = o }
}
func WithForumOptions(o chunker.ForumOptions) Option { return func(s *Service) { s.forumOpts = o } }

// New constructs a Service rooted at the corpus directory root, backed by
// state and index. emb must be non-nil.
func New(root string, state *statestore.Store, index vectorindex.Index, emb embedder.Embedder, opts ...Option) *Service {
	s := &Service{
		root:         root,
		state:        state,
		index:        index,
		embedder:     emb,
		log:          obs.NoopLogger{},
		metrics:      obs.NoopMetrics{},
		clock:        obs.SystemClock{},
		counter:      tokencount.New(""),
		markdownOpts: chunker.DefaultMarkdownOptions(),
		forumOpts:    chunker.DefaultForumOptions(),
		pipelineCfg:  pipeline.DefaultConfig(),
		progressPath: func(sessionID string) string { return filepath.Join(root, ".progress", sessionID+".json") },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IngestReport summarizes one ingestion run for the caller.
type IngestReport struct {
	SessionID   string
	Diagnostics pipeline.Diagnostics
}

// IngestIncremental walks the corpus and re-indexes only files and posts
// whose content hash has changed since the last recorded state, per §2.
func (s *Service) IngestIncremental(ctx context.Context, sessionID string) (IngestReport, error) {
	all, err := s.discover(ctx)
	if err != nil {
		return IngestReport{}, err
	}
	changed := make([]pipeline.Source, 0, len(all))
	for _, src := range all {
		var priorHash string
		var ok bool
		var err error
		if src.IsPost {
			priorHash, ok, err = s.state.GetPostFingerprint(ctx, src.ThreadID, src.PostID)
		} else {
			var fs statestore.FileState
			fs, ok, err = s.state.Get(ctx, src.Key)
			priorHash = fs.ContentHash
		}
		if err != nil {
			return IngestReport{}, fmt.Errorf("lookup prior state: %w", err)
		}
		if ok && priorHash == src.ContentHash {
			continue
		}
		if ok {
			filter := map[string]string{"sourceFile": src.Key}
			if src.IsPost {
				filter = map[string]string{"threadId": src.ThreadID, "postId": src.PostID}
			}
			if err := s.index.DeleteByFilter(ctx, filter); err != nil {
				s.log.Error("failed to evict stale vectors before reindex", map[string]any{"source": src.Key, "error": err.Error()})
			}
		}
		changed = append(changed, src)
	}
	return s.run(ctx, sessionID, changed)
}

// IngestFull re-indexes every file and post in the corpus unconditionally.
// Per §4.10, a full ingest drops the collection, clears state and progress,
// and ensures a fresh collection before re-ingesting everything -- a plain
// state clear alone would leave a shrunk file's now-unreferenced higher
// chunk indices orphaned in the index, since chunk ids are deterministic
// and a smaller file never revisits them for deletion.
func (s *Service) IngestFull(ctx context.Context, sessionID string) (IngestReport, error) {
	sources, err := s.discover(ctx)
	if err != nil {
		return IngestReport{}, err
	}
	if err := s.index.DropCollection(ctx); err != nil {
		return IngestReport{}, fmt.Errorf("drop collection: %w", err)
	}
	if err := s.state.ClearAll(ctx); err != nil {
		return IngestReport{}, fmt.Errorf("clear state: %w", err)
	}
	if err := s.clearProgress(); err != nil {
		return IngestReport{}, fmt.Errorf("clear progress: %w", err)
	}
	if err := s.index.EnsureCollection(ctx, s.index.Dimension()); err != nil {
		return IngestReport{}, fmt.Errorf("ensure collection: %w", err)
	}
	return s.run(ctx, sessionID, sources)
}

// clearProgress removes every prior session's progress file so a full
// ingest never resumes from (or skips chunks recorded in) stale progress.
func (s *Service) clearProgress() error {
	dir := filepath.Dir(s.progressPath("_"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// IngestFullPartial re-indexes a bounded slice [startIndex, startIndex+maxChunksPerBatch)
// of the full corpus's chunk stream, for operators reingesting in controlled
// batches against a rate-limited embedding endpoint.
func (s *Service) IngestFullPartial(ctx context.Context, sessionID string, maxChunksPerBatch, startIndex int) (IngestReport, error) {
	sources, err := s.discover(ctx)
	if err != nil {
		return IngestReport{}, err
	}
	batch := sliceChunkWindow(sources, startIndex, maxChunksPerBatch)
	return s.run(ctx, sessionID, batch)
}

// IngestSelected re-indexes only the named paths (file paths or thread JSON
// paths), regardless of whether their content has changed.
func (s *Service) IngestSelected(ctx context.Context, sessionID string, paths []string) (IngestReport, error) {
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[filepath.ToSlash(p)] = true
	}
	all, err := s.discover(ctx)
	if err != nil {
		return IngestReport{}, err
	}
	selected := make([]pipeline.Source, 0, len(paths))
	for _, src := range all {
		if want[src.Key] {
			selected = append(selected, src)
		}
	}
	return s.run(ctx, sessionID, selected)
}

func (s *Service) run(ctx context.Context, sessionID string, sources []pipeline.Source) (IngestReport, error) {
	totalChunks := 0
	for _, src := range sources {
		totalChunks += len(src.Chunks)
	}

	tr, err := createOrLoadProgress(s.progressPath(sessionID), sessionID, len(sources), totalChunks)
	if err != nil {
		return IngestReport{}, fmt.Errorf("progress tracker: %w", err)
	}
	defer tr.Close()
	for _, src := range sources {
		tr.InitFile(src.Key, len(src.Chunks))
	}

	deps := pipeline.Deps{
		Embedder:           s.embedder,
		Index:              s.index,
		State:              s.state,
		Progress:           tr,
		Logger:             s.log,
		Metrics:            s.metrics,
		Clock:              s.clock,
		EmbeddingModel:     s.embedder.Name(),
		AbsoluteMaxTokens:  s.markdownOpts.AbsoluteMaxTokens,
		FailFastValidation: s.markdownOpts.FailFastValidation,
		MetadataFor:        chunkMetadata,
	}

	diag, err := pipeline.Run(ctx, s.pipelineCfg, deps, sources)
	s.metrics.IncCounter("ingestion_runs_total", map[string]string{"session": sessionID})
	return IngestReport{SessionID: sessionID, Diagnostics: diag}, err
}

// Retrieve runs the retrieval engine over the corpus, per §4.11.
func (s *Service) Retrieve(ctx context.Context, query string, opt retrieval.Options) (retrieval.Result, error) {
	eng := &retrieval.Engine{Embedder: s.embedder, Index: s.index, Metrics: s.metrics, Clock: s.clock}
	return eng.Retrieve(ctx, query, opt)
}

// Health reports whether the embedder is reachable and the vector index's
// configured dimension. The vector index itself is not contacted, so its
// reachability and point count are not reported.
type Health struct {
	EmbedderOK bool
	EmbedderErr string
	IndexDim   int
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{IndexDim: s.index.Dimension()}
	if err := s.embedder.Ping(ctx); err != nil {
		h.EmbedderErr = err.Error()
	} else {
		h.EmbedderOK = true
	}
	return h
}

// discover walks the corpus root, chunking every Markdown doc and forum
// thread into pipeline Sources, grounded on the reader+chunker components.
func (s *Service) discover(ctx context.Context) ([]pipeline.Source, error) {
	var sources []pipeline.Source
	mc := chunker.Markdown{Counter: s.counter}
	fc := chunker.Forum{Counter: s.counter}

	err := reader.Walk(s.root, nil, func(ref reader.FileRef) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch strings.ToLower(filepath.Ext(ref.RelPath)) {
		case ".md", ".mdx":
			doc, err := reader.ReadMarkdown(ref)
			if err != nil {
				s.log.Error("failed to read markdown doc", map[string]any{"file": ref.RelPath, "error": err.Error()})
				return nil
			}
			chunks, validationErrs, err := mc.Chunk(doc, s.markdownOpts)
			if err != nil {
				s.log.Error("failed to chunk markdown doc", map[string]any{"file": ref.RelPath, "error": err.Error()})
				return nil
			}
			for _, v := range validationErrs {
				s.log.Error("chunk validation warning", map[string]any{"file": ref.RelPath, "warning": v})
			}
			sources = append(sources, pipeline.Source{
				Key:         doc.Key(),
				ContentHash: fingerprint.Of(doc.Body),
				Chunks:      chunks,
			})
		case ".json":
			thread, err := reader.ReadThreadJSON(ref)
			if err != nil {
				s.log.Error("failed to read thread json", map[string]any{"file": ref.RelPath, "error": err.Error()})
				return nil
			}
			for _, post := range thread.Posts {
				if !post.IsSubstantive {
					continue
				}
				chunks := fc.Chunk(post, s.forumOpts)
				sources = append(sources, pipeline.Source{
					Key:         post.Key(),
					ContentHash: post.Fingerprint,
					IsPost:      true,
					ThreadID:    post.ThreadID,
					PostID:      post.PostID,
					Chunks:      chunks,
				})
			}
		}
		return nil
	})
	return sources, err
}

// createOrLoadProgress resumes an existing session's progress file if one is
// already on disk, otherwise starts a fresh one, per §4.7's resumability.
func createOrLoadProgress(path, sessionID string, totalFiles, totalChunks int) (*progress.Tracker, error) {
	if _, err := os.Stat(path); err == nil {
		return progress.Load(path)
	}
	return progress.Create(path, sessionID, totalFiles, totalChunks)
}

func sliceChunkWindow(sources []pipeline.Source, startIndex, maxChunks int) []pipeline.Source {
	if maxChunks <= 0 {
		return sources
	}
	out := make([]pipeline.Source, 0, len(sources))
	seen, taken := 0, 0
	for _, src := range sources {
		n := len(src.Chunks)
		if seen+n <= startIndex {
			seen += n
			continue
		}
		from := 0
		if seen < startIndex {
			from = startIndex - seen
		}
		avail := n - from
		if avail <= 0 {
			seen += n
			continue
		}
		take := avail
		if taken+take > maxChunks {
			take = maxChunks - taken
		}
		if take <= 0 {
			break
		}
		clipped := src
		clipped.Chunks = src.Chunks[from : from+take]
		out = append(out, clipped)
		taken += take
		seen += n
		if taken >= maxChunks {
			break
		}
	}
	return out
}

func chunkMetadata(src pipeline.Source, c sourceunit.Chunk) map[string]string {
	md := map[string]string{"content": c.Content}
	if src.IsPost {
		md["docType"] = "forum_post"
		md["threadId"] = src.ThreadID
		md["postId"] = src.PostID
	} else {
		md["docType"] = "doc"
		md["sourceFile"] = src.Key
	}
	switch meta := c.Metadata.(type) {
	case sourceunit.DocChunkMetadata:
		md["docTitle"] = meta.DocTitle
		md["category"] = meta.DocCategory
		if len(meta.ImageURLs) > 0 {
			md["imageUrls"] = strings.Join(meta.ImageURLs, "|")
		}
	case sourceunit.ForumChunkMetadata:
		md["username"] = meta.Username
		md["date"] = meta.Date
		if len(meta.Images) > 0 {
			md["imageUrls"] = strings.Join(meta.Images, "|")
		}
	}
	return md
}

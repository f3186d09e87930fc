// Package pipeline implements the bounded, concurrent producer-embed-upsert
// engine of §4.10: a single producer feeds an independent embedding worker
// pool, which feeds an independent upsert worker pool, communicating over
// bounded channels with no global ordering guarantee across sources.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corpusrag/ragcore/internal/rag/embedder"
	"github.com/corpusrag/ragcore/internal/rag/obs"
	"github.com/corpusrag/ragcore/internal/rag/progress"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"github.com/corpusrag/ragcore/internal/rag/statestore"
	"github.com/corpusrag/ragcore/internal/rag/vectorindex"
)

// Source is one file or forum post worth of chunks to ingest. The pipeline
// treats it as the unit of state-store bookkeeping: the corresponding
// file/post row is upserted once every one of its chunks has either been
// upserted or permanently failed, listing only the upserted chunk IDs.
type Source struct {
	Key         string // file path, or "thread/post" for forum posts
	ContentHash string
	IsPost      bool
	ThreadID    string
	PostID      string
	Chunks      []sourceunit.Chunk
}

// Config tunes the two worker pools and their connecting queues.
type Config struct {
	EmbeddingThreads int
	UpsertThreads    int
	QueueSize        int
	UpsertBatchSize  int
}

// DefaultConfig matches the pool sizes and queue depth named in §5.
func DefaultConfig() Config {
	return Config{EmbeddingThreads: 4, UpsertThreads: 2, QueueSize: 64, UpsertBatchSize: 16}
}

// Deps are the collaborators the pipeline drives; all are required except
// Logger/Metrics/Clock, which default to no-ops.
type Deps struct {
	Embedder embedder.Embedder
	Index    vectorindex.Index
	State    *statestore.Store
	Progress *progress.Tracker
	Logger   obs.Logger
	Metrics  obs.Metrics
	Clock    obs.Clock

	EmbeddingModel     string
	AbsoluteMaxTokens  int
	FailFastValidation bool
	MetadataFor        func(src Source, chunk sourceunit.Chunk) map[string]string
}

func (d *Deps) applyDefaults() {
	if d.Logger == nil {
		d.Logger = obs.NoopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = obs.NoopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = obs.SystemClock{}
	}
	if d.MetadataFor == nil {
		d.MetadataFor = func(Source, sourceunit.Chunk) map[string]string { return nil }
	}
}

// FailedItem records a chunk that could not be embedded or upserted.
type FailedItem struct {
	SourceKey string
	ChunkID   string
	Index     int
	Err       error
}

// Diagnostics summarizes one Run, per §4.10.
type Diagnostics struct {
	TotalChunks            int
	ProcessedChunks        int
	FailedChunks           int
	PeakEmbeddingInFlight  int
	PeakUpsertInFlight     int
	EmbeddingLatencyMeanMS float64
	RateLimitHits          int
	RetryCount             int
	WallTime               time.Duration
	VectorsPerSecond       float64
	FailedItems            []FailedItem
}

type embedJob struct {
	src   Source
	index int
	chunk sourceunit.Chunk
}

type upsertJob struct {
	embedJob
	vector  []float32
	latency time.Duration
}

// fileTracker accumulates per-source completion so the state store is only
// updated once every chunk of a source has succeeded or permanently failed.
type fileTracker struct {
	mu        sync.Mutex
	remaining map[string]int
	chunkIDs  map[string][]string
	sources   map[string]Source
}

func newFileTracker(sources []Source) *fileTracker {
	ft := &fileTracker{
		remaining: make(map[string]int, len(sources)),
		chunkIDs:  make(map[string][]string, len(sources)),
		sources:   make(map[string]Source, len(sources)),
	}
	for _, s := range sources {
		ft.remaining[s.Key] = len(s.Chunks)
		ft.sources[s.Key] = s
	}
	return ft
}

// complete records one chunk outcome for src and reports the accumulated
// chunk IDs plus whether this was the source's last outstanding chunk.
func (ft *fileTracker) complete(key, chunkID string) ([]string, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if chunkID != "" {
		ft.chunkIDs[key] = append(ft.chunkIDs[key], chunkID)
	}
	ft.remaining[key]--
	done := ft.remaining[key] <= 0
	var ids []string
	if done {
		ids = ft.chunkIDs[key]
	}
	return ids, done
}

// Run drives the two-pool pipeline to completion or until ctx is canceled.
// Canceling ctx stops the producer and lets in-flight work drain before
// flushing progress, rather than dropping it.
func Run(ctx context.Context, cfg Config, deps Deps, sources []Source) (Diagnostics, error) {
	deps.applyDefaults()
	if cfg.EmbeddingThreads <= 0 {
		cfg.EmbeddingThreads = 1
	}
	if cfg.UpsertThreads <= 0 {
		cfg.UpsertThreads = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 1
	}

	start := deps.Clock.Now()
	ft := newFileTracker(sources)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// workCtx carries the embed and upsert calls. It is not canceled with
	// ctx, so queued and in-flight chunks drain; only abort cancels it.
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer workCancel()

	embedCh := make(chan embedJob, cfg.QueueSize)
	upsertCh := make(chan upsertJob, cfg.QueueSize)

	var diag Diagnostics
	var diagMu sync.Mutex
	var embedInFlight, upsertInFlight int64
	var latencySumMS float64
	var latencyCount int64

	// abort makes a dimension mismatch (or other session-fatal condition)
	// stop the session per §7/§8: the first abort wins, cancels runCtx so
	// the producer and both pools stop pulling new work, and its error
	// takes priority over a plain context-canceled return.
	var abortOnce sync.Once
	var abortErr error
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancel()
			workCancel()
		})
	}

	// Producer: streams chunks not already processed, per-file monotonic
	// resume via Progress.ShouldSkip.
	go func() {
		defer close(embedCh)
		for _, src := range sources {
			total := len(src.Chunks)
			if total == 0 {
				continue
			}
			for i, c := range src.Chunks {
				if deps.Progress != nil && deps.Progress.ShouldSkip(src.Key, i) {
					if ids, done := ft.complete(src.Key, c.ID); done {
						finalizeSource(runCtx, deps, src, ids)
					}
					continue
				}
				select {
				case <-runCtx.Done():
					return
				case embedCh <- embedJob{src: src, index: i, chunk: c}:
				}
			}
			diagMu.Lock()
			diag.TotalChunks += total
			diagMu.Unlock()
		}
	}()

	// Embedding pool.
	var embedWG sync.WaitGroup
	for i := 0; i < cfg.EmbeddingThreads; i++ {
		embedWG.Add(1)
		go func() {
			defer embedWG.Done()
			for job := range embedCh {
				// §4.10: the embedding worker validates the chunk against
				// absoluteMaxTokens before calling the Embedder Client.
				if deps.AbsoluteMaxTokens > 0 && job.chunk.TokenCount > deps.AbsoluteMaxTokens {
					if deps.FailFastValidation {
						recordFailure(runCtx, deps, &diag, &diagMu, ft, job.src, job.index, job.chunk.ID,
							fmt.Errorf("chunk %s token count %d exceeds absoluteMaxTokens %d", job.chunk.ID, job.chunk.TokenCount, deps.AbsoluteMaxTokens))
						continue
					}
					deps.Logger.Error("chunk exceeds absoluteMaxTokens", map[string]any{
						"source": job.src.Key, "chunkId": job.chunk.ID,
						"tokenCount": job.chunk.TokenCount, "absoluteMaxTokens": deps.AbsoluteMaxTokens,
					})
				}

				n := atomic.AddInt64(&embedInFlight, 1)
				bumpPeak(&diagMu, &diag.PeakEmbeddingInFlight, int(n))

				t0 := deps.Clock.Now()
				vec, retries, rateLimited, err := deps.Embedder.EmbedOne(workCtx, job.chunk.Content)
				elapsed := deps.Clock.Now().Sub(t0)

				atomic.AddInt64(&embedInFlight, -1)

				diagMu.Lock()
				diag.RetryCount += retries
				if rateLimited {
					diag.RateLimitHits++
				}
				latencySumMS += float64(elapsed.Milliseconds())
				latencyCount++
				diagMu.Unlock()
				deps.Metrics.ObserveHistogram("embedding_latency_ms", float64(elapsed.Milliseconds()), map[string]string{"source": job.src.Key})

				if err != nil {
					recordFailure(runCtx, deps, &diag, &diagMu, ft, job.src, job.index, job.chunk.ID, err)
					continue
				}

				// §4.8/§8: a vector whose length doesn't match the
				// collection's configured dimension is session-fatal, not a
				// per-chunk failure -- abort before this vector (or any
				// still in flight) reaches the upsert pool.
				if expectedDim := deps.Embedder.Dimension(); expectedDim > 0 && len(vec) != expectedDim {
					abort(fmt.Errorf("dimension mismatch: embedder returned vector of length %d, expected %d", len(vec), expectedDim))
					return
				}

				select {
				case <-workCtx.Done():
					return
				case upsertCh <- upsertJob{embedJob: job, vector: vec, latency: elapsed}:
				}
			}
		}()
	}

	go func() {
		embedWG.Wait()
		close(upsertCh)
	}()

	// Upsert pool, batching locally before writing to the index.
	var upsertWG sync.WaitGroup
	for i := 0; i < cfg.UpsertThreads; i++ {
		upsertWG.Add(1)
		go func() {
			defer upsertWG.Done()
			batch := make([]upsertJob, 0, cfg.UpsertBatchSize)
			flush := func() {
				if len(batch) == 0 {
					return
				}
				n := atomic.AddInt64(&upsertInFlight, int64(len(batch)))
				bumpPeak(&diagMu, &diag.PeakUpsertInFlight, int(n))

				points := make([]vectorindex.Point, len(batch))
				for i, j := range batch {
					points[i] = vectorindex.Point{ID: j.chunk.ID, Vector: j.vector, Metadata: deps.MetadataFor(j.src, j.chunk)}
				}
				err := deps.Index.Upsert(workCtx, points)
				atomic.AddInt64(&upsertInFlight, -int64(len(batch)))

				for _, j := range batch {
					if err != nil {
						recordFailure(runCtx, deps, &diag, &diagMu, ft, j.src, j.index, j.chunk.ID, err)
						continue
					}
					if deps.Progress != nil {
						deps.Progress.MarkProcessed(j.src.Key, j.index)
					}
					diagMu.Lock()
					diag.ProcessedChunks++
					diagMu.Unlock()
					deps.Metrics.IncCounter("ingestion_chunks_upserted_total", map[string]string{"source": j.src.Key})

					if ids, done := ft.complete(j.src.Key, j.chunk.ID); done {
						finalizeSource(runCtx, deps, j.src, ids)
					}
				}
				batch = batch[:0]
			}
			for job := range upsertCh {
				batch = append(batch, job)
				if len(batch) >= cfg.UpsertBatchSize {
					flush()
				}
			}
			flush()
		}()
	}

	upsertWG.Wait()

	if deps.Progress != nil {
		_ = deps.Progress.Flush()
	}
	if deps.State != nil {
		_ = deps.State.Flush(ctx)
	}

	diagMu.Lock()
	diag.FailedChunks = len(diag.FailedItems)
	if latencyCount > 0 {
		diag.EmbeddingLatencyMeanMS = latencySumMS / float64(latencyCount)
	}
	diagMu.Unlock()

	diag.WallTime = deps.Clock.Now().Sub(start)
	if diag.WallTime > 0 {
		diag.VectorsPerSecond = float64(diag.ProcessedChunks) / diag.WallTime.Seconds()
	}

	if abortErr != nil {
		return diag, fmt.Errorf("session aborted: %w", abortErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return diag, fmt.Errorf("ingestion canceled: %w", ctxErr)
	}
	return diag, nil
}

func bumpPeak(mu *sync.Mutex, peak *int, candidate int) {
	mu.Lock()
	if candidate > *peak {
		*peak = candidate
	}
	mu.Unlock()
}

func recordFailure(ctx context.Context, deps Deps, diag *Diagnostics, mu *sync.Mutex, ft *fileTracker, src Source, index int, chunkID string, err error) {
	if deps.Progress != nil {
		deps.Progress.MarkFailed(src.Key, index, chunkID, err)
	}
	deps.Metrics.IncCounter("ingestion_failed_chunks_total", map[string]string{"source": src.Key})
	deps.Logger.Error("chunk ingestion failed", map[string]any{"source": src.Key, "index": index, "chunk_id": chunkID, "error": err.Error()})

	mu.Lock()
	diag.FailedItems = append(diag.FailedItems, FailedItem{SourceKey: src.Key, ChunkID: chunkID, Index: index, Err: err})
	mu.Unlock()

	if ids, done := ft.complete(src.Key, ""); done {
		finalizeSource(ctx, deps, src, ids)
	}
}

func finalizeSource(ctx context.Context, deps Deps, src Source, chunkIDs []string) {
	if deps.State == nil {
		return
	}
	if src.IsPost {
		deps.State.UpsertPost(src.ThreadID, src.PostID, src.ContentHash, chunkIDs)
	} else {
		deps.State.UpsertFile(src.Key, src.ContentHash, chunkIDs)
	}
	if deps.Progress != nil {
		deps.Progress.MarkFileComplete(src.Key)
	}
}

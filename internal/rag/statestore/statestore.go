// Package statestore provides the durable, batched-write relational mapping
// from source unit identity to fingerprint/chunk-ids described in §4.6,
// plus the first-class posts(threadId, postId) -> fingerprint relation
// elevated from an Open Question in §9.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileState is a row of the files relation.
type FileState struct {
	FilePath     string
	ContentHash  string
	LastIngested time.Time
	ChunkIDs     []string
}

// PostState is a row of the posts relation (§9 Open Question: a first-class
// fingerprint table for forum posts).
type PostState struct {
	ThreadID    string
	PostID      string
	Fingerprint string
	ChunkIDs    []string
}

type pendingFile struct {
	hash     string
	chunkIDs []string
}

type pendingPost struct {
	fingerprint string
	chunkIDs    []string
}

// Store is the State Store of §4.6. Writes are buffered in memory and
// flushed to the backing sqlite database by a single background goroutine,
// at the earlier of flushThreshold buffered updates or flushInterval
// elapsed -- batched commits give the same atomicity "relational file with
// atomic replace on flush" asks for (§6) without needing a separate
// temp-then-rename dance on top of sqlite's own WAL commit.
type Store struct {
	db *sql.DB

	mu            sync.Mutex
	pendingFiles  map[string]pendingFile
	pendingPosts  map[string]pendingPost
	pendingDelete map[string]bool
	pendingCount  int

	flushThreshold int
	flushInterval  time.Duration

	flushCh chan chan error
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open opens (creating if necessary) the sqlite-backed state store at path.
// path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create state dir: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS files (
			filePath TEXT PRIMARY KEY,
			contentHash TEXT NOT NULL,
			lastIngested TEXT NOT NULL,
			chunkCount INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			filePath TEXT NOT NULL REFERENCES files(filePath) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_filepath ON chunks(filePath)`,
		`CREATE TABLE IF NOT EXISTS posts (
			threadId TEXT NOT NULL,
			postId TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			PRIMARY KEY (threadId, postId)
		)`,
		`CREATE TABLE IF NOT EXISTS post_chunks (
			id TEXT PRIMARY KEY,
			threadId TEXT NOT NULL,
			postId TEXT NOT NULL,
			FOREIGN KEY (threadId, postId) REFERENCES posts(threadId, postId) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init state schema: %w", err)
		}
	}

	s := &Store{
		db:             db,
		pendingFiles:   make(map[string]pendingFile),
		pendingPosts:   make(map[string]pendingPost),
		pendingDelete:  make(map[string]bool),
		flushThreshold: 20,
		flushInterval:  3 * time.Second,
		flushCh:        make(chan chan error),
		closeCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.doFlush(context.Background())
		case reply := <-s.flushCh:
			reply <- s.doFlush(context.Background())
		case <-s.closeCh:
			_ = s.doFlush(context.Background())
			return
		}
	}
}

// UpsertFile buffers a files/chunks write for filePath, flushing once the
// buffered-write threshold is reached.
func (s *Store) UpsertFile(filePath, contentHash string, chunkIDs []string) {
	s.mu.Lock()
	s.pendingFiles[filePath] = pendingFile{hash: contentHash, chunkIDs: chunkIDs}
	delete(s.pendingDelete, filePath)
	s.pendingCount++
	full := s.pendingCount >= s.flushThreshold
	s.mu.Unlock()
	if full {
		s.triggerFlush()
	}
}

// UpsertPost buffers a posts/post_chunks write, keyed by (threadId, postId).
func (s *Store) UpsertPost(threadID, postID, fingerprint string, chunkIDs []string) {
	key := threadID + "::" + postID
	s.mu.Lock()
	s.pendingPosts[key] = pendingPost{fingerprint: fingerprint, chunkIDs: chunkIDs}
	s.pendingCount++
	full := s.pendingCount >= s.flushThreshold
	s.mu.Unlock()
	if full {
		s.triggerFlush()
	}
}

// DeleteFile marks filePath for deletion on the next flush and returns the
// chunk ids it owned (from the last known committed+pending state), so the
// caller can issue the corresponding vector-index delete-by-filter.
func (s *Store) DeleteFile(ctx context.Context, filePath string) ([]string, error) {
	chunkIDs, err := s.chunkIDsForFile(ctx, filePath)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.pendingFiles, filePath)
	s.pendingDelete[filePath] = true
	s.pendingCount++
	s.mu.Unlock()
	s.triggerFlush()
	return chunkIDs, nil
}

func (s *Store) triggerFlush() {
	reply := make(chan error, 1)
	select {
	case s.flushCh <- reply:
		<-reply
	case <-s.closeCh:
	}
}

// Flush forces an immediate, awaitable flush of all buffered writes.
func (s *Store) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flushCh <- reply:
		select {
		case err := <-reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) doFlush(ctx context.Context) error {
	s.mu.Lock()
	files := s.pendingFiles
	posts := s.pendingPosts
	deletes := s.pendingDelete
	s.pendingFiles = make(map[string]pendingFile)
	s.pendingPosts = make(map[string]pendingPost)
	s.pendingDelete = make(map[string]bool)
	s.pendingCount = 0
	s.mu.Unlock()

	if len(files) == 0 && len(posts) == 0 && len(deletes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for path := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE filePath = ?`, path); err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
	}
	for path, pf := range files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files(filePath, contentHash, lastIngested, chunkCount) VALUES (?, ?, ?, ?)
			 ON CONFLICT(filePath) DO UPDATE SET contentHash=excluded.contentHash, lastIngested=excluded.lastIngested, chunkCount=excluded.chunkCount`,
			path, pf.hash, time.Now().UTC().Format(time.RFC3339Nano), len(pf.chunkIDs)); err != nil {
			return fmt.Errorf("upsert file %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE filePath = ?`, path); err != nil {
			return fmt.Errorf("clear chunks for %s: %w", path, err)
		}
		for _, id := range pf.chunkIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks(id, filePath) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET filePath=excluded.filePath`,
				id, path); err != nil {
				return fmt.Errorf("insert chunk %s: %w", id, err)
			}
		}
	}
	for key, pp := range posts {
		threadID, postID := splitKey(key)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts(threadId, postId, fingerprint) VALUES (?, ?, ?)
			 ON CONFLICT(threadId, postId) DO UPDATE SET fingerprint=excluded.fingerprint`,
			threadID, postID, pp.fingerprint); err != nil {
			return fmt.Errorf("upsert post %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_chunks WHERE threadId = ? AND postId = ?`, threadID, postID); err != nil {
			return fmt.Errorf("clear post chunks %s: %w", key, err)
		}
		for _, id := range pp.chunkIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO post_chunks(id, threadId, postId) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET threadId=excluded.threadId, postId=excluded.postId`,
				id, threadID, postID); err != nil {
				return fmt.Errorf("insert post chunk %s: %w", id, err)
			}
		}
	}
	return tx.Commit()
}

func splitKey(key string) (string, string) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == ':' {
			return key[:i], key[i+2:]
		}
	}
	return key, ""
}

// Get returns the committed FileState for filePath, if any.
func (s *Store) Get(ctx context.Context, filePath string) (FileState, bool, error) {
	var fs FileState
	var lastIngested string
	row := s.db.QueryRowContext(ctx, `SELECT filePath, contentHash, lastIngested FROM files WHERE filePath = ?`, filePath)
	if err := row.Scan(&fs.FilePath, &fs.ContentHash, &lastIngested); err != nil {
		if err == sql.ErrNoRows {
			return FileState{}, false, nil
		}
		return FileState{}, false, err
	}
	fs.LastIngested, _ = time.Parse(time.RFC3339Nano, lastIngested)
	ids, err := s.chunkIDsForFile(ctx, filePath)
	if err != nil {
		return FileState{}, false, err
	}
	fs.ChunkIDs = ids
	return fs, true, nil
}

// List returns every committed FileState.
func (s *Store) List(ctx context.Context) ([]FileState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filePath, contentHash, lastIngested FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileState
	for rows.Next() {
		var fs FileState
		var lastIngested string
		if err := rows.Scan(&fs.FilePath, &fs.ContentHash, &lastIngested); err != nil {
			return nil, err
		}
		fs.LastIngested, _ = time.Parse(time.RFC3339Nano, lastIngested)
		out = append(out, fs)
	}
	return out, rows.Err()
}

// GetPostFingerprint returns the committed fingerprint for (threadID,
// postID), used by the incremental ingestion flow to filter out unchanged
// posts after discovery has chunked them and before they reach the
// pipeline.
func (s *Store) GetPostFingerprint(ctx context.Context, threadID, postID string) (string, bool, error) {
	var fp string
	row := s.db.QueryRowContext(ctx, `SELECT fingerprint FROM posts WHERE threadId = ? AND postId = ?`, threadID, postID)
	if err := row.Scan(&fp); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return fp, true, nil
}

func (s *Store) chunkIDsForFile(ctx context.Context, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE filePath = ?`, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearAll drops every row from every relation, used by full ingestion.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.pendingFiles = make(map[string]pendingFile)
	s.pendingPosts = make(map[string]pendingPost)
	s.pendingDelete = make(map[string]bool)
	s.pendingCount = 0
	s.mu.Unlock()
	for _, stmt := range []string{
		`DELETE FROM chunks`,
		`DELETE FROM files`,
		`DELETE FROM post_chunks`,
		`DELETE FROM posts`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes any remaining buffered writes and releases the database.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}

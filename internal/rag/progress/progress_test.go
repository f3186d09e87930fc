package progress

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCreateInitAndMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	tr, err := Create(path, "sess-1", 2, 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer tr.Close()

	tr.InitFile("a.md", 5)
	tr.MarkProcessed("a.md", 0)
	tr.MarkProcessed("a.md", 1)
	if err := tr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	snap := tr.Snapshot()
	if snap.ProcessedChunks != 2 {
		t.Fatalf("expected 2 processed chunks, got %d", snap.ProcessedChunks)
	}
	if snap.Files["a.md"].LastIndex != 1 {
		t.Fatalf("expected lastIndex 1, got %d", snap.Files["a.md"].LastIndex)
	}
}

func TestLoadResumesFromFlushedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	tr, err := Create(path, "sess-1", 1, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tr.InitFile("a.md", 5)
	tr.MarkProcessed("a.md", 2)
	if err := tr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tr2, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer tr2.Close()

	if !tr2.ShouldSkip("a.md", 2) {
		t.Fatalf("expected index 2 to be skippable after resume")
	}
	if tr2.ShouldSkip("a.md", 3) {
		t.Fatalf("expected index 3 to not be skippable")
	}
	if got := tr2.ResumeFrom("a.md"); got != 3 {
		t.Fatalf("expected resume from 3, got %d", got)
	}
}

func TestMarkFailedRecordsFailedItem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	tr, err := Create(path, "sess-1", 1, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer tr.Close()

	tr.MarkFailed("a.md", 3, "chunk-id-3", errors.New("embedding timed out"))
	if err := tr.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	snap := tr.Snapshot()
	if snap.FailedChunks != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", snap.FailedChunks)
	}
	if len(snap.FailedItems) != 1 || snap.FailedItems[0].ChunkID != "chunk-id-3" {
		t.Fatalf("unexpected failed items: %+v", snap.FailedItems)
	}
}

func TestClearResetsRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	tr, err := Create(path, "sess-1", 1, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer tr.Close()

	tr.InitFile("a.md", 5)
	tr.MarkProcessed("a.md", 0)
	if err := tr.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	snap := tr.Snapshot()
	if snap.ProcessedChunks != 0 || len(snap.Files) != 0 {
		t.Fatalf("expected cleared record, got %+v", snap)
	}
}

func TestSecondLockAttemptFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")

	tr, err := Create(path, "sess-1", 1, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer tr.Close()

	if _, err := Create(path, "sess-2", 1, 5); err == nil {
		t.Fatalf("expected second create on same path to fail while locked")
	}
}

package statestore

import (
	"context"
	"testing"
)

func TestUpsertFileAndFlush(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.UpsertFile("a.md", "hash1", []string{"c1", "c2"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	fs, ok, err := s.Get(ctx, "a.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected file state to exist")
	}
	if fs.ContentHash != "hash1" || len(fs.ChunkIDs) != 2 {
		t.Fatalf("unexpected file state: %+v", fs)
	}
}

func TestDeleteFileReturnsChunkIDs(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.UpsertFile("b.md", "hash2", []string{"c3"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ids, err := s.DeleteFile(ctx, "b.md")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c3" {
		t.Fatalf("expected chunk ids from deleted file, got %v", ids)
	}

	_, ok, err := s.Get(ctx, "b.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected file to be gone after delete")
	}
}

func TestPostFingerprintRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.UpsertPost("T1", "P1", "fp-a", []string{"pc1"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	fp, ok, err := s.GetPostFingerprint(ctx, "T1", "P1")
	if err != nil {
		t.Fatalf("get fingerprint: %v", err)
	}
	if !ok || fp != "fp-a" {
		t.Fatalf("unexpected fingerprint: %q ok=%v", fp, ok)
	}
}

func TestClearAllRemovesEverything(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.UpsertFile("a.md", "h", []string{"c1"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	files, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected empty state after clear, got %d", len(files))
	}
}

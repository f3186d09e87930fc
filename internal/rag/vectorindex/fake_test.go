package vectorindex

import (
	"context"
	"testing"
)

func TestFakeUpsertAndSearchRanksByCosineSimilarity(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	f.EnsureCollection(ctx, 3)
	f.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"docType": "doc"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"docType": "doc"}},
	})

	matches, err := f.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "a" {
		t.Fatalf("expected a ranked first, got %+v", matches)
	}
}

func TestFakeSearchHonorsFilter(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	f.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"docType": "doc"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]string{"docType": "forum"}},
	})

	matches, err := f.Search(ctx, []float32{1, 0}, 10, map[string]string{"docType": "forum"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "b" {
		t.Fatalf("expected only forum match, got %+v", matches)
	}
}

func TestFakeDeleteByFilterRemovesMatchingPoints(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	f.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"sourceFile": "x.md"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]string{"sourceFile": "y.md"}},
	})

	if err := f.DeleteByFilter(ctx, map[string]string{"sourceFile": "x.md"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	matches, err := f.Search(ctx, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "b" {
		t.Fatalf("expected only b to remain, got %+v", matches)
	}
}

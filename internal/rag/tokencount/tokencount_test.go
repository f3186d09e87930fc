package tokencount

import "testing"

func TestNew_TiktokenEncodingCountsNonZero(t *testing.T) {
	c := New("cl100k_base")
	n := c.Count("the quick brown fox jumps over the lazy dog")
	if n <= 0 {
		t.Fatalf("expected a positive token count, got %d", n)
	}
}

func TestNew_UnknownEncodingFallsBackToHeuristic(t *testing.T) {
	c := New("not-a-real-encoding")
	if c.Name() != "heuristic-fallback" {
		t.Fatalf("expected fallback to heuristic counter, got %q", c.Name())
	}
	if c.Count("hello, world") <= 0 {
		t.Fatal("heuristic counter should still produce a positive count")
	}
}

func TestHeuristicCounter_CountsWordsAndPunctuationSeparately(t *testing.T) {
	c := &heuristicCounter{name: "heuristic-fallback"}
	got := c.Count("hi, there")
	// "hi" + "," + "there" = 3 tokens
	if got != 3 {
		t.Fatalf("expected 3 tokens, got %d", got)
	}
}

func TestMemoized_CachesByID(t *testing.T) {
	calls := 0
	inner := countingCounter{countFn: func(s string) int {
		calls++
		return len(s)
	}}
	m := NewMemoized(inner, 0)

	if n := m.Count("chunk-1", "abcd"); n != 4 {
		t.Fatalf("expected 4, got %d", n)
	}
	if n := m.Count("chunk-1", "ignored on cache hit"); n != 4 {
		t.Fatalf("expected cached 4, got %d", n)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 underlying count call, got %d", calls)
	}
}

type countingCounter struct {
	countFn func(string) int
}

func (c countingCounter) Count(s string) int { return c.countFn(s) }
func (c countingCounter) Name() string       { return "counting" }

package fingerprint

import "testing"

func TestOf_IsDeterministicAndSensitiveToContent(t *testing.T) {
	a := Of("hello world")
	b := Of("hello world")
	if a != b {
		t.Fatalf("Of should be deterministic, got %q and %q", a, b)
	}
	if c := Of("hello world!"); c == a {
		t.Fatal("Of should differ for different content")
	}
}

func TestShort_IsPrefixOfOf(t *testing.T) {
	full := Of("some content")
	short := Short("some content")
	if len(short) != 16 {
		t.Fatalf("expected 16-char short hash, got %d chars", len(short))
	}
	if full[:16] != short {
		t.Fatalf("short hash %q is not a prefix of full hash %q", short, full)
	}
}

func TestChunkID_DeterministicAndDiscriminatesInputs(t *testing.T) {
	base := ChunkID(NamespaceDoc, "docs/guide.md", 0, "text-embedding-3-small")
	again := ChunkID(NamespaceDoc, "docs/guide.md", 0, "text-embedding-3-small")
	if base != again {
		t.Fatal("ChunkID should be deterministic for identical inputs")
	}

	cases := []string{
		ChunkID(NamespaceForum, "docs/guide.md", 0, "text-embedding-3-small"), // different namespace
		ChunkID(NamespaceDoc, "docs/other.md", 0, "text-embedding-3-small"),   // different source key
		ChunkID(NamespaceDoc, "docs/guide.md", 1, "text-embedding-3-small"),   // different sub-index
		ChunkID(NamespaceDoc, "docs/guide.md", 0, "text-embedding-3-large"),   // different model
	}
	for _, c := range cases {
		if c == base {
			t.Fatalf("expected ChunkID to change when an input varies, got same id %q", c)
		}
	}
}

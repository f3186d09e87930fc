package reader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWalkFiltersDotfilesAndVendorDirs(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "guide.md"), []byte("# Guide"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden.md"), []byte("# Hidden"), 0o644)
	os.WriteFile(filepath.Join(dir, "_draft.md"), []byte("# Draft"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain"), 0o644)
	os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755)
	os.WriteFile(filepath.Join(dir, "node_modules", "pkg.md"), []byte("# Pkg"), 0o644)

	var found []string
	if err := Walk(dir, nil, func(ref FileRef) error {
		found = append(found, ref.RelPath)
		return nil
	}); err != nil {
		t.Fatalf("walk error: %v", err)
	}
	if len(found) != 1 || found[0] != "guide.md" {
		t.Fatalf("unexpected files found: %v", found)
	}
}

func TestReadMarkdownFrontMatterTitle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intro.md")
	content := "---\ntitle: Getting Started\ndescription: an intro\n---\nBody text ![pic](https://example.com/a.png)"
	os.WriteFile(path, []byte(content), 0o644)

	doc, err := ReadMarkdown(FileRef{AbsPath: path, RelPath: "intro.md"})
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if doc.Title != "Getting Started" {
		t.Fatalf("expected front-matter title, got %q", doc.Title)
	}
	if len(doc.ImageURLs) != 1 || doc.ImageURLs[0] != "https://example.com/a.png" {
		t.Fatalf("expected one image url, got %v", doc.ImageURLs)
	}
}

func TestReadMarkdownFallsBackToHeading(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.md")
	os.WriteFile(path, []byte("# My Title\n\nbody"), 0o644)

	doc, err := ReadMarkdown(FileRef{AbsPath: path, RelPath: "x.md"})
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if doc.Title != "My Title" {
		t.Fatalf("expected heading title, got %q", doc.Title)
	}
}

func TestReadThreadJSONValidatesRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.json")
	os.WriteFile(path, []byte(`{"title":"no id","posts":[{"postId":"1"}]}`), 0o644)

	if _, err := ReadThreadJSON(FileRef{AbsPath: path, RelPath: "t.json"}); err == nil {
		t.Fatalf("expected error for missing threadId")
	}
}

func TestReadThreadJSONEnrichesPosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.json")
	content := `{"threadId":"T1","title":"Thread","category":"general","posts":[
		{"postId":"P1","username":"alice","date":"2024-01-01T00:00:00Z","content":"hello world"}
	]}`
	os.WriteFile(path, []byte(content), 0o644)

	thread, err := ReadThreadJSON(FileRef{AbsPath: path, RelPath: "t.json"})
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(thread.Posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(thread.Posts))
	}
	p := thread.Posts[0]
	if p.ThreadTitle != "Thread" || p.Category != "general" {
		t.Fatalf("post not enriched with thread defaults: %+v", p)
	}
	if p.Fingerprint == "" {
		t.Fatalf("expected fingerprint to be computed")
	}
	if !p.IsSubstantive {
		t.Fatalf("expected post to be substantive")
	}
}

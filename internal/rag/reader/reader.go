// Package reader walks a rooted tree and normalizes Markdown documents and
// JSON forum thread records into the uniform source-unit model.
package reader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/corpusrag/ragcore/internal/rag/fingerprint"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"gopkg.in/yaml.v3"
)

var (
	headingRe  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	imageRe    = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	frontMatter = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n?`)
)

// FileRef is a path pair yielded by Walk: the absolute path for reading and
// the path relative to root for identity/category derivation.
type FileRef struct {
	AbsPath string
	RelPath string
}

var defaultExtensions = map[string]bool{".md": true, ".mdx": true, ".json": true}

// Walk lazily streams FileRefs for every file under root matching the
// configured extension set, excluding dotfiles, underscore-prefixed names,
// and node_modules/.git ancestor directories, per §4.5.
func Walk(root string, extensions map[string]bool, emit func(FileRef) error) error {
	if extensions == nil {
		extensions = defaultExtensions
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == "node_modules" || name == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			return nil
		}
		if !extensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			rel = path
		}
		return emit(FileRef{AbsPath: path, RelPath: rel})
	})
}

type frontMatterDoc struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// ReadMarkdown parses a Markdown file into a Doc source unit, per §4.5.
func ReadMarkdown(ref FileRef) (sourceunit.Doc, error) {
	raw, err := os.ReadFile(ref.AbsPath)
	if err != nil {
		return sourceunit.Doc{}, fmt.Errorf("read %s: %w", ref.RelPath, err)
	}
	info, err := os.Stat(ref.AbsPath)
	if err != nil {
		return sourceunit.Doc{}, fmt.Errorf("stat %s: %w", ref.RelPath, err)
	}

	body := string(raw)
	title, description := "", ""
	if m := frontMatter.FindStringSubmatch(body); m != nil {
		var fm frontMatterDoc
		if yerr := yaml.Unmarshal([]byte(m[1]), &fm); yerr == nil {
			title = fm.Title
			description = fm.Description
		}
		body = body[len(m[0]):]
	}
	_ = description

	if title == "" {
		if m := headingRe.FindStringSubmatch(body); m != nil {
			title = strings.TrimSpace(m[1])
		}
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(ref.RelPath), filepath.Ext(ref.RelPath))
	}

	category := strings.Split(filepath.ToSlash(ref.RelPath), "/")[0]
	if category == filepath.Base(ref.RelPath) {
		category = ""
	}
	urlPath := strings.TrimSuffix(filepath.ToSlash(ref.RelPath), filepath.Ext(ref.RelPath))

	var images []string
	seen := map[string]bool{}
	for _, m := range imageRe.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			images = append(images, m[1])
		}
	}

	return sourceunit.Doc{
		FilePath:     ref.RelPath,
		Title:        title,
		Category:     category,
		URLPath:      urlPath,
		Body:         body,
		LastModified: info.ModTime(),
		ImageURLs:    images,
	}, nil
}

// threadFile is the on-disk JSON shape for a forum thread record.
type threadFile struct {
	ThreadID string     `json:"threadId"`
	Title    string     `json:"title"`
	Category string     `json:"category"`
	Posts    []postFile `json:"posts"`
}

type postFile struct {
	PostID        string   `json:"postId"`
	Username      string   `json:"username"`
	UserID        string   `json:"userId"`
	Date          string   `json:"date"`
	Content       string   `json:"content"`
	QuotedContent string   `json:"quotedContent"`
	ImageURLs     []string `json:"imageUrls"`
	Keywords      []string `json:"keywords"`
	Mentions      []string `json:"mentions"`
	Page          int      `json:"page"`
	Anchor        string   `json:"anchor"`
}

// ForumThread is the enriched, validated result of ReadThreadJSON.
type ForumThread struct {
	ThreadID string
	Title    string
	Category string
	Posts    []sourceunit.Post
}

// ReadThreadJSON parses and validates a JSON thread record, enriching each
// post with thread-level defaults, per §4.5.
func ReadThreadJSON(ref FileRef) (ForumThread, error) {
	raw, err := os.ReadFile(ref.AbsPath)
	if err != nil {
		return ForumThread{}, fmt.Errorf("read %s: %w", ref.RelPath, err)
	}
	var tf threadFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return ForumThread{}, fmt.Errorf("parse thread json %s: %w", ref.RelPath, err)
	}
	if tf.ThreadID == "" {
		return ForumThread{}, fmt.Errorf("thread json %s missing threadId", ref.RelPath)
	}
	if len(tf.Posts) == 0 {
		return ForumThread{}, fmt.Errorf("thread json %s missing posts", ref.RelPath)
	}

	out := ForumThread{ThreadID: tf.ThreadID, Title: tf.Title, Category: tf.Category, Posts: make([]sourceunit.Post, 0, len(tf.Posts))}
	for _, p := range tf.Posts {
		date, _ := time.Parse(time.RFC3339, p.Date)
		content := stripQuotes(p.Content)
		full := p.Content
		out.Posts = append(out.Posts, sourceunit.Post{
			ThreadID:      tf.ThreadID,
			PostID:        p.PostID,
			ThreadTitle:   tf.Title,
			Category:      tf.Category,
			Path:          ref.RelPath,
			Page:          p.Page,
			Anchor:        p.Anchor,
			Username:      p.Username,
			UserID:        p.UserID,
			Date:          date,
			Content:       content,
			ContentFull:   full,
			QuotedContent: p.QuotedContent,
			ImageURLs:     p.ImageURLs,
			Keywords:      p.Keywords,
			Mentions:      p.Mentions,
			Fingerprint:   fingerprint.Of(full),
			IsSubstantive: len(strings.TrimSpace(content)) >= 10,
		})
	}
	return out, nil
}

var quoteBlockRe = regexp.MustCompile(`(?s)\[quote[^\]]*\].*?\[/quote\]\s*`)

// stripQuotes removes BBCode-style [quote]...[/quote] blocks from content,
// leaving the author's own words. The original, including quotes, remains
// available via ContentFull.
func stripQuotes(content string) string {
	return strings.TrimSpace(quoteBlockRe.ReplaceAllString(content, ""))
}

// Package chunker splits source units into token-bounded Chunks: section
// bounded for Markdown docs, paragraph/sentence/window for forum posts.
package chunker

import (
	"fmt"
	"strings"

	"github.com/corpusrag/ragcore/internal/rag/fingerprint"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"github.com/corpusrag/ragcore/internal/rag/tokencount"
)

// MarkdownOptions configures the Markdown Chunker, per §4.3 / §6.
type MarkdownOptions struct {
	MaxTokens          int
	OverlapTokens      int
	AbsoluteMaxTokens  int
	EmbeddingModel     string
	FailFastValidation bool
}

// DefaultMarkdownOptions returns the configuration surface defaults from §6.
func DefaultMarkdownOptions() MarkdownOptions {
	return MarkdownOptions{
		MaxTokens:         800,
		OverlapTokens:     120,
		AbsoluteMaxTokens: 1024,
	}
}

// ValidationError is a per-chunk fatal error raised when failFastValidation
// is set and a chunk exceeds absoluteMaxTokens.
type ValidationError struct {
	SourceKey string
	ChunkIdx  int
	Tokens    int
	Limit     int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chunk %s#%d exceeds absoluteMaxTokens (%d > %d)", e.SourceKey, e.ChunkIdx, e.Tokens, e.Limit)
}

type mdSection struct {
	title string
	lines []string
}

// Markdown splits a Doc source unit into section-bounded Chunks.
type Markdown struct {
	Counter tokencount.Counter
}

// Chunk implements §4.3. Oversize chunks are logged (via the returned
// warnings slice) and still emitted unless FailFastValidation is set, in
// which case chunking aborts with a *ValidationError.
func (m Markdown) Chunk(doc sourceunit.Doc, opt MarkdownOptions) ([]sourceunit.Chunk, []string, error) {
	sections := splitSections(doc.Body)
	contentHash := fingerprint.Of(doc.Body)

	var chunks []sourceunit.Chunk
	var warnings []string
	subIndex := 0

	for _, sec := range sections {
		secChunks := m.chunkSection(sec, opt)
		for _, text := range secChunks {
			header := fmt.Sprintf("# %s\n\n## %s\n\n", doc.Title, sec.title)
			full := header + text
			tokens := m.Counter.Count(full)
			if tokens > opt.AbsoluteMaxTokens {
				if opt.FailFastValidation {
					return nil, warnings, &ValidationError{SourceKey: doc.Key(), ChunkIdx: subIndex, Tokens: tokens, Limit: opt.AbsoluteMaxTokens}
				}
				warnings = append(warnings, fmt.Sprintf("chunk %s#%d exceeds absoluteMaxTokens (%d > %d)", doc.Key(), subIndex, tokens, opt.AbsoluteMaxTokens))
			}
			id := fingerprint.ChunkID(fingerprint.NamespaceDoc, doc.Key(), subIndex, opt.EmbeddingModel)
			chunks = append(chunks, sourceunit.Chunk{
				ID:         id,
				SourceKey:  doc.Key(),
				Kind:       sourceunit.KindDoc,
				Content:    full,
				TokenCount: tokens,
				Metadata: sourceunit.DocChunkMetadata{
					SourceFile:     doc.FilePath,
					DocTitle:       doc.Title,
					SectionTitle:   sec.title,
					DocCategory:    doc.Category,
					URLPath:        doc.URLPath,
					ChunkIndex:     subIndex,
					ContentHash:    contentHash,
					LastModified:   doc.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
					EmbeddingModel: opt.EmbeddingModel,
					ImageURLs:      doc.ImageURLs,
					Content:        full,
				},
			})
			subIndex++
		}
	}
	return chunks, warnings, nil
}

// splitSections breaks the document body into sections at `#`..`######`
// headings. A synthetic "Introduction" section precedes the first heading,
// per §4.3 rule 1.
func splitSections(body string) []mdSection {
	lines := strings.Split(body, "\n")
	sections := []mdSection{{title: "Introduction"}}
	cur := 0
	for _, line := range lines {
		if isHeading(line) {
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			sections = append(sections, mdSection{title: title})
			cur = len(sections) - 1
			continue
		}
		sections[cur].lines = append(sections[cur].lines, line)
	}
	// Drop a leading empty Introduction section so single-heading documents
	// produce exactly one chunk (§8 boundary behavior).
	if len(sections) > 1 && len(strings.TrimSpace(strings.Join(sections[0].lines, "\n"))) == 0 {
		sections = sections[1:]
	}
	return sections
}

func isHeading(line string) bool {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, "#") {
		return false
	}
	i := 0
	for i < len(t) && t[i] == '#' {
		i++
	}
	return i <= 6 && (i == len(t) || t[i] == ' ')
}

// chunkSection accumulates lines into token-bounded chunks, never splitting
// inside a fenced code block, emitting trailing-line overlap between
// consecutive chunks, and flushing early on a blank-line boundary once the
// running chunk has reached maxTokens.
func (m Markdown) chunkSection(sec mdSection, opt MarkdownOptions) []string {
	var out []string
	var cur []string
	inFence := false

	flush := func() {
		text := strings.TrimRight(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(text) == "" {
			cur = nil
			return
		}
		out = append(out, text)
		overlap := lastLines(cur, opt.OverlapTokens, m.Counter)
		// An overlap holding only one half of a fence pair would reopen the
		// block unbalanced in the next chunk, so it is dropped.
		fences := 0
		for _, l := range overlap {
			if strings.HasPrefix(strings.TrimSpace(l), "```") {
				fences++
			}
		}
		if fences%2 == 1 {
			overlap = nil
		}
		cur = overlap
	}

	for _, line := range sec.lines {
		// inside is the fence state before this line, so a closing fence
		// line still belongs to the block it closes.
		inside := inFence
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		candidate := append(append([]string{}, cur...), line)
		tokens := m.Counter.Count(strings.Join(candidate, "\n"))

		if !inside && tokens > opt.MaxTokens && len(cur) > 0 {
			flush()
			cur = append(cur, line)
			continue
		}
		cur = append(cur, line)

		if !inFence && strings.TrimSpace(line) == "" && m.Counter.Count(strings.Join(cur, "\n")) >= opt.MaxTokens {
			flush()
		}
	}
	if len(strings.TrimSpace(strings.Join(cur, "\n"))) > 0 {
		out = append(out, strings.TrimRight(strings.Join(cur, "\n"), "\n"))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// lastLines returns the trailing lines of cur whose combined token count is
// approximately budget, used as overlap seed for the next chunk.
func lastLines(cur []string, budget int, counter tokencount.Counter) []string {
	if budget <= 0 || len(cur) == 0 {
		return nil
	}
	var kept []string
	for i := len(cur) - 1; i >= 0; i-- {
		kept = append([]string{cur[i]}, kept...)
		if counter.Count(strings.Join(kept, "\n")) >= budget {
			break
		}
	}
	return kept
}

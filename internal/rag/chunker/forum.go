package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corpusrag/ragcore/internal/rag/fingerprint"
	"github.com/corpusrag/ragcore/internal/rag/sourceunit"
	"github.com/corpusrag/ragcore/internal/rag/tokencount"
)

// ForumOptions configures the Forum Chunker, per §4.4 / §6.
type ForumOptions struct {
	MaxTokens             int
	OverlapTokens         int
	EmbeddingModel        string
	EmbedQuotedContent    bool
	QuotedContentNamespace string
}

// DefaultForumOptions returns the configuration surface defaults from §6.
func DefaultForumOptions() ForumOptions {
	return ForumOptions{
		MaxTokens:     800,
		OverlapTokens: 120,
	}
}

const minEffectiveMaxTokens = 100

var sentenceSplit = regexp.MustCompile(`(?s)([^.?!]*[.?!]+)\s*`)

// Forum splits a Post source unit into one or more sub-chunks, never merging
// posts and never dropping content, per §4.4.
type Forum struct {
	Counter tokencount.Counter
}

// Chunk implements §4.4. Posts with IsSubstantive=false or content shorter
// than 10 characters are filtered upstream, before chunking (the service's
// discovery step skips them); the chunker itself never skips a post.
func (f Forum) Chunk(post sourceunit.Post, opt ForumOptions) []sourceunit.Chunk {
	header := fmt.Sprintf("[Thread: %s]\n[User: %s | %s]\n\n", post.ThreadTitle, post.Username, post.Date.Format("2006-01-02"))
	headerTokens := f.Counter.Count(header)
	effectiveMax := opt.MaxTokens - headerTokens - 10
	if effectiveMax < minEffectiveMaxTokens {
		effectiveMax = minEffectiveMaxTokens
	}

	var chunks []sourceunit.Chunk
	subIndex := 0

	appendChunks := func(content string, chunkType sourceunit.ChunkType, hdr string) {
		pieces := splitRecursive(content, effectiveMax, opt.OverlapTokens, f.Counter)
		for _, piece := range pieces {
			full := hdr + piece
			chunks = append(chunks, f.buildChunk(post, opt, subIndex, full, chunkType))
			subIndex++
		}
	}

	appendChunks(post.Content, sourceunit.ChunkTypeOriginal, header)

	if opt.EmbedQuotedContent && strings.TrimSpace(post.QuotedContent) != "" {
		qHeader := fmt.Sprintf("[Quoted by %s | %s]\n[Originally by: %s]\n\n", post.Username, post.Date.Format("2006-01-02"), post.ThreadTitle)
		appendChunks(post.QuotedContent, sourceunit.ChunkTypeQuoted, qHeader)
	}

	return chunks
}

func (f Forum) buildChunk(post sourceunit.Post, opt ForumOptions, subIndex int, content string, chunkType sourceunit.ChunkType) sourceunit.Chunk {
	id := fingerprint.ChunkID(fingerprint.NamespaceForum, post.Key(), subIndex, opt.EmbeddingModel)
	meta := sourceunit.ForumChunkMetadata{
		DocType:        "forum_post",
		ThreadID:       post.ThreadID,
		PostID:         post.PostID,
		SubChunkIndex:  subIndex,
		Username:       post.Username,
		UserID:         post.UserID,
		Date:           post.Date.UTC().Format("2006-01-02T15:04:05Z"),
		ThreadTitle:    post.ThreadTitle,
		ForumCategory:  post.Category,
		ForumPath:      post.Path,
		Page:           post.Page,
		Anchor:         post.Anchor,
		Keywords:       post.Keywords,
		Mentions:       post.Mentions,
		HasLinks:       strings.Contains(post.ContentFull, "http://") || strings.Contains(post.ContentFull, "https://"),
		HasImages:      len(post.ImageURLs) > 0,
		Images:         post.ImageURLs,
		ContentLength:  len(post.Content),
		Fingerprint:    post.Fingerprint,
		EmbeddingModel: opt.EmbeddingModel,
		ChunkType:      chunkType,
		Content:        content,
	}
	return sourceunit.Chunk{
		ID:         id,
		SourceKey:  post.Key(),
		Kind:       sourceunit.KindPost,
		Content:    content,
		TokenCount: f.Counter.Count(content),
		Metadata:   meta,
	}
}

// splitRecursive implements the paragraph → sentence → token-window
// fallback cascade of §4.4 rule 3. It never drops content: the final
// token-window pass is guaranteed to make progress even on a single
// oversize "word" by slicing it by rune count.
func splitRecursive(content string, maxTokens, overlapTokens int, counter tokencount.Counter) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	if counter.Count(content) <= maxTokens {
		return []string{content}
	}

	paragraphs := regexp.MustCompile(`\n{2,}`).Split(content, -1)
	if len(paragraphs) > 1 {
		return splitUnits(paragraphs, "\n\n", maxTokens, overlapTokens, counter, splitBySentence)
	}
	return splitBySentence(content, maxTokens, overlapTokens, counter)
}

func splitBySentence(content string, maxTokens, overlapTokens int, counter tokencount.Counter) []string {
	matches := sentenceSplit.FindAllStringIndex(content, -1)
	if len(matches) <= 1 {
		return splitByWindow(content, maxTokens, overlapTokens, counter)
	}

	units := make([]string, 0, len(matches)+1)
	end := 0
	for _, m := range matches {
		units = append(units, content[m[0]:m[1]])
		end = m[1]
	}
	// sentenceSplit requires a terminator, so an unterminated trailing
	// fragment after the last match would otherwise be dropped.
	if rest := content[end:]; strings.TrimSpace(rest) != "" {
		units = append(units, rest)
	}

	return splitUnits(units, "", maxTokens, overlapTokens, counter, splitByWindow)
}

// splitUnits packs a sequence of units (paragraphs or sentences) into chunks
// bounded by maxTokens, recursing into fallback for any unit that alone
// exceeds maxTokens.
func splitUnits(units []string, joiner string, maxTokens, overlapTokens int, counter tokencount.Counter, fallback func(string, int, int, tokencount.Counter) []string) []string {
	var out []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, strings.Join(cur, joiner))
		cur = nil
		curTokens = 0
	}

	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		ut := counter.Count(u)
		if ut > maxTokens {
			flush()
			out = append(out, fallback(u, maxTokens, overlapTokens, counter)...)
			continue
		}
		if curTokens+ut > maxTokens && len(cur) > 0 {
			flush()
		}
		cur = append(cur, u)
		curTokens += ut
	}
	flush()
	return out
}

// splitByWindow is the last-resort word-level token window with overlap.
// A single oversize token (no spaces) is split by rune count as a final
// fallback so that content is never dropped.
func splitByWindow(content string, maxTokens, overlapTokens int, counter tokencount.Counter) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	var out []string
	var cur []string

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, strings.Join(cur, " "))
	}

	i := 0
	for i < len(words) {
		w := words[i]
		if counter.Count(w) > maxTokens {
			flush()
			out = append(out, splitOversizeWord(w, maxTokens)...)
			cur = nil
			i++
			continue
		}
		candidate := append(append([]string{}, cur...), w)
		if counter.Count(strings.Join(candidate, " ")) > maxTokens && len(cur) > 0 {
			flush()
			cur = overlapWords(cur, overlapTokens, counter)
		}
		cur = append(cur, w)
		i++
	}
	flush()
	return out
}

// overlapWords returns the trailing words of cur whose token count is
// approximately the overlap budget.
func overlapWords(cur []string, budget int, counter tokencount.Counter) []string {
	if budget <= 0 || len(cur) == 0 {
		return nil
	}
	var kept []string
	for i := len(cur) - 1; i >= 0; i-- {
		kept = append([]string{cur[i]}, kept...)
		if counter.Count(strings.Join(kept, " ")) >= budget {
			break
		}
	}
	return kept
}

// splitOversizeWord slices a single token larger than maxTokens by rune
// count, guaranteeing forward progress without dropping content.
func splitOversizeWord(w string, maxTokens int) []string {
	runes := []rune(w)
	approxCharsPerToken := 4
	sliceLen := maxTokens * approxCharsPerToken
	if sliceLen < 1 {
		sliceLen = 1
	}
	var out []string
	for i := 0; i < len(runes); i += sliceLen {
		end := i + sliceLen
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

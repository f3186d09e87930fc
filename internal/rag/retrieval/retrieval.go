// Package retrieval implements the query path of §4.11: embed the query,
// run a filtered vector search, materialize per-post matches with optional
// time-decay scoring, group hits by thread, and format a citation-ready
// context alongside an ordered de-duplicated image list.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/corpusrag/ragcore/internal/rag/embedder"
	"github.com/corpusrag/ragcore/internal/rag/obs"
	"github.com/corpusrag/ragcore/internal/rag/vectorindex"
)

// Options configures a single retrieval call, per §4.11.
type Options struct {
	K                      int
	DocTypeFilter          string // "doc", "forum", or "" for both
	ExtraFilter            map[string]string
	ApplyTimeDecay         bool
	HalfLifeDays           float64
	MaxPostsPerThread      int
}

// DefaultOptions matches §4.11's stated defaults.
func DefaultOptions() Options {
	return Options{K: 30, HalfLifeDays: 365, MaxPostsPerThread: 10}
}

// internalDocType maps the caller-facing Options.DocTypeFilter values
// ("doc", "forum") onto the stored payload's docType values, where forum
// chunks are tagged "forum_post" per §6's external payload schema.
func internalDocType(filter string) string {
	if filter == "forum" {
		return "forum_post"
	}
	return filter
}

// Match is one materialized hit before thread grouping.
type Match struct {
	ChunkID    string
	Score      float64
	DecayScore float64
	DocType    string
	ThreadID   string
	PostID     string
	Username   string
	Date       time.Time
	Content    string
	ImageURLs  []string
	SourceFile string
	DocTitle   string
}

// ThreadGroup buckets matches from the same forum thread, sorted and
// truncated to MaxPostsPerThread, per §4.11.
type ThreadGroup struct {
	ThreadID     string
	ThreadTitle  string
	Matches      []Match
	DateRangeMin time.Time
	DateRangeMax time.Time
	UniqueUsers  int
	AvgScore     float64
}

// Result is the final retrieval payload.
type Result struct {
	Query        string
	DocMatches   []Match
	ThreadGroups []ThreadGroup
	Context      string
	Images       []string
}

// Engine ties the embedder and vector index together for query-time search.
type Engine struct {
	Embedder embedder.Embedder
	Index    vectorindex.Index
	Metrics  obs.Metrics
	Clock    obs.Clock
}

func (e *Engine) applyDefaults() {
	if e.Metrics == nil {
		e.Metrics = obs.NoopMetrics{}
	}
	if e.Clock == nil {
		e.Clock = obs.SystemClock{}
	}
}

// Retrieve runs the full query path described in §4.11.
func (e *Engine) Retrieve(ctx context.Context, query string, opt Options) (Result, error) {
	e.applyDefaults()
	if opt.K <= 0 {
		opt = DefaultOptions()
	}

	vec, _, _, err := e.Embedder.EmbedOne(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	filter := make(map[string]string, len(opt.ExtraFilter)+1)
	for k, v := range opt.ExtraFilter {
		filter[k] = v
	}
	if opt.DocTypeFilter != "" {
		filter["docType"] = internalDocType(opt.DocTypeFilter)
	}

	hits, err := e.Index.Search(ctx, vec, opt.K, filter)
	if err != nil {
		return Result{}, fmt.Errorf("vector search: %w", err)
	}
	e.Metrics.ObserveHistogram("retrieval_hits", float64(len(hits)), nil)

	now := e.Clock.Now()
	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := matchFromPayload(h, now, opt)
		matches = append(matches, m)
	}

	sortKey := func(m Match) float64 {
		if opt.ApplyTimeDecay {
			return m.DecayScore
		}
		return m.Score
	}
	sort.Slice(matches, func(i, j int) bool { return sortKey(matches[i]) > sortKey(matches[j]) })

	var docMatches []Match
	threads := make(map[string][]Match)
	var threadOrder []string
	for _, m := range matches {
		if m.DocType == "doc" {
			docMatches = append(docMatches, m)
			continue
		}
		if _, ok := threads[m.ThreadID]; !ok {
			threadOrder = append(threadOrder, m.ThreadID)
		}
		threads[m.ThreadID] = append(threads[m.ThreadID], m)
	}

	groups := make([]ThreadGroup, 0, len(threadOrder))
	for _, tid := range threadOrder {
		ms := threads[tid]
		sort.Slice(ms, func(i, j int) bool { return sortKey(ms[i]) > sortKey(ms[j]) })
		if opt.MaxPostsPerThread > 0 && len(ms) > opt.MaxPostsPerThread {
			ms = ms[:opt.MaxPostsPerThread]
		}
		groups = append(groups, buildThreadGroup(tid, ms))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].AvgScore > groups[j].AvgScore })

	result := Result{
		Query:        query,
		DocMatches:   docMatches,
		ThreadGroups: groups,
		Images:       collectImages(docMatches, groups),
	}
	result.Context = formatContext(result)
	return result, nil
}

func matchFromPayload(h vectorindex.Match, now time.Time, opt Options) Match {
	md := h.Metadata
	m := Match{
		ChunkID:    h.ID,
		Score:      h.Score,
		DecayScore: h.Score,
		DocType:    md["docType"],
		ThreadID:   md["threadId"],
		PostID:     md["postId"],
		Username:   md["username"],
		Content:    md["content"],
		SourceFile: md["sourceFile"],
		DocTitle:   md["docTitle"],
	}
	if m.DocType == "" {
		if md["sourceFile"] != "" {
			m.DocType = "doc"
		} else {
			m.DocType = "forum_post"
		}
	}
	if raw, ok := md["date"]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			m.Date = t
		}
	}
	if raw, ok := md["imageUrls"]; ok && raw != "" {
		m.ImageURLs = strings.Split(raw, "|")
	}
	if opt.ApplyTimeDecay && !m.Date.IsZero() {
		ageDays := now.Sub(m.Date).Hours() / 24
		halfLife := opt.HalfLifeDays
		if halfLife <= 0 {
			halfLife = 365
		}
		decay := 0.5 + 0.5*math.Pow(0.5, ageDays/halfLife)
		m.DecayScore = h.Score * decay
	}
	return m
}

func buildThreadGroup(threadID string, ms []Match) ThreadGroup {
	g := ThreadGroup{ThreadID: threadID, Matches: ms}
	users := make(map[string]bool)
	var sum float64
	for i, m := range ms {
		if m.Username != "" {
			users[m.Username] = true
		}
		// DecayScore equals Score when time decay is off.
		sum += m.DecayScore
		if i == 0 || m.Date.Before(g.DateRangeMin) {
			if g.DateRangeMin.IsZero() || m.Date.Before(g.DateRangeMin) {
				g.DateRangeMin = m.Date
			}
		}
		if g.DateRangeMax.IsZero() || m.Date.After(g.DateRangeMax) {
			g.DateRangeMax = m.Date
		}
	}
	g.UniqueUsers = len(users)
	if len(ms) > 0 {
		g.AvgScore = sum / float64(len(ms))
	}
	return g
}

// collectImages builds the ordered, de-duplicated image list across every
// match in ranked order, per §4.11 and §4.12.
func collectImages(docMatches []Match, groups []ThreadGroup) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(urls []string) {
		for _, u := range urls {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, m := range docMatches {
		add(m.ImageURLs)
	}
	for _, g := range groups {
		for _, m := range g.Matches {
			add(m.ImageURLs)
		}
	}
	return out
}

// forumPreamble opens the discussion section of the formatted context, per
// §4.11 step 6: the material needs to read as a discussion, not as prose.
const forumPreamble = "The following is retrieved from forum discussions. Each entry is one post from a conversation thread:"

// formatContext renders the retrieved matches as citation-ready text with
// image URLs stripped -- images are surfaced separately via Images. Doc
// matches render first, then (if any) a preamble and per-thread post blocks
// formatted as `**user** (date): content`, separated by a rule.
func formatContext(r Result) string {
	var b strings.Builder
	for _, m := range r.DocMatches {
		fmt.Fprintf(&b, "[Doc: %s]\n%s\n\n", m.DocTitle, stripImageMarkup(m.Content))
	}
	if len(r.ThreadGroups) > 0 {
		fmt.Fprintf(&b, "%s\n\n", forumPreamble)
		for _, g := range r.ThreadGroups {
			fmt.Fprintf(&b, "[Thread %s]\n", g.ThreadID)
			for _, m := range g.Matches {
				fmt.Fprintf(&b, "**%s** (%s): %s\n", m.Username, m.Date.Format("2006-01-02"), stripImageMarkup(m.Content))
			}
			b.WriteString("---\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func stripImageMarkup(content string) string {
	for {
		start := strings.Index(content, "![")
		if start == -1 {
			return content
		}
		end := strings.Index(content[start:], ")")
		if end == -1 {
			return content
		}
		content = content[:start] + content[start+end+1:]
	}
}

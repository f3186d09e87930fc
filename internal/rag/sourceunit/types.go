// Package sourceunit defines the data model shared across the reader,
// chunkers, pipeline and retrieval engine: source units, chunks and their
// embedded form.
package sourceunit

import "time"

// Kind discriminates the two source-unit shapes the system ingests.
type Kind string

const (
	KindDoc  Kind = "doc"
	KindPost Kind = "post"
)

// Doc is a SourceUnit of kind doc: a Markdown documentation file.
type Doc struct {
	FilePath     string
	Title        string
	Category     string
	URLPath      string
	Body         string
	LastModified time.Time
	ImageURLs    []string
}

// Key is the stable identity used for fingerprinting and deterministic ids.
func (d Doc) Key() string { return d.FilePath }

// Post is a SourceUnit of kind post: one message within a forum thread.
// Fingerprint is authoritative for change detection and is computed by the
// reader from ContentFull at scan time; Posts are immutable within a scan.
type Post struct {
	ThreadID       string
	PostID         string
	ThreadTitle    string
	Category       string
	Path           string
	Page           int
	Anchor         string
	Username       string
	UserID         string
	Date           time.Time
	Content        string // quotes stripped
	ContentFull    string // original, including quoted material
	QuotedContent  string
	ImageURLs      []string
	Keywords       []string
	Mentions       []string
	Fingerprint    string
	IsSubstantive  bool
}

// Key is the stable identity used for fingerprinting and deterministic ids.
func (p Post) Key() string { return p.ThreadID + "::" + p.PostID }

// ChunkType discriminates original post content from re-embedded quoted
// content, per §4.4.
type ChunkType string

const (
	ChunkTypeOriginal ChunkType = "original"
	ChunkTypeQuoted   ChunkType = "quoted"
)

// DocChunkMetadata is the payload attached to chunks derived from a Doc,
// matching the vector index payload schema in §6.
type DocChunkMetadata struct {
	SourceFile    string `json:"source_file"`
	DocTitle      string `json:"doc_title"`
	SectionTitle  string `json:"section_title"`
	DocCategory   string `json:"doc_category"`
	URLPath       string `json:"url_path"`
	ChunkIndex    int    `json:"chunk_index"`
	ContentHash   string `json:"content_hash"`
	LastModified  string `json:"last_modified"`
	EmbeddingModel string `json:"embedding_model"`
	ImageURLs     []string `json:"image_urls"`
	Content       string `json:"content"`
}

// ForumChunkMetadata is the payload attached to chunks derived from a Post,
// matching the vector index payload schema in §6.
type ForumChunkMetadata struct {
	DocType        string    `json:"docType"`
	ThreadID       string    `json:"threadId"`
	PostID         string    `json:"postId"`
	SubChunkIndex  int       `json:"subChunkIndex"`
	Username       string    `json:"username"`
	UserID         string    `json:"userId"`
	Date           string    `json:"date"`
	ThreadTitle    string    `json:"threadTitle"`
	ForumCategory  string    `json:"forumCategory"`
	ForumPath      string    `json:"forumPath"`
	Page           int       `json:"page"`
	Anchor         string    `json:"anchor"`
	Keywords       []string  `json:"keywords"`
	Mentions       []string  `json:"mentions"`
	HasLinks       bool      `json:"hasLinks"`
	HasImages      bool      `json:"hasImages"`
	Images         []string  `json:"images"`
	ContentLength  int       `json:"contentLength"`
	Fingerprint    string    `json:"fingerprint"`
	EmbeddingModel string    `json:"embeddingModel"`
	ChunkType      ChunkType `json:"chunkType"`
	Content        string    `json:"content"`
}

// Chunk is a bounded text segment derived from a source unit -- the atom of
// embedding and upsert. ID is deterministic: hash(sourceKey, subIndex,
// embeddingModel). Metadata is DocChunkMetadata or ForumChunkMetadata
// depending on the owning unit's kind.
type Chunk struct {
	ID         string
	SourceKey  string
	Kind       Kind
	Content    string
	TokenCount int
	Metadata   any
}

// EmbeddedChunk pairs a Chunk with its embedding vector. The pipeline
// validates len(Vector) == the configured collection dimension before
// upsert; a mismatch aborts the session per §3.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// Package images implements per-conversation image pagination (§4.12): an
// ordered, de-duplicated URL list per conversation, paged on request, with
// LRU eviction across conversations to bound memory.
package images

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Page is a single page of a conversation's image list.
type Page struct {
	Images  []string
	Total   int
	HasMore bool
}

type conversation struct {
	mu   sync.Mutex
	urls []string
	seen map[string]bool
}

func newConversation() *conversation {
	return &conversation{seen: make(map[string]bool)}
}

func (c *conversation) add(urls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range urls {
		if u == "" || c.seen[u] {
			continue
		}
		c.seen[u] = true
		c.urls = append(c.urls, u)
	}
}

func (c *conversation) page(offset, limit int) Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := len(c.urls)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return Page{Total: total}
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]string, end-offset)
	copy(out, c.urls[offset:end])
	return Page{Images: out, Total: total, HasMore: end < total}
}

// Store holds one ordered image list per conversation ID, evicting the
// least-recently-used conversation once the configured cap is exceeded.
type Store struct {
	cache *lru.Cache[string, *conversation]
}

// DefaultCap bounds the number of conversations tracked concurrently.
const DefaultCap = 1000

// NewStore constructs a Store capped at maxConversations (DefaultCap if <= 0).
func NewStore(maxConversations int) *Store {
	if maxConversations <= 0 {
		maxConversations = DefaultCap
	}
	c, _ := lru.New[string, *conversation](maxConversations)
	return &Store{cache: c}
}

func (s *Store) getOrCreate(conversationID string) *conversation {
	if c, ok := s.cache.Get(conversationID); ok {
		return c
	}
	c := newConversation()
	s.cache.Add(conversationID, c)
	return c
}

// AddImages appends newly seen image URLs for a conversation, in the order
// encountered, skipping duplicates already recorded.
func (s *Store) AddImages(conversationID string, urls []string) {
	if len(urls) == 0 {
		return
	}
	s.getOrCreate(conversationID).add(urls)
}

// ListImages returns one page of a conversation's accumulated image list.
func (s *Store) ListImages(conversationID string, offset, limit int) Page {
	c, ok := s.cache.Get(conversationID)
	if !ok {
		return Page{}
	}
	return c.page(offset, limit)
}

// Clear removes a conversation's image list entirely.
func (s *Store) Clear(conversationID string) {
	s.cache.Remove(conversationID)
}

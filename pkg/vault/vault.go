// Package vault holds the in-memory mirror of the user's documents.
package vault

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ai-daemon/pkg/store"
)

var ErrDocumentNotFound = errors.New("document not found")

const (
	untitled        = "Untitled"
	maxResults      = 10
	tokensPerWord   = 1.3
	nameSnippetSize = 150
)

// MatchType ranks how a search result matched.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
	MatchName    MatchType = "name"
)

func (m MatchType) rank() int {
	switch m {
	case MatchExact:
		return 0
	case MatchPartial:
		return 1
	default:
		return 2
	}
}

type SearchResult struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	MatchType MatchType `json:"matchType"`
	Snippet   string    `json:"snippet"`
}

// Content is a document as returned to a provider.
type Content struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

type SyncResult struct {
	Count     int `json:"count"`
	Received  int `json:"received"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

type Stats struct {
	DocumentCount   int `json:"documentCount"`
	TotalCharacters int `json:"totalCharacters"`
	TotalWords      int `json:"totalWords"`
	EstimatedTokens int `json:"estimatedTokens"`
}

// Cache is safe for concurrent use. Sync replaces the set atomically with respect to
// readers.
type Cache struct {
	mu   sync.RWMutex
	docs map[string]store.Document
	now  func() time.Time
}

func New() *Cache {
	return &Cache{
		docs: make(map[string]store.Document),
		now:  time.Now,
	}
}

// Sync makes the cache mirror docs exactly. Documents without an id are skipped; a
// missing hash is computed from the text so repeated syncs of the same set are no-ops.
func (c *Cache) Sync(docs []store.Document) SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res SyncResult
	incoming := make(map[string]bool, len(docs))
	now := c.now()

	for _, d := range docs {
		if d.ID == "" {
			continue
		}
		incoming[d.ID] = true
		d = normalize(d)

		existing, ok := c.docs[d.ID]
		switch {
		case !ok:
			res.Added++
		case existing.Hash == d.Hash && existing.Name == d.Name && existing.Path == d.Path:
			res.Unchanged++
			continue
		default:
			res.Updated++
		}
		d.UpdatedAt = now
		c.docs[d.ID] = d
	}

	for id := range c.docs {
		if !incoming[id] {
			delete(c.docs, id)
			res.Removed++
		}
	}

	res.Received = len(incoming)
	res.Count = len(c.docs)
	return res
}

func normalize(d store.Document) store.Document {
	if d.Name == "" {
		d.Name = untitled
	}
	if d.Path == "" {
		d.Path = d.Name
	}
	if d.Hash == "" {
		d.Hash = Checksum(d.Text)
	}
	return d
}

// sortedLocked returns documents ordered by path then id. Caller holds at least a read lock.
func (c *Cache) sortedLocked() []store.Document {
	out := make([]store.Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Search ranks exact text matches before partial word matches before name or path
// matches, and returns at most ten results.
func (c *Cache) Search(query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}
	}

	queryLower := strings.ToLower(query)
	var words []string
	for _, w := range strings.Fields(queryLower) {
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
	}

	c.mu.RLock()
	docs := c.sortedLocked()
	c.mu.RUnlock()

	results := []SearchResult{}
	for _, d := range docs {
		text := []rune(d.Text)
		lower := lowerRunes(text)

		matchType := MatchExact
		at, length := indexRunes(lower, queryLower)
		if at < 0 {
			for _, w := range words {
				if at, length = indexRunes(lower, w); at >= 0 {
					matchType = MatchPartial
					break
				}
			}
		}

		nameMatch := containsAny(strings.ToLower(d.Name), queryLower, words) ||
			containsAny(strings.ToLower(d.Path), queryLower, words)
		if at < 0 && !nameMatch {
			continue
		}

		r := SearchResult{ID: d.ID, Name: d.Name, Path: d.Path}
		if at >= 0 {
			r.MatchType = matchType
			r.Snippet = snippet(text, at, length)
		} else {
			r.MatchType = MatchName
			r.Snippet = leading(text, nameSnippetSize)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MatchType.rank() < results[j].MatchType.rank()
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

func containsAny(s, query string, words []string) bool {
	if strings.Contains(s, query) {
		return true
	}
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ReadDocument looks up by exact path or name, then by case-insensitive substring.
func (c *Cache) ReadDocument(path string) (Content, error) {
	c.mu.RLock()
	docs := c.sortedLocked()
	c.mu.RUnlock()

	for _, d := range docs {
		if d.Path == path || d.Name == path {
			return toContent(d), nil
		}
	}

	needle := strings.ToLower(path)
	if needle != "" {
		for _, d := range docs {
			if strings.Contains(strings.ToLower(d.Path), needle) || strings.Contains(strings.ToLower(d.Name), needle) {
				return toContent(d), nil
			}
		}
	}

	return Content{}, ErrDocumentNotFound
}

func toContent(d store.Document) Content {
	return Content{ID: d.ID, Name: d.Name, Path: d.Path, Content: d.Text}
}

// Documents lists references to every cached document, ordered by path.
func (c *Cache) Documents() []store.DocumentRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := c.sortedLocked()
	refs := make([]store.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = store.DocumentRef{ID: d.ID, Name: d.Name, Path: d.Path}
	}
	return refs
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Stats
	for _, d := range c.docs {
		s.TotalCharacters += utf8.RuneCountInString(d.Text)
		s.TotalWords += len(strings.Fields(d.Text))
	}
	s.DocumentCount = len(c.docs)
	s.EstimatedTokens = int(math.Round(float64(s.TotalWords) * tokensPerWord))
	return s
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = make(map[string]store.Document)
}

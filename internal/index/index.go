// Package index maintains the offline recall cache: a bleve full-text index
// over memory entries the client has seen in tool results. It lets the
// recall command answer queries without a server round trip.
package index

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"
)

// MemoryEntry is one indexed memory, extracted best-effort from tool
// results.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      string    `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchHit pairs an entry with its relevance score.
type SearchHit struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
}

// Recall wraps the bleve index over memory entries.
type Recall struct {
	index  bleve.Index
	logger *zap.Logger
}

// Open creates or opens recall.bleve inside dir.
func Open(dir string, logger *zap.Logger) (*Recall, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "recall"))
	indexPath := filepath.Join(dir, "recall.bleve")

	idx, err := bleve.Open(indexPath)
	if err != nil {
		logger.Info("Creating new recall index", zap.String("path", indexPath))
		idx, err = createIndex(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create recall index: %w", err)
		}
	} else {
		logger.Debug("Opened existing recall index", zap.String("path", indexPath))
	}
	return &Recall{index: idx, logger: logger}, nil
}

func createIndex(indexPath string) (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()
	entryMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	entryMapping.AddFieldMappingsAt("id", idField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true
	entryMapping.AddFieldMappingsAt("title", titleField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	entryMapping.AddFieldMappingsAt("content", contentField)

	tagsField := bleve.NewTextFieldMapping()
	tagsField.Analyzer = standard.Name
	tagsField.Store = true
	entryMapping.AddFieldMappingsAt("tags", tagsField)

	indexMapping.AddDocumentMapping("memory", entryMapping)
	indexMapping.DefaultMapping = entryMapping

	return bleve.New(indexPath, indexMapping)
}

// Close releases the index.
func (r *Recall) Close() error {
	return r.index.Close()
}

// Upsert indexes one entry, replacing any previous version with the same ID.
func (r *Recall) Upsert(entry *MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("memory entry requires an id")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	r.logger.Debug("Indexing memory entry", zap.String("id", entry.ID))
	return r.index.Index(entry.ID, entry)
}

// Delete removes one entry.
func (r *Recall) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("memory id cannot be empty")
	}
	return r.index.Delete(id)
}

// Search runs a full-text match query over title, content, and tags.
func (r *Recall) Search(query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	searchReq := bleve.NewSearchRequest(matchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"id", "title", "content", "tags"}

	result, err := r.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("recall search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, SearchHit{
			Score: hit.Score,
			Entry: MemoryEntry{
				ID:      stringField(hit.Fields, "id"),
				Title:   stringField(hit.Fields, "title"),
				Content: stringField(hit.Fields, "content"),
				Tags:    stringField(hit.Fields, "tags"),
			},
		})
	}
	return hits, nil
}

// Count reports how many entries the index holds.
func (r *Recall) Count() (uint64, error) {
	return r.index.DocCount()
}

// HarvestResult pulls memory-shaped objects out of a raw tool result and
// upserts them. Results that do not look like memories are skipped without
// error; this feeds the cache opportunistically, it does not validate.
func (r *Recall) HarvestResult(raw json.RawMessage) int {
	entries := extractEntries(raw)
	stored := 0
	for i := range entries {
		if err := r.Upsert(&entries[i]); err != nil {
			r.logger.Debug("Failed to index harvested memory", zap.String("id", entries[i].ID), zap.Error(err))
			continue
		}
		stored++
	}
	return stored
}

// extractEntries walks the decoded result looking for objects that carry at
// least an id plus a title or content field, including one level of nesting
// under common envelope keys.
func extractEntries(raw json.RawMessage) []MemoryEntry {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	var entries []MemoryEntry
	var visit func(v any, depth int)
	visit = func(v any, depth int) {
		if depth > 3 {
			return
		}
		switch t := v.(type) {
		case map[string]any:
			if e, ok := entryFrom(t); ok {
				entries = append(entries, e)
				return
			}
			for _, key := range []string{"data", "memories", "results", "items", "memory", "content"} {
				if nested, ok := t[key]; ok {
					visit(nested, depth+1)
				}
			}
		case []any:
			for _, item := range t {
				visit(item, depth+1)
			}
		}
	}
	visit(decoded, 0)
	return entries
}

func entryFrom(obj map[string]any) (MemoryEntry, bool) {
	id, _ := obj["id"].(string)
	if id == "" {
		return MemoryEntry{}, false
	}
	title, _ := obj["title"].(string)
	content, _ := obj["content"].(string)
	if title == "" && content == "" {
		return MemoryEntry{}, false
	}
	entry := MemoryEntry{ID: id, Title: title, Content: content}
	switch tags := obj["tags"].(type) {
	case string:
		entry.Tags = tags
	case []any:
		parts := make([]string, 0, len(tags))
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				parts = append(parts, s)
			}
		}
		entry.Tags = strings.Join(parts, " ")
	}
	return entry, true
}

func stringField(fields map[string]any, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

package session

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/parley/internal/chat"
)

// SearchIndex provides full-text search over transcript messages.
type SearchIndex struct {
	index bleve.Index
	path  string
}

// NewSearchIndex creates or opens the transcript index next to the database.
// A corrupted index is deleted and recreated; the transcript table stays the
// source of truth.
func NewSearchIndex(dbPath string) (*SearchIndex, error) {
	indexPath := dbPath + ".bleve"

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create transcript index: %w", err)
		}
	} else if err != nil {
		log.Printf("WARNING: transcript index appears corrupted (error: %v), recreating...", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted index: %w", err)
		}
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate transcript index: %w", err)
		}
	}

	return &SearchIndex{index: index, path: indexPath}, nil
}

// Close releases the index.
func (x *SearchIndex) Close() error { return x.index.Close() }

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	// Exact-match filter fields.
	scopeField := bleve.NewTextFieldMapping()
	scopeField.Analyzer = keyword.Name
	scopeField.Store = true
	scopeField.Index = true
	docMapping.AddFieldMappingsAt("scope_key", scopeField)

	roleField := bleve.NewTextFieldMapping()
	roleField.Analyzer = keyword.Name
	roleField.Store = true
	roleField.Index = true
	docMapping.AddFieldMappingsAt("role", roleField)

	// Searchable message text.
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = false
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexMessage adds or replaces one message in the index.
func (x *SearchIndex) IndexMessage(scopeKey string, m chat.Message) error {
	doc := map[string]interface{}{
		"scope_key": scopeKey,
		"role":      string(m.Role),
		"content":   m.Content,
	}
	if err := x.index.Index(m.ID, doc); err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}
	return nil
}

// Search returns the ids and scores of the top k matches within a scope.
func (x *SearchIndex) Search(scopeKey, query string, k int) ([]string, []float64, error) {
	if k <= 0 {
		k = 10
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("content")

	scopeQuery := bleve.NewTermQuery(scopeKey)
	scopeQuery.SetField("scope_key")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, scopeQuery))
	req.Size = k

	res, err := x.index.Search(req)
	if err != nil {
		return nil, nil, fmt.Errorf("transcript search failed: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	scores := make([]float64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
		scores = append(scores, hit.Score)
	}
	return ids, scores, nil
}

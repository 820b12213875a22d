package gallery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"promptgallery/internal/models"
)

// SearchIndex is an in-memory full-text index over record prompts.
type SearchIndex struct {
	index bleve.Index
}

type promptDoc struct {
	Prompt   string `json:"prompt"`
	Filename string `json:"filename"`
	Model    string `json:"model"`
}

func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("gallery.NewSearchIndex: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

func (s *SearchIndex) Add(rec models.ImageRecord) error {
	return s.index.Index(docID(rec.ID), promptDoc{
		Prompt:   rec.Prompt,
		Filename: rec.Filename,
		Model:    rec.Model,
	})
}

func (s *SearchIndex) Delete(id int64) error {
	return s.index.Delete(docID(id))
}

// Search returns up to limit record ids ordered by relevance. A blank query
// matches nothing.
func (s *SearchIndex) Search(query string, limit int) ([]int64, error) {
	if strings.TrimSpace(query) == "" || limit < 1 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *SearchIndex) Close() error {
	return s.index.Close()
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

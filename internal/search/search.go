// Package search provides the Bleve full-text index over paragraph originals.
package search

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/proofloop/galley/internal/models"
)

// Index is a Bleve index over the original text of every imported paragraph.
// Documents are keyed "<chapterID>:<index>" so hits map straight back to the
// review API's addressing scheme.
type Index struct {
	index bleve.Index
}

// paragraphDoc is the indexed shape of one paragraph.
type paragraphDoc struct {
	ProjectID   string `json:"projectId"`
	ChapterName string `json:"chapterName"`
	Text        string `json:"text"`
}

// Result is a single search hit.
type Result struct {
	ProjectID int64   `json:"projectId"`
	ChapterID int64   `json:"chapterId"`
	Index     int     `json:"index"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

// NewIndex creates or opens a Bleve index at path. An existing index is
// opened and reused so imports stay incremental. If the mapping changes in
// code, remove the index directory to force a full re-index.
func NewIndex(path string) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query for an
	// exact word in the manuscript matches that word and nothing stemmed.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("chapterName", textFieldMapping)
	docMapping.AddFieldMappingsAt("projectId", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("paragraph", docMapping)
	im.DefaultType = "paragraph"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// IndexProject indexes every paragraph of a loaded project in one batch.
func (ix *Index) IndexProject(ctx context.Context, p *models.Project) error {
	batch := ix.index.NewBatch()
	projectID := strconv.FormatInt(p.ID, 10)
	for _, ch := range p.Chapters {
		for _, para := range ch.Paragraphs {
			doc := &paragraphDoc{
				ProjectID:   projectID,
				ChapterName: ch.Name,
				Text:        para.OriginalText,
			}
			if err := batch.Index(docID(ch.ID, para.Index), doc); err != nil {
				return fmt.Errorf("index paragraph %s: %w", docID(ch.ID, para.Index), err)
			}
		}
	}
	return ix.index.Batch(batch)
}

// Search runs a match query over paragraph text and chapter names and returns
// up to limit hits. projectID restricts hits to one project; 0 searches all.
func (ix *Index) Search(ctx context.Context, queryStr string, projectID int64, limit int) ([]*Result, error) {
	var q blevequery.Query = bleve.NewMatchQuery(queryStr)
	if projectID != 0 {
		tq := bleve.NewTermQuery(strconv.FormatInt(projectID, 10))
		tq.SetField("projectId")
		q = bleve.NewConjunctionQuery(q, tq)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	results, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		chapterID, index, ok := parseDocID(hit.ID)
		if !ok {
			continue
		}
		r := &Result{ChapterID: chapterID, Index: index, Score: hit.Score}
		if s, ok := hit.Fields["projectId"].(string); ok {
			r.ProjectID, _ = strconv.ParseInt(s, 10, 64)
		}
		if s, ok := hit.Fields["text"].(string); ok {
			r.Text = s
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteProject removes every indexed paragraph of a project.
func (ix *Index) DeleteProject(ctx context.Context, projectID int64) error {
	tq := bleve.NewTermQuery(strconv.FormatInt(projectID, 10))
	tq.SetField("projectId")
	for {
		req := bleve.NewSearchRequest(tq)
		req.Size = 1000
		results, err := ix.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := ix.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := ix.index.Batch(batch); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
	}
}

// DocCount returns the total number of indexed paragraphs.
func (ix *Index) DocCount() (uint64, error) {
	return ix.index.DocCount()
}

// Close closes the Bleve index.
func (ix *Index) Close() error {
	return ix.index.Close()
}

func docID(chapterID int64, index int) string {
	return strconv.FormatInt(chapterID, 10) + ":" + strconv.Itoa(index)
}

func parseDocID(id string) (chapterID int64, index int, ok bool) {
	c, i, found := strings.Cut(id, ":")
	if !found {
		return 0, 0, false
	}
	chapterID, err := strconv.ParseInt(c, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(i)
	if err != nil {
		return 0, 0, false
	}
	return chapterID, index, true
}

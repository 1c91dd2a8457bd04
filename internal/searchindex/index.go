// Package searchindex wraps a Bleve index holding one document per catalog
// game, keyed by the decimal game id.
package searchindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
)

// Document is the indexed shape of a game. Absent enrichment fields are
// serialized as null.
type Document struct {
	ID          int64    `json:"id"`
	GameName    string   `json:"game_name"`
	Filename    string   `json:"filename"`
	Platform    string   `json:"platform"`
	GroupName   string   `json:"group_name"`
	Region      string   `json:"region"`
	Size        string   `json:"size"`
	DownloadURL string   `json:"download_url"`
	Tags        []string `json:"tags"`
	Description *string  `json:"description"`
	Rating      *float64 `json:"rating"`
	ReleaseDate *string  `json:"release_date"`
	Developer   *string  `json:"developer"`
	Publisher   *string  `json:"publisher"`
	Genre       *string  `json:"genre"`
	Images      []string `json:"images"`
}

// FromGame converts a catalog row into its index document.
func FromGame(g *catalog.Game) Document {
	return Document{
		ID:          g.ID,
		GameName:    g.GameName,
		Filename:    g.Filename,
		Platform:    g.Platform,
		GroupName:   g.GroupName,
		Region:      g.Region,
		Size:        g.Size,
		DownloadURL: g.DownloadURL,
		Tags:        g.Tags,
		Description: g.Description,
		Rating:      g.Rating,
		ReleaseDate: g.ReleaseDate,
		Developer:   g.Developer,
		Publisher:   g.Publisher,
		Genre:       g.Genre,
		Images:      g.Images,
	}
}

// FromGames converts a slice of catalog rows.
func FromGames(games []*catalog.Game) []Document {
	docs := make([]Document, 0, len(games))
	for _, g := range games {
		docs = append(docs, FromGame(g))
	}
	return docs
}

// Index is the search-index adapter. Adds are idempotent upserts by id.
type Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	closed   bool
	failures atomic.Int64
}

// New opens (or creates) the index at path. An empty path creates an
// in-memory index for tests.
func New(path string) (*Index, error) {
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(buildMapping())
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, buildMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildMapping declares the searchable, filterable and sortable fields.
// game_name/genre/developer/description/tags are analyzed text; platform
// and region are exact keywords; rating is numeric; release_date is an ISO
// date string, kept as a keyword so lexicographic order is date order.
func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	num := bleve.NewNumericFieldMapping()

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	game := bleve.NewDocumentMapping()
	game.AddFieldMappingsAt("game_name", text)
	game.AddFieldMappingsAt("genre", text)
	game.AddFieldMappingsAt("developer", text)
	game.AddFieldMappingsAt("description", text)
	game.AddFieldMappingsAt("tags", text)
	game.AddFieldMappingsAt("platform", kw)
	game.AddFieldMappingsAt("region", kw)
	game.AddFieldMappingsAt("rating", num)
	game.AddFieldMappingsAt("release_date", kw)
	game.AddFieldMappingsAt("download_url", stored)
	game.AddFieldMappingsAt("filename", stored)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = game
	return im
}

// Add upserts documents in one batch. A failure increments the failure
// counter; callers log it and move on, the preceding catalog write stands.
func (x *Index) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("search index is closed")
	}

	batch := x.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(strconv.FormatInt(doc.ID, 10), doc); err != nil {
			x.failures.Add(1)
			return fmt.Errorf("index document %d: %w", doc.ID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		x.failures.Add(1)
		return fmt.Errorf("index batch of %d: %w", len(docs), err)
	}
	return nil
}

// Delete removes documents by game id.
func (x *Index) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("search index is closed")
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(strconv.FormatInt(id, 10))
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("delete batch of %d: %w", len(ids), err)
	}
	return nil
}

// DeleteAll removes every document. Bleve has no truncate, so this walks
// all ids and deletes them in one batch.
func (x *Index) DeleteAll(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("search index is closed")
	}

	count, err := x.index.DocCount()
	if err != nil {
		return fmt.Errorf("doc count: %w", err)
	}
	if count == 0 {
		return nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{}
	result, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("enumerate documents: %w", err)
	}

	batch := x.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

// Result is one search hit.
type Result struct {
	ID    int64
	Score float64
}

// Search runs a match query across the analyzed fields and returns game
// ids ranked by score, plus the total hit count.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Result, uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, 0, fmt.Errorf("search index is closed")
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	result, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search %q: %w", query, err)
	}

	hits := make([]Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Result{ID: id, Score: hit.Score})
	}
	return hits, result.Total, nil
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, fmt.Errorf("search index is closed")
	}
	return x.index.DocCount()
}

// Failures returns the number of failed add batches.
func (x *Index) Failures() int64 {
	return x.failures.Load()
}

// Close closes the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}

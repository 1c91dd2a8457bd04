// Package catalog is the SQLite-backed store of record for the game catalog.
package catalog

import "time"

// Game is one row in the games table. The enrichment fields are pointers:
// nil means "never enriched", an empty-string Description means "the
// provider was asked and had no hit".
type Game struct {
	ID          int64     `json:"id"`
	DownloadURL string    `json:"download_url"`
	GameName    string    `json:"game_name"`
	Filename    string    `json:"filename"`
	Platform    string    `json:"platform"`
	GroupName   string    `json:"group_name"`
	Region      string    `json:"region"`
	Size        string    `json:"size"`
	Tags        []string  `json:"tags"`
	Description *string   `json:"description"`
	Rating      *float64  `json:"rating"`
	ReleaseDate *string   `json:"release_date"`
	Developer   *string   `json:"developer"`
	Publisher   *string   `json:"publisher"`
	Genre       *string   `json:"genre"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"created_at"`
}

// Enriched reports whether the provider has been consulted for this game.
func (g *Game) Enriched() bool {
	return g.Description != nil
}

// UpsertRecord is the crawl-derived portion of a game row. Upserting an
// existing download_url updates only these fields; enrichment columns are
// preserved.
type UpsertRecord struct {
	DownloadURL string
	GameName    string
	Filename    string
	Platform    string
	GroupName   string
	Region      string
	Size        string
	Tags        []string
}

// UpsertRow is what BatchUpsert returns per input record, in input order.
type UpsertRow struct {
	ID          int64
	GameName    string
	Description *string
	Filename    string
}

// EnrichmentFields is the subset of columns written by enrichment.
// Nil fields are left untouched, with the exception of Description which
// callers always set (possibly to the empty-string sentinel).
type EnrichmentFields struct {
	Description *string
	Rating      *float64
	ReleaseDate *string
	Developer   *string
	Publisher   *string
	Genre       *string
	Images      []string
}

// Stats summarizes the store for the admin status endpoint.
type Stats struct {
	Games      int64 `json:"games"`
	Enriched   int64 `json:"enriched"`
	SearchLogs int64 `json:"search_logs"`
}

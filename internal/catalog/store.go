package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// maxSQLParams caps IN-list sizes so bulk reads and deletes stay well under
// SQLite's bound-parameter ceiling.
const maxSQLParams = 900

// Store wraps the SQLite catalog database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if missing) the catalog database at path.
// WAL mode allows the crawler flushes, enrich workers and admin reads to
// share one file.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	db.SetMaxOpenConns(32)
	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// Each connection would get its own memory database; pin to one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

// Init ensures the schema exists and prunes search logs older than a year.
func (s *Store) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		download_url TEXT NOT NULL UNIQUE,
		game_name TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		group_name TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		description TEXT,
		rating REAL,
		release_date TEXT,
		developer TEXT,
		publisher TEXT,
		genre TEXT,
		images TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_games_platform ON games(platform);
	CREATE INDEX IF NOT EXISTS idx_games_group ON games(group_name);

	CREATE TABLE IF NOT EXISTS search_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		results INTEGER NOT NULL DEFAULT 0,
		searched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_search_logs_at ON search_logs(searched_at);
	CREATE INDEX IF NOT EXISTS idx_search_logs_query ON search_logs(query);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM search_logs WHERE searched_at < datetime('now', '-1 year')`); err != nil {
		return fmt.Errorf("prune search logs: %w", err)
	}
	return nil
}

const upsertColumns = `download_url, game_name, filename, platform, group_name, region, size, tags`

// BatchUpsert inserts records in one statement. On download_url conflict
// only the crawl-derived columns are updated; enrichment columns survive.
// Returned rows correspond to the input records in input order.
//
// Input records must have distinct download_urls: SQLite rejects upserting
// the same row twice in one statement. The crawler dedupes per run.
func (s *Store) BatchUpsert(ctx context.Context, records []UpsertRecord) ([]UpsertRow, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO games (` + upsertColumns + `) VALUES `)
	args := make([]any, 0, len(records)*8)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		tags, err := json.Marshal(emptyToSlice(r.Tags))
		if err != nil {
			return nil, fmt.Errorf("marshal tags for %s: %w", r.DownloadURL, err)
		}
		args = append(args, r.DownloadURL, r.GameName, r.Filename,
			r.Platform, r.GroupName, r.Region, r.Size, string(tags))
	}
	b.WriteString(`
		ON CONFLICT(download_url) DO UPDATE SET
			game_name = excluded.game_name,
			filename = excluded.filename,
			platform = excluded.platform,
			group_name = excluded.group_name,
			region = excluded.region,
			size = excluded.size,
			tags = excluded.tags
		RETURNING id, game_name, description, filename`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("batch upsert %d records: %w", len(records), err)
	}
	defer rows.Close()

	out := make([]UpsertRow, 0, len(records))
	for rows.Next() {
		var r UpsertRow
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.GameName, &desc, &r.Filename); err != nil {
			return nil, fmt.Errorf("scan upsert row: %w", err)
		}
		if desc.Valid {
			r.Description = &desc.String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch upsert rows: %w", err)
	}
	if len(out) != len(records) {
		return nil, fmt.Errorf("batch upsert returned %d rows for %d records", len(out), len(records))
	}
	return out, nil
}

// UpdateFields writes the provided enrichment fields and returns the full
// resulting row.
func (s *Store) UpdateFields(ctx context.Context, id int64, f EnrichmentFields) (*Game, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if f.Description != nil {
		add("description", *f.Description)
	}
	if f.Rating != nil {
		add("rating", *f.Rating)
	}
	if f.ReleaseDate != nil {
		add("release_date", *f.ReleaseDate)
	}
	if f.Developer != nil {
		add("developer", *f.Developer)
	}
	if f.Publisher != nil {
		add("publisher", *f.Publisher)
	}
	if f.Genre != nil {
		add("genre", *f.Genre)
	}
	if f.Images != nil {
		images, err := json.Marshal(f.Images)
		if err != nil {
			return nil, fmt.Errorf("marshal images: %w", err)
		}
		add("images", string(images))
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := "UPDATE games SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("update game %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("update game %d: no such row", id)
		}
	}

	games, err := s.GamesByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, fmt.Errorf("game %d not found after update", id)
	}
	return games[0], nil
}

const gameColumns = `id, download_url, game_name, filename, platform, group_name,
	region, size, tags, description, rating, release_date, developer,
	publisher, genre, images, created_at`

// GamesByIDs bulk-selects full rows by id. Missing ids are skipped.
func (s *Store) GamesByIDs(ctx context.Context, ids []int64) ([]*Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*Game
	for _, chunk := range chunkIDs(ids, maxSQLParams) {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+gameColumns+" FROM games WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("select games by ids: %w", err)
		}
		games, err := scanGames(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, games...)
	}
	return out, nil
}

// AllURLs returns every download_url in the store.
func (s *Store) AllURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT download_url FROM games`)
	if err != nil {
		return nil, fmt.Errorf("select urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// DeleteByURLs bulk-deletes rows and returns the ids of the deleted rows
// so callers can evict the matching search-index documents.
func (s *Store) DeleteByURLs(ctx context.Context, urls []string) ([]int64, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var deleted []int64
	for _, chunk := range chunkStrings(urls, maxSQLParams) {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := make([]any, len(chunk))
		for i, u := range chunk {
			args[i] = u
		}
		rows, err := s.db.QueryContext(ctx,
			"DELETE FROM games WHERE download_url IN ("+placeholders+") RETURNING id", args...)
		if err != nil {
			return nil, fmt.Errorf("delete by urls: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan deleted id: %w", err)
			}
			deleted = append(deleted, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delete by urls: %w", err)
		}
		rows.Close()
	}
	return deleted, nil
}

// DeleteAllGames wipes the games table (clean mode).
func (s *Store) DeleteAllGames(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM games`); err != nil {
		return fmt.Errorf("delete all games: %w", err)
	}
	return nil
}

// AppendSearchLog records a search. Best-effort: failures are logged, never
// returned.
func (s *Store) AppendSearchLog(ctx context.Context, query string, results int) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_logs (query, results) VALUES (?, ?)`, query, results)
	if err != nil {
		slog.Warn("append search log failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
	}
}

// CountGames returns the number of catalog rows.
func (s *Store) CountGames(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// GetStats summarizes the store.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(description),
		       (SELECT COUNT(*) FROM search_logs)
		FROM games`)
	if err := row.Scan(&st.Games, &st.Enriched, &st.SearchLogs); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	return st, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanGames(rows *sql.Rows) ([]*Game, error) {
	defer rows.Close()

	var out []*Game
	for rows.Next() {
		g := &Game{}
		var tags string
		var desc, releaseDate, developer, publisher, genre, images sql.NullString
		var rating sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&g.ID, &g.DownloadURL, &g.GameName, &g.Filename,
			&g.Platform, &g.GroupName, &g.Region, &g.Size, &tags,
			&desc, &rating, &releaseDate, &developer, &publisher, &genre,
			&images, &createdAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &g.Tags); err != nil {
			g.Tags = nil
		}
		g.Description = nullString(desc)
		g.ReleaseDate = nullString(releaseDate)
		g.Developer = nullString(developer)
		g.Publisher = nullString(publisher)
		g.Genre = nullString(genre)
		if rating.Valid {
			g.Rating = &rating.Float64
		}
		if images.Valid {
			_ = json.Unmarshal([]byte(images.String), &g.Images)
		}
		if t, err := parseSQLiteTime(createdAt); err == nil {
			g.CreatedAt = t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

// parseSQLiteTime handles the formats CURRENT_TIMESTAMP may produce.
func parseSQLiteTime(v string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func emptyToSlice(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func chunkIDs(ids []int64, n int) [][]int64 {
	var chunks [][]int64
	for len(ids) > n {
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return append(chunks, ids)
}

func chunkStrings(vals []string, n int) [][]string {
	var chunks [][]string
	for len(vals) > n {
		chunks = append(chunks, vals[:n])
		vals = vals[n:]
	}
	return append(chunks, vals)
}

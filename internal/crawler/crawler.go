// Package crawler walks the archive's HTML directory listings breadth-first
// and turns file links into catalog records.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/romname"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
)

const (
	// DefaultConcurrency is the number of in-flight directory fetches.
	DefaultConcurrency = 20
	// DefaultBatchSize is the record count that triggers a store flush.
	DefaultBatchSize = 500
	// DefaultTimeout bounds a single directory fetch.
	DefaultTimeout = 30 * time.Second
)

// schemeRe matches absolute-scheme hrefs (https:, mailto:, ftp: ...).
var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// Config configures a crawl.
type Config struct {
	BaseURL     string
	Concurrency int
	BatchSize   int
	Timeout     time.Duration
}

// Crawler traverses the archive tree and flushes parsed records into the
// catalog, routing each row to either the enrichment queue or the index.
type Crawler struct {
	cfg    Config
	base   *url.URL
	client *http.Client

	store *catalog.Store
	index *searchindex.Index
	queue *async.Queue
	state *async.State
}

// New validates the config and builds a crawler for one run.
func New(cfg Config, store *catalog.Store, index *searchindex.Index, queue *async.Queue, state *async.State) (*Crawler, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Concurrency + 5,
		MaxIdleConnsPerHost: cfg.Concurrency + 5,
	}
	return &Crawler{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		store:  store,
		index:  index,
		queue:  queue,
		state:  state,
	}, nil
}

type fetchResult struct {
	url   string
	dirs  []string
	files []catalog.UpsertRecord
	err   error
}

// Run crawls the tree until it is exhausted or the run is cancelled. A
// cancel lets in-flight fetches finish and still runs the final flush;
// pruning only happens on an uncancelled incremental run. Fetch and store
// failures are reported through the run log and never abort the crawl.
func (c *Crawler) Run(ctx context.Context) error {
	pending := []string{c.base.String()}
	visited := map[string]bool{}
	seen := map[string]struct{}{}
	var buffer []catalog.UpsertRecord

	results := make(chan fetchResult)
	inFlight := 0

	for {
		for !c.state.Cancelled() && inFlight < c.cfg.Concurrency && len(pending) > 0 {
			next := pending[0]
			pending = pending[1:]
			if visited[next] {
				continue
			}
			visited[next] = true
			inFlight++
			go func(pageURL string) {
				results <- c.fetch(ctx, pageURL)
			}(next)
		}
		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		if res.err != nil {
			c.state.Logf("fetch %s: %v", res.url, res.err)
			continue
		}
		for _, dir := range res.dirs {
			if !visited[dir] {
				pending = append(pending, dir)
			}
		}
		for _, rec := range res.files {
			if _, dup := seen[rec.DownloadURL]; dup {
				continue
			}
			seen[rec.DownloadURL] = struct{}{}
			buffer = append(buffer, rec)
			if len(buffer) >= c.cfg.BatchSize {
				c.flush(ctx, buffer)
				buffer = nil
			}
		}
	}

	if len(buffer) > 0 {
		c.flush(ctx, buffer)
	}

	if c.state.Mode() == async.ModeIncremental && !c.state.Cancelled() {
		c.prune(ctx, seen)
	}
	return nil
}

// fetch downloads one directory listing and parses its links.
func (c *Crawler) fetch(ctx context.Context, pageURL string) fetchResult {
	res := fetchResult{url: pageURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		res.err = err
		return res
	}
	resp, err := c.client.Do(req)
	if err != nil {
		res.err = err
		return res
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		res.err = fmt.Errorf("status %d", resp.StatusCode)
		return res
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		res.err = fmt.Errorf("parse html: %w", err)
		return res
	}

	cur, err := url.Parse(pageURL)
	if err != nil {
		res.err = err
		return res
	}
	group, platform := c.pathContext(cur)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if rejectHref(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := cur.ResolveReference(ref)

		if strings.HasSuffix(abs.Path, "/") {
			res.dirs = append(res.dirs, abs.String())
			return
		}

		filename := path.Base(abs.Path)
		parsed := romname.Parse(filename)
		res.files = append(res.files, catalog.UpsertRecord{
			DownloadURL: abs.String(),
			GameName:    parsed.BaseName,
			Filename:    filename,
			Platform:    platform,
			GroupName:   group,
			Region:      parsed.Region,
			Size:        sizeCell(sel),
			Tags:        parsed.Tags,
		})
	})
	return res
}

// rejectHref filters links that do not point into the listing tree:
// query-only, absolute-scheme, root-absolute, parent-relative and the
// self-link.
func rejectHref(href string) bool {
	return href == "" ||
		strings.HasPrefix(href, "?") ||
		strings.HasPrefix(href, "/") ||
		strings.Contains(href, "..") ||
		href == "./" ||
		schemeRe.MatchString(href)
}

// sizeCell reads the size column of the table row enclosing a link.
// A missing cell or a bare "-" means the listing carries no size.
func sizeCell(sel *goquery.Selection) string {
	size := strings.TrimSpace(sel.Closest("tr").Find("td.size").First().Text())
	if size == "-" {
		return ""
	}
	return size
}

// pathContext derives the collection group and platform from the URL path
// below the archive root: first segment is the group, second the platform.
// Shallow pages fall back to the group name for both.
func (c *Crawler) pathContext(cur *url.URL) (group, platform string) {
	rel := strings.TrimPrefix(cur.Path, c.base.Path)
	segments := strings.Split(strings.Trim(rel, "/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		group = segments[0]
	}
	platform = group
	if len(segments) > 1 {
		platform = segments[1]
	}
	return group, platform
}

// flush upserts a batch and routes every returned row: rows still missing
// metadata go to the enrichment queue (unless the filename marks a
// non-game), already-enriched rows are re-indexed immediately so crawl
// updates reach the index without another provider call. A store failure
// drops this batch only; the crawl keeps going.
func (c *Crawler) flush(ctx context.Context, batch []catalog.UpsertRecord) {
	before, err := c.store.CountGames(ctx)
	if err != nil {
		c.state.Logf("drop batch of %d: count games: %v", len(batch), err)
		return
	}
	rows, err := c.store.BatchUpsert(ctx, batch)
	if err != nil {
		c.state.Logf("drop batch of %d: %v", len(batch), err)
		return
	}
	after, err := c.store.CountGames(ctx)
	if err != nil {
		c.state.Logf("count games after batch: %v", err)
		after = before
	}
	c.state.AddScraped(len(batch), int(after-before))

	var reindex []int64
	for _, row := range rows {
		needsEnrichment := c.state.Mode() == async.ModeClean || row.Description == nil
		if needsEnrichment && !romname.IsNonGame(row.Filename) {
			c.queue.Push(async.QueueItem{ID: row.ID, GameName: row.GameName})
			continue
		}
		reindex = append(reindex, row.ID)
	}

	if len(reindex) > 0 {
		games, err := c.store.GamesByIDs(ctx, reindex)
		if err != nil {
			c.state.Logf("load %d rows for indexing: %v", len(reindex), err)
			return
		}
		docs := searchindex.FromGames(games)
		if err := c.index.Add(ctx, docs); err != nil {
			c.state.Logf("index %d documents: %v", len(docs), err)
		} else {
			c.state.AddIndexed(len(docs))
		}
	}
}

// prune removes catalog rows and index documents for files that were not
// observed in this crawl. A store failure skips pruning for this run.
func (c *Crawler) prune(ctx context.Context, seen map[string]struct{}) {
	urls, err := c.store.AllURLs(ctx)
	if err != nil {
		c.state.Logf("skip pruning: list urls: %v", err)
		return
	}
	var stale []string
	for _, u := range urls {
		if _, ok := seen[u]; !ok {
			stale = append(stale, u)
		}
	}
	if len(stale) == 0 {
		return
	}

	ids, err := c.store.DeleteByURLs(ctx, stale)
	if err != nil {
		c.state.Logf("skip pruning: delete %d rows: %v", len(stale), err)
		return
	}
	if err := c.index.Delete(ctx, ids); err != nil {
		c.state.Logf("prune %d index documents: %v", len(ids), err)
	}
	c.state.AddPruned(len(ids))
	c.state.Logf("pruned %d stale entries", len(ids))
}

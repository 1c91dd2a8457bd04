package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/igdb"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
)

const (
	// DefaultWorkers is the size of the enrichment pool.
	DefaultWorkers = 4
	// DefaultLookupBatch is how many games one provider call covers.
	DefaultLookupBatch = 10
	// DefaultWorkerDelay is the pause after each provider call.
	DefaultWorkerDelay = time.Second

	// pollInterval is how long a worker waits for the queue to fill.
	pollInterval = 100 * time.Millisecond
)

// EnricherConfig configures the worker pool. The defaults keep the pool at
// four aggregate provider requests per second.
type EnricherConfig struct {
	Workers     int
	LookupBatch int
	WorkerDelay time.Duration
}

func (c *EnricherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.LookupBatch <= 0 {
		c.LookupBatch = DefaultLookupBatch
	}
	if c.WorkerDelay <= 0 {
		c.WorkerDelay = DefaultWorkerDelay
	}
}

// enricher drains the queue through the metadata provider and writes the
// results to the catalog and index.
type enricher struct {
	cfg     EnricherConfig
	client  *igdb.Client
	store   *catalog.Store
	index   *searchindex.Index
	queue   *async.Queue
	state   *async.State
	limiter *rate.Limiter
}

func newEnricher(cfg EnricherConfig, client *igdb.Client, store *catalog.Store, index *searchindex.Index, queue *async.Queue, state *async.State) *enricher {
	cfg.applyDefaults()
	return &enricher{
		cfg:     cfg,
		client:  client,
		store:   store,
		index:   index,
		queue:   queue,
		state:   state,
		limiter: rate.NewLimiter(rate.Every(cfg.callInterval()), 1),
	}
}

// callInterval is the steady-state gap between provider calls across the
// pool.
func (c EnricherConfig) callInterval() time.Duration {
	return c.WorkerDelay / time.Duration(c.Workers)
}

// worker is one pool member. Workers start staggered so provider calls
// spread evenly across the delay window; the shared limiter enforces the
// interval even when batches finish early.
func (e *enricher) worker(ctx context.Context, id int) error {
	stagger := time.Duration(id) * e.cfg.callInterval()
	if !sleepCtx(ctx, stagger) {
		return nil
	}

	for {
		if e.state.Cancelled() || ctx.Err() != nil {
			return nil
		}
		if e.queue.Len() < e.cfg.LookupBatch && !e.state.ScrapeComplete() {
			if !sleepCtx(ctx, pollInterval) {
				return nil
			}
			continue
		}

		items := e.queue.PopBatch(e.cfg.LookupBatch)
		if len(items) == 0 {
			if e.state.ScrapeComplete() {
				return nil
			}
			if !sleepCtx(ctx, pollInterval) {
				return nil
			}
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil
		}
		e.lookupBatch(ctx, items)

		if !sleepCtx(ctx, e.cfg.WorkerDelay) {
			return nil
		}
	}
}

// lookupBatch resolves one popped batch: a single provider call, then
// per-item catalog writes in parallel, then one index batch. A failed
// provider call drops the whole batch; a failed catalog write skips just
// that item.
func (e *enricher) lookupBatch(ctx context.Context, items []async.QueueItem) {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.GameName
	}

	hits, err := e.client.BatchLookup(ctx, names)
	if err != nil {
		e.state.Logf("metadata lookup for %d games: %v", len(items), err)
		return
	}

	var mu sync.Mutex
	var docs []searchindex.Document

	var wg sync.WaitGroup
	for i, it := range items {
		wg.Add(1)
		go func(i int, it async.QueueItem) {
			defer wg.Done()

			var fields catalog.EnrichmentFields
			if hit, ok := hits[i]; ok {
				fields = igdb.Normalize(hit)
			} else {
				fields = igdb.NormalizeMiss()
			}

			game, err := e.store.UpdateFields(ctx, it.ID, fields)
			if err != nil {
				e.state.Logf("enrich game %d (%s): %v", it.ID, it.GameName, err)
				return
			}
			e.state.AddEnriched(1)

			mu.Lock()
			docs = append(docs, searchindex.FromGame(game))
			mu.Unlock()
		}(i, it)
	}
	wg.Wait()

	if len(docs) == 0 {
		return
	}
	if err := e.index.Add(ctx, docs); err != nil {
		e.state.Logf("index %d enriched documents: %v", len(docs), err)
		return
	}
	e.state.AddIndexed(len(docs))
}

// sleepCtx sleeps for d unless the context ends first. Reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

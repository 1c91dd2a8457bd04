// Package pipeline orchestrates one ingestion run: the crawl, the
// enrichment pool and the terminal status bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/crawler"
	"github.com/Myrient-Search/Myrient-Search/internal/igdb"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is
	// active, in this process or another holding the run lock.
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrNotRunning is returned when a stop is requested with no active run.
	ErrNotRunning = errors.New("pipeline not running")
)

// Config configures the orchestrator. DataDir holds the cross-process run
// lock; an empty DataDir disables it.
type Config struct {
	Crawler  crawler.Config
	Enricher EnricherConfig
	DataDir  string
}

// Pipeline owns the run lifecycle. At most one run is active at a time;
// Start is non-blocking and Wait joins the active run.
type Pipeline struct {
	cfg    Config
	store  *catalog.Store
	index  *searchindex.Index
	client *igdb.Client

	mu      sync.Mutex
	running bool
	state   *async.State
	queue   *async.Queue
	done    chan struct{}
	lock    *flock.Flock
}

// New creates an orchestrator over the given adapters.
func New(cfg Config, store *catalog.Store, index *searchindex.Index, client *igdb.Client) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		index:  index,
		client: client,
	}
}

// Start begins a run in the given mode and returns its id without
// blocking. It fails with ErrAlreadyRunning if a run is active here or in
// another process holding the lock file.
func (p *Pipeline) Start(ctx context.Context, mode async.Mode) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return "", ErrAlreadyRunning
	}

	var runLock *flock.Flock
	if p.cfg.DataDir != "" {
		if err := os.MkdirAll(p.cfg.DataDir, 0o755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		runLock = flock.New(filepath.Join(p.cfg.DataDir, "pipeline.lock"))
		locked, err := runLock.TryLock()
		if err != nil {
			return "", fmt.Errorf("acquire run lock: %w", err)
		}
		if !locked {
			return "", ErrAlreadyRunning
		}
	}

	queue := async.NewQueue()
	state := async.NewState(uuid.NewString(), mode, queue)

	p.running = true
	p.state = state
	p.queue = queue
	p.done = make(chan struct{})
	p.lock = runLock

	go p.run(ctx, state, queue)
	return state.RunID(), nil
}

// Stop requests a graceful cancel of the active run. Tasks observe the
// flag at their next loop iteration; in-flight requests finish.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}
	p.state.Cancel()
	p.state.Logf("stop requested")
	return nil
}

// Wait blocks until the active run (if any) finishes.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether a run is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Snapshot returns the state of the active run, or of the last finished
// one. Before any run it reports idle.
func (p *Pipeline) Snapshot() async.Snapshot {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	if state == nil {
		return async.Snapshot{Status: async.StatusIdle}
	}
	return state.Snapshot()
}

func (p *Pipeline) run(ctx context.Context, state *async.State, queue *async.Queue) {
	defer func() {
		p.mu.Lock()
		p.running = false
		if p.lock != nil {
			_ = p.lock.Unlock()
			p.lock = nil
		}
		done := p.done
		p.mu.Unlock()
		close(done)
	}()

	state.Logf("run started in %s mode", state.Mode())

	// Schema setup failures are warnings; the run proceeds and surfaces
	// real store errors at first use.
	if err := p.store.Init(ctx); err != nil {
		state.Logf("catalog init: %v", err)
	}

	if state.Mode() == async.ModeClean {
		if err := p.index.DeleteAll(ctx); err != nil {
			state.Logf("clean index: %v", err)
		}
		if err := p.store.DeleteAllGames(ctx); err != nil {
			state.Logf("clean catalog: %v", err)
		}
	}

	enrich := p.client.Enabled()
	if enrich {
		if err := p.client.Authenticate(ctx); err != nil {
			state.Logf("provider auth failed, running scrape-only: %v", err)
			enrich = false
		}
	} else {
		state.Logf("provider credentials absent, running scrape-only")
	}

	cr, err := crawler.New(p.cfg.Crawler, p.store, p.index, queue, state)
	if err != nil {
		state.SetError(err.Error())
		state.Logf("run failed: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer state.SetScrapeComplete()
		return cr.Run(gctx)
	})
	if enrich {
		e := newEnricher(p.cfg.Enricher, p.client, p.store, p.index, queue, state)
		for i := 0; i < e.cfg.Workers; i++ {
			worker := i
			g.Go(func() error {
				return e.worker(gctx, worker)
			})
		}
	}

	runErr := g.Wait()
	snap := state.Snapshot()
	switch {
	case state.Cancelled():
		state.SetIdle()
		state.Logf("run cancelled: %d files seen, %d enriched", snap.ScrapeTotal, snap.Enriched)
	case runErr != nil:
		state.SetError(runErr.Error())
		state.Logf("run failed: %v", runErr)
	default:
		state.SetDone()
		state.Logf("run complete: %d files, %d new, %d enriched, %d indexed, %d pruned",
			snap.ScrapeTotal, snap.ScrapeNew, snap.Enriched, snap.Indexed, snap.Pruned)
	}
}

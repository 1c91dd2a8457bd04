package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/config"
	"github.com/Myrient-Search/Myrient-Search/internal/crawler"
	"github.com/Myrient-Search/Myrient-Search/internal/igdb"
	"github.com/Myrient-Search/Myrient-Search/internal/pipeline"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
)

// app bundles the wired adapters shared by serve and ingest.
type app struct {
	store *catalog.Store
	index *searchindex.Index
	pipe  *pipeline.Pipeline
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := catalog.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	index, err := searchindex.New(cfg.Storage.IndexPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := igdb.New(igdb.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		TokenURL:     cfg.Provider.TokenURL,
		APIURL:       cfg.Provider.APIURL,
	})

	pipe := pipeline.New(pipeline.Config{
		Crawler: crawler.Config{
			BaseURL:     cfg.Archive.BaseURL,
			Concurrency: cfg.Archive.Concurrency,
			BatchSize:   cfg.Archive.BatchSize,
			Timeout:     cfg.Archive.Timeout.Std(),
		},
		Enricher: pipeline.EnricherConfig{
			Workers:     cfg.Enricher.Workers,
			LookupBatch: cfg.Enricher.LookupBatch,
			WorkerDelay: cfg.Enricher.WorkerDelay.Std(),
		},
		DataDir: cfg.Storage.DataDir,
	}, store, index, client)

	return &app{store: store, index: index, pipe: pipe}, nil
}

func (a *app) Close() {
	_ = a.index.Close()
	_ = a.store.Close()
}

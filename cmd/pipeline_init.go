package main

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
	"github.com/arc-tools/reconcile-cli/internal/pipeline"
	"github.com/arc-tools/reconcile-cli/internal/provider"
	"github.com/arc-tools/reconcile-cli/internal/snapshot"
)

// pipelineEnv holds the fetcher registry, snapshot syncer, and pipeline used
// by the reconcile/serve/snapshot commands.
type pipelineEnv struct {
	Registry *provider.Registry
	Syncer   *snapshot.Syncer
	Pipeline *pipeline.Pipeline
	store    snapshot.Store
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.store != nil {
		_ = pe.store.Close()
	}
}

// rateLimiters returns the default per-host rate limiters. The wiki behind
// stashdb throttles hard; everything else is permissive.
func rateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"stashdb.wiki":        rate.NewLimiter(2, 2),
		"api.metaforge.gg":    rate.NewLimiter(10, 10),
		"raw.arcvault.dev":    rate.NewLimiter(10, 10),
		"mirror.tradepost.gg": rate.NewLimiter(5, 5),
	}
}

// initPipeline opens the snapshot store, wires all provider fetchers, and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		MaxRetries:   cfg.Fetch.MaxRetries,
		RateLimiters: rateLimiters(),
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Fetch.Timeout()})

	store, err := initSnapshotStore(ctx)
	if err != nil {
		return nil, err
	}

	syncer := snapshot.NewSyncer(
		store,
		provider.NewStashDB(cfg.StashDB, httpFetcher),
		cfg.Snapshot.SyncInterval(),
	)

	registry := provider.NewRegistry()
	registry.Register(provider.NewMetaforge(cfg.Metaforge, httpFetcher))
	registry.Register(provider.NewArcvault(cfg.Arcvault, httpFetcher))
	registry.Register(provider.NewTradepost(cfg.Tradepost, httpFetcher, ftpFetcher))
	// stashdb is served through the snapshot store, not fetched live.
	registry.Register(syncer)

	return &pipelineEnv{
		Registry: registry,
		Syncer:   syncer,
		Pipeline: pipeline.New(registry, cfg.Resolve.FuzzyThreshold),
		store:    store,
	}, nil
}

// initSnapshotStore opens the configured snapshot backend and ensures its
// schema exists.
func initSnapshotStore(ctx context.Context) (snapshot.Store, error) {
	var store snapshot.Store
	switch cfg.Snapshot.Driver {
	case "sqlite", "":
		s, err := snapshot.NewSQLite(cfg.Snapshot.Path)
		if err != nil {
			return nil, err
		}
		store = s
	case "postgres":
		s, err := snapshot.NewPostgres(ctx, cfg.Snapshot.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, eris.Errorf("unknown snapshot driver %q", cfg.Snapshot.Driver)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// activeSources returns the configured enabled sources, keeping only known
// provider ids.
func activeSources() []string {
	known := map[string]bool{
		normalize.SourceMetaforge: true,
		normalize.SourceArcvault:  true,
		normalize.SourceStashDB:   true,
		normalize.SourceTradepost: true,
	}
	var out []string
	for _, id := range cfg.Sources.Enabled {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

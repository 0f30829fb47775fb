package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
)

// MetaforgeConfig configures the paginated MetaForge API fetcher.
type MetaforgeConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	MaxParallel int    `yaml:"max_parallel" mapstructure:"max_parallel"`
}

// Metaforge fetches the MetaForge item API page by page, with bounded
// parallelism for the pages after the first.
type Metaforge struct {
	cfg  MetaforgeConfig
	http *fetcher.HTTPFetcher
}

type metaforgePage struct {
	Version    string `json:"version"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	Items      []any  `json:"items"`
}

// NewMetaforge creates the MetaForge fetcher.
func NewMetaforge(cfg MetaforgeConfig, http *fetcher.HTTPFetcher) *Metaforge {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Metaforge{cfg: cfg, http: http}
}

func (m *Metaforge) SourceID() string { return normalize.SourceMetaforge }

// Fetch downloads all item pages. The first page reveals the total page
// count; remaining pages are fetched concurrently, capped at MaxParallel,
// and reassembled in page order.
func (m *Metaforge) Fetch(ctx context.Context) (*Payload, error) {
	first, err := m.page(ctx, 1)
	if err != nil {
		return nil, err
	}

	pages := make([][]any, first.TotalPages)
	if first.TotalPages > 0 {
		pages[0] = first.Items
	} else {
		pages = [][]any{first.Items}
	}

	if first.TotalPages > 1 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.MaxParallel)
		for p := 2; p <= first.TotalPages; p++ {
			p := p
			g.Go(func() error {
				page, err := m.page(gctx, p)
				if err != nil {
					return err
				}
				mu.Lock()
				pages[p-1] = page.Items
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var items []any
	for _, p := range pages {
		items = append(items, p...)
	}

	zap.L().Debug("provider: metaforge fetch complete",
		zap.Int("pages", len(pages)),
		zap.Int("items", len(items)),
	)
	return &Payload{
		SourceID:        m.SourceID(),
		FetchedAt:       time.Now().UTC(),
		VersionOrCommit: first.Version,
		ItemsRaw:        items,
	}, nil
}

func (m *Metaforge) page(ctx context.Context, n int) (*metaforgePage, error) {
	url := fmt.Sprintf("%s/items?page=%d&per_page=%d", m.cfg.BaseURL, n, m.cfg.PageSize)
	var page metaforgePage
	if err := m.http.GetJSON(ctx, url, &page); err != nil {
		return nil, eris.Wrapf(err, "provider: metaforge page %d", n)
	}
	return &page, nil
}

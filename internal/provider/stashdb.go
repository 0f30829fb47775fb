package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
)

// StashDBConfig configures the StashDB wiki export fetcher.
type StashDBConfig struct {
	ExportURL string `yaml:"export_url" mapstructure:"export_url"`
}

// StashDB fetches the StashDB wiki export. The endpoint is slow and heavily
// rate limited, which is why its payloads are normally served from the
// snapshot store rather than fetched per request.
type StashDB struct {
	cfg  StashDBConfig
	http *fetcher.HTTPFetcher
}

type stashdbExport struct {
	Revision  string `json:"revision"`
	Generated string `json:"generated"`
	Items     []any  `json:"items"`
}

// NewStashDB creates the live StashDB fetcher.
func NewStashDB(cfg StashDBConfig, http *fetcher.HTTPFetcher) *StashDB {
	return &StashDB{cfg: cfg, http: http}
}

func (s *StashDB) SourceID() string { return normalize.SourceStashDB }

func (s *StashDB) Fetch(ctx context.Context) (*Payload, error) {
	var export stashdbExport
	if err := s.http.GetJSON(ctx, s.cfg.ExportURL, &export); err != nil {
		return nil, eris.Wrap(err, "provider: stashdb export")
	}
	if export.Items == nil {
		return nil, eris.Errorf("provider: stashdb export at %s has no items field", s.cfg.ExportURL)
	}
	return &Payload{
		SourceID:        s.SourceID(),
		FetchedAt:       time.Now().UTC(),
		VersionOrCommit: export.Revision,
		ItemsRaw:        export.Items,
	}, nil
}

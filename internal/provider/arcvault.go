package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/arc-tools/reconcile-cli/internal/fetcher"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
)

// ArcvaultConfig configures the ArcVault dump fetcher.
type ArcvaultConfig struct {
	DumpURL string `yaml:"dump_url" mapstructure:"dump_url"`
}

// Arcvault fetches the ArcVault community data dump, a single JSON document
// regenerated on every upstream commit.
type Arcvault struct {
	cfg  ArcvaultConfig
	http *fetcher.HTTPFetcher
}

type arcvaultDump struct {
	Commit string `json:"commit"`
	Items  []any  `json:"items"`
}

// NewArcvault creates the ArcVault fetcher.
func NewArcvault(cfg ArcvaultConfig, http *fetcher.HTTPFetcher) *Arcvault {
	return &Arcvault{cfg: cfg, http: http}
}

func (a *Arcvault) SourceID() string { return normalize.SourceArcvault }

func (a *Arcvault) Fetch(ctx context.Context) (*Payload, error) {
	var dump arcvaultDump
	if err := a.http.GetJSON(ctx, a.cfg.DumpURL, &dump); err != nil {
		return nil, eris.Wrap(err, "provider: arcvault dump")
	}
	if dump.Items == nil {
		return nil, eris.Errorf("provider: arcvault dump at %s has no items field", a.cfg.DumpURL)
	}
	return &Payload{
		SourceID:        a.SourceID(),
		FetchedAt:       time.Now().UTC(),
		VersionOrCommit: dump.Commit,
		ItemsRaw:        dump.Items,
	}, nil
}

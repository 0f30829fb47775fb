// Package pipeline orchestrates the reconciliation run: concurrent provider
// fetches with isolated failure domains, then normalization, entity
// resolution, and diff computation over whatever succeeded.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arc-tools/reconcile-cli/internal/model"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
	"github.com/arc-tools/reconcile-cli/internal/provider"
	"github.com/arc-tools/reconcile-cli/internal/resolve"
)

// unavailableVersion marks a provider whose fetch failed this run.
const unavailableVersion = "unavailable"

// Pipeline builds diff data from the registered provider fetchers.
type Pipeline struct {
	registry       *provider.Registry
	fuzzyThreshold float64
	now            func() time.Time // injectable for testing
}

// New creates a Pipeline over the given fetcher registry.
func New(registry *provider.Registry, fuzzyThreshold float64) *Pipeline {
	return &Pipeline{
		registry:       registry,
		fuzzyThreshold: fuzzyThreshold,
		now:            time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (p *Pipeline) WithNow(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// BuildDiffData fetches every requested provider concurrently, tolerating
// per-provider failure, and reconciles the successful payloads. Failed
// providers appear only in the source summaries; enabledSources holds the
// subset that actually succeeded, in the requested order.
func (p *Pipeline) BuildDiffData(ctx context.Context, activeSources []string) (*model.DiffDataResponse, error) {
	type fetchOutcome struct {
		payload *provider.Payload
		err     error
	}
	outcomes := make([]fetchOutcome, len(activeSources))

	g, gctx := errgroup.WithContext(ctx)
	for i, sourceID := range activeSources {
		i, sourceID := i, sourceID
		g.Go(func() error {
			fetcher := p.registry.Get(sourceID)
			if fetcher == nil {
				outcomes[i].err = eris.Errorf("pipeline: no fetcher configured for source %s", sourceID)
				return nil
			}
			start := time.Now()
			payload, err := fetcher.Fetch(gctx)
			if err != nil {
				zap.L().Warn("pipeline: provider fetch failed",
					zap.String("source", sourceID),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				outcomes[i].err = err
				return nil
			}
			zap.L().Info("pipeline: provider fetch complete",
				zap.String("source", sourceID),
				zap.Int("items", len(payload.ItemsRaw)),
				zap.Duration("elapsed", time.Since(start)),
			)
			outcomes[i].payload = payload
			return nil
		})
	}
	// Goroutines always return nil: one provider's failure never cancels the
	// others. Wait just settles them all.
	_ = g.Wait()

	enabled := make([]string, 0, len(activeSources))
	summaries := make([]model.SourceSummary, 0, len(activeSources))
	bySource := make(map[string][]model.SourceItem, len(activeSources))

	for i, sourceID := range activeSources {
		outcome := outcomes[i]
		if outcome.err != nil {
			summaries = append(summaries, model.SourceSummary{
				SourceID:        sourceID,
				FetchedAt:       p.now().UTC().Format(time.RFC3339),
				VersionOrCommit: unavailableVersion,
				Error:           outcome.err.Error(),
			})
			continue
		}
		normalized := normalize.Items(sourceID, outcome.payload.ItemsRaw)
		bySource[sourceID] = normalized
		enabled = append(enabled, sourceID)
		summaries = append(summaries, model.SourceSummary{
			SourceID:        sourceID,
			FetchedAt:       outcome.payload.FetchedAt.UTC().Format(time.RFC3339),
			VersionOrCommit: outcome.payload.VersionOrCommit,
			ItemCount:       len(normalized),
		})
	}

	canonical := resolve.Resolve(bySource, enabled, p.fuzzyThreshold)

	return &model.DiffDataResponse{
		GeneratedAt:     p.now().UTC().Format(time.RFC3339),
		EnabledSources:  enabled,
		SourceSummaries: summaries,
		CanonicalItems:  canonical,
	}, nil
}

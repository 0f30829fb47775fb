package snapshot

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arc-tools/reconcile-cli/internal/model"
	"github.com/arc-tools/reconcile-cli/internal/normalize"
	"github.com/arc-tools/reconcile-cli/internal/provider"
	"github.com/arc-tools/reconcile-cli/internal/resolve"
)

// linkFields maps raw payload keys to persisted relation kinds, in a fixed
// extraction order.
var linkFields = []struct {
	field    string
	relation string
}{
	{"components", RelComponents},
	{"recycle_components", RelRecycleComponents},
	{"recycle_from", RelRecycleFrom},
	{"used_in", RelUsedIn},
	{"sold_by", RelSoldBy},
}

// Syncer serves the designated slow provider from the snapshot store,
// resyncing from the live fetcher when the persisted data goes stale.
// It implements provider.Fetcher, so the pipeline treats it as a regular
// provider. Concurrent resync attempts are serialized by a per-syncer lock.
type Syncer struct {
	store    Store
	live     provider.Fetcher
	interval time.Duration

	mu  sync.Mutex
	now func() time.Time // injectable for testing
}

// NewSyncer creates a Syncer over the given store and live fetcher.
func NewSyncer(store Store, live provider.Fetcher, interval time.Duration) *Syncer {
	return &Syncer{
		store:    store,
		live:     live,
		interval: interval,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *Syncer) WithNow(now func() time.Time) *Syncer {
	s.now = now
	return s
}

func (s *Syncer) SourceID() string {
	return s.live.SourceID()
}

// EnsureFresh resyncs from the live provider when no sync state exists, the
// snapshot has aged past the sync interval, or force is set. On resync
// failure the prior persisted data remains authoritative and the error is
// returned.
func (s *Syncer) EnsureFresh(ctx context.Context, force bool) (*SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.State(ctx)
	if err != nil {
		return nil, err
	}
	if !force && state != nil && s.now().Sub(state.LastSyncedAt) < s.interval {
		return state, nil
	}

	zap.L().Info("snapshot: resyncing from live provider",
		zap.String("source", s.live.SourceID()),
		zap.Bool("forced", force),
	)

	payload, err := s.live.Fetch(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: live fetch")
	}

	items, links := rowsFromPayload(payload, s.now().UTC())
	newState := SyncState{
		LastSyncedAt: payload.FetchedAt,
		Version:      payload.VersionOrCommit,
		ItemCount:    len(items),
	}
	if err := s.store.ReplaceAll(ctx, items, links, newState); err != nil {
		return nil, err
	}

	zap.L().Info("snapshot: resync complete",
		zap.String("source", s.live.SourceID()),
		zap.Int("items", len(items)),
		zap.Int("links", len(links)),
		zap.String("version", newState.Version),
	)
	return &newState, nil
}

// Fetch satisfies provider.Fetcher: it guarantees freshness, then serves the
// raw payload back out of the store, ordered by item name. Rows whose
// persisted JSON no longer parses are skipped individually.
func (s *Syncer) Fetch(ctx context.Context) (*provider.Payload, error) {
	state, err := s.EnsureFresh(ctx, false)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Items(ctx)
	if err != nil {
		return nil, err
	}

	itemsRaw := make([]any, 0, len(rows))
	for _, row := range rows {
		var raw map[string]any
		if err := json.Unmarshal(row.Raw, &raw); err != nil {
			zap.L().Warn("snapshot: skipping corrupt persisted row",
				zap.String("item_id", row.ID),
				zap.Error(err),
			)
			continue
		}
		itemsRaw = append(itemsRaw, raw)
	}

	return &provider.Payload{
		SourceID:        s.live.SourceID(),
		FetchedAt:       state.LastSyncedAt,
		VersionOrCommit: state.Version,
		ItemsRaw:        itemsRaw,
	}, nil
}

// BuildFromStore resolves the snapshot provider's items as a single-provider
// canonical set, with a SourceSummary reflecting the persisted sync state.
func (s *Syncer) BuildFromStore(ctx context.Context, fuzzyThreshold float64) ([]model.CanonicalItem, model.SourceSummary, error) {
	payload, err := s.Fetch(ctx)
	if err != nil {
		return nil, model.SourceSummary{}, err
	}

	sourceID := payload.SourceID
	normalized := normalize.Items(sourceID, payload.ItemsRaw)
	canonical := resolve.Resolve(
		map[string][]model.SourceItem{sourceID: normalized},
		[]string{sourceID},
		fuzzyThreshold,
	)

	summary := model.SourceSummary{
		SourceID:        sourceID,
		FetchedAt:       payload.FetchedAt.UTC().Format(time.RFC3339),
		VersionOrCommit: payload.VersionOrCommit,
		ItemCount:       len(normalized),
	}
	return canonical, summary, nil
}

// rowsFromPayload flattens a live payload into persistable item rows plus the
// denormalized relation rows extracted from each record. Records sharing an
// id collapse to the last occurrence, keeping the rows insertable under the
// store's primary key.
func rowsFromPayload(payload *provider.Payload, cachedAt time.Time) ([]ItemRow, []LinkRow) {
	var order []string
	rows := make(map[string]ItemRow)
	linksByID := make(map[string][]LinkRow)

	for i, raw := range payload.ItemsRaw {
		rec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rawJSON, err := json.Marshal(rec)
		if err != nil {
			continue
		}

		id := stringField(rec, "id")
		if id == "" {
			id = payload.SourceID + "-row-" + strconv.Itoa(i)
		}

		if _, seen := rows[id]; !seen {
			order = append(order, id)
		}
		rows[id] = ItemRow{
			ID:        id,
			Name:      stringField(rec, "name"),
			Type:      stringField(rec, "type"),
			Rarity:    stringField(rec, "rarity"),
			Value:     floatField(rec, "value"),
			Weight:    floatField(rec, "weight"),
			Icon:      stringField(rec, "icon"),
			UpdatedAt: stringField(rec, "updated_at"),
			CachedAt:  cachedAt,
			Raw:       rawJSON,
		}
		linksByID[id] = linksFromRecord(id, rec)
	}

	items := make([]ItemRow, 0, len(order))
	var links []LinkRow
	for _, id := range order {
		items = append(items, rows[id])
		links = append(links, linksByID[id]...)
	}
	return items, links
}

// linksFromRecord extracts the typed relation rows for one raw record. Each
// link keeps its original raw fragment for audit.
func linksFromRecord(itemID string, rec map[string]any) []LinkRow {
	var links []LinkRow
	for _, lf := range linkFields {
		entries, ok := rec[lf.field].([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			link := LinkRow{ItemID: itemID, Relation: lf.relation}
			if fragment, err := json.Marshal(entry); err == nil {
				link.RawFragment = fragment
			}
			switch e := entry.(type) {
			case map[string]any:
				link.RelatedItemID = stringField(e, "id")
				if link.RelatedItemID == "" {
					link.RelatedItemID = stringField(e, "item_id")
				}
				link.RelatedName = stringField(e, "name")
				link.Quantity = floatField(e, "quantity")
				if link.Quantity == nil {
					link.Quantity = floatField(e, "amount")
				}
			case string:
				link.RelatedName = e
			}
			links = append(links, link)
		}
	}
	return links
}

func stringField(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func floatField(rec map[string]any, key string) *float64 {
	switch n := rec[key].(type) {
	case float64:
		return &n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return &f
		}
	}
	return nil
}

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-tools/reconcile-cli/internal/provider"
)

// stubFetcher is a scripted live provider for syncer tests.
type stubFetcher struct {
	sourceID string
	payload  *provider.Payload
	err      error
	calls    int
}

func (f *stubFetcher) SourceID() string { return f.sourceID }

func (f *stubFetcher) Fetch(ctx context.Context) (*provider.Payload, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func stashdbPayload(fetchedAt time.Time) *provider.Payload {
	return &provider.Payload{
		SourceID:        "stashdb",
		FetchedAt:       fetchedAt,
		VersionOrCommit: "rev-42",
		ItemsRaw: []any{
			map[string]any{
				"id":     "battery_01",
				"name":   "Quick Battery",
				"type":   "tool",
				"rarity": "rare",
				"value":  120.0,
				"components": []any{
					map[string]any{"id": "scrap", "name": "Scrap Metal", "quantity": 3.0},
				},
				"sold_by": []any{"Trader Joe"},
			},
			map[string]any{
				"id":   "axe_02",
				"name": "Arc Axe",
			},
		},
	}
}

func newTestSyncer(t *testing.T, live *stubFetcher, now time.Time) (*Syncer, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	syncer := NewSyncer(store, live, 6*time.Hour).WithNow(func() time.Time { return now })
	return syncer, store
}

func TestSyncer_InitialSyncPersistsRowsAndLinks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, store := newTestSyncer(t, live, now)
	ctx := context.Background()

	state, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "rev-42", state.Version)
	assert.Equal(t, 2, state.ItemCount)
	assert.Equal(t, 1, live.calls)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Arc Axe", items[0].Name)

	links, err := store.Links(ctx, "battery_01")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, RelComponents, links[0].Relation)
	assert.Equal(t, "scrap", links[0].RelatedItemID)
	require.NotNil(t, links[0].Quantity)
	assert.Equal(t, 3.0, *links[0].Quantity)
	assert.Equal(t, RelSoldBy, links[1].Relation)
	assert.Equal(t, "Trader Joe", links[1].RelatedName)
}

func TestSyncer_FreshSnapshotSkipsLiveFetch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, _ := newTestSyncer(t, live, now)
	ctx := context.Background()

	_, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	_, err = syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, live.calls)
}

func TestSyncer_StaleSnapshotResyncs(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := start
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(start)}
	store := newTestStore(t)
	syncer := NewSyncer(store, live, 6*time.Hour).WithNow(func() time.Time { return current })
	ctx := context.Background()

	_, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)

	current = start.Add(7 * time.Hour)
	live.payload = stashdbPayload(current)
	live.payload.VersionOrCommit = "rev-43"

	state, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "rev-43", state.Version)
	assert.Equal(t, 2, live.calls)
}

func TestSyncer_ForceResyncsFreshSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, _ := newTestSyncer(t, live, now)
	ctx := context.Background()

	_, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	_, err = syncer.EnsureFresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, live.calls)
}

func TestSyncer_FailedResyncKeepsPriorData(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := start
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(start)}
	store := newTestStore(t)
	syncer := NewSyncer(store, live, 6*time.Hour).WithNow(func() time.Time { return current })
	ctx := context.Background()

	_, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)

	current = start.Add(7 * time.Hour)
	live.err = eris.New("wiki export timed out")

	_, err = syncer.EnsureFresh(ctx, false)
	require.Error(t, err)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	state, err := store.State(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "rev-42", state.Version)
}

func TestSyncer_ResyncDeduplicatesPayloadIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := stashdbPayload(now)
	payload.ItemsRaw = append(payload.ItemsRaw, map[string]any{
		"id":      "battery_01",
		"name":    "Quick Battery Mk2",
		"sold_by": []any{"Trader Ann"},
	})
	live := &stubFetcher{sourceID: "stashdb", payload: payload}
	syncer, store := newTestSyncer(t, live, now)
	ctx := context.Background()

	state, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, state.ItemCount)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The last occurrence of a duplicated id wins, its links included.
	var battery ItemRow
	for _, it := range items {
		if it.ID == "battery_01" {
			battery = it
		}
	}
	assert.Equal(t, "Quick Battery Mk2", battery.Name)

	links, err := store.Links(ctx, "battery_01")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, RelSoldBy, links[0].Relation)
	assert.Equal(t, "Trader Ann", links[0].RelatedName)
}

func TestSyncer_FetchServesFromStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, _ := newTestSyncer(t, live, now)

	payload, err := syncer.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stashdb", payload.SourceID)
	assert.Equal(t, "rev-42", payload.VersionOrCommit)
	require.Len(t, payload.ItemsRaw, 2)

	// Store ordering, not payload ordering.
	first, ok := payload.ItemsRaw[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Arc Axe", first["name"])
}

func TestSyncer_FetchSkipsCorruptRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, store := newTestSyncer(t, live, now)
	ctx := context.Background()

	_, err := syncer.EnsureFresh(ctx, false)
	require.NoError(t, err)

	// Corrupt one persisted row behind the syncer's back.
	_, err = store.db.ExecContext(ctx, `UPDATE items SET raw = 'not json' WHERE id = 'axe_02'`)
	require.NoError(t, err)

	payload, err := syncer.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, payload.ItemsRaw, 1)
	rec, ok := payload.ItemsRaw[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "battery_01", rec["id"])
}

func TestSyncer_BuildFromStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &stubFetcher{sourceID: "stashdb", payload: stashdbPayload(now)}
	syncer, _ := newTestSyncer(t, live, now)

	items, summary, err := syncer.BuildFromStore(context.Background(), 0.82)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "stashdb", summary.SourceID)
	assert.Equal(t, "rev-42", summary.VersionOrCommit)
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, now.Format(time.RFC3339), summary.FetchedAt)

	for _, item := range items {
		assert.Contains(t, item.BySource, "stashdb")
		require.NotNil(t, item.DiffReport)
		assert.Equal(t, 0, item.DiffReport.Severity)
	}
}

func TestRowsFromPayload_MissingIDGetsSyntheticRowID(t *testing.T) {
	payload := &provider.Payload{
		SourceID: "stashdb",
		ItemsRaw: []any{
			map[string]any{"name": "Nameless Widget"},
			"not a record",
		},
	}

	items, links := rowsFromPayload(payload, time.Now().UTC())
	require.Len(t, items, 1)
	assert.Equal(t, "stashdb-row-0", items[0].ID)
	assert.Empty(t, links)
}

// Package snapshot persists the most recent raw payload for the designated
// slow provider, decoupling canonical-item queries from that provider's live
// latency. Only raw rows and sync metadata are persisted; resolution state
// never is.
package snapshot

import (
	"context"
	"time"
)

// Relation kinds extracted from raw payloads into the item_links table.
const (
	RelComponents        = "components"
	RelRecycleComponents = "recycle-components"
	RelRecycleFrom       = "recycle-from"
	RelUsedIn            = "used-in"
	RelSoldBy            = "sold-by"
)

// ItemRow is one persisted item: denormalized display fields plus the full
// raw payload for later normalization.
type ItemRow struct {
	ID        string
	Name      string
	Type      string
	Rarity    string
	Value     *float64
	Weight    *float64
	Icon      string
	UpdatedAt string
	CachedAt  time.Time
	Raw       []byte
}

// LinkRow is one typed relation extracted from an item's raw payload.
type LinkRow struct {
	ItemID        string
	Relation      string
	RelatedItemID string
	RelatedName   string
	Quantity      *float64
	RawFragment   []byte
}

// SyncState is the singleton row describing the last successful resync.
type SyncState struct {
	LastSyncedAt time.Time
	Version      string
	ItemCount    int
}

// Store is the persistence contract for the snapshot tables. ReplaceAll must
// be transactional: on any failure the prior item set stays intact.
type Store interface {
	// Init creates the schema if absent.
	Init(ctx context.Context) error

	// ReplaceAll atomically swaps the full item and link set and records the
	// new sync state (delete-all-then-reinsert inside one transaction).
	ReplaceAll(ctx context.Context, items []ItemRow, links []LinkRow, state SyncState) error

	// Items returns all persisted items ordered by name, case-insensitive.
	Items(ctx context.Context) ([]ItemRow, error)

	// Links returns the typed relations for one item.
	Links(ctx context.Context, itemID string) ([]LinkRow, error)

	// State returns the sync state, or nil if no sync has ever completed.
	State(ctx context.Context) (*SyncState, error)

	Close() error
}

package snapshot

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "snapshot: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	name       TEXT,
	type       TEXT,
	rarity     TEXT,
	value      REAL,
	weight     REAL,
	icon       TEXT,
	updated_at TEXT,
	cached_at  DATETIME NOT NULL,
	raw        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_links (
	item_id         TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	relation        TEXT NOT NULL,
	related_item_id TEXT,
	related_name    TEXT,
	quantity        REAL,
	raw_fragment    TEXT
);

CREATE TABLE IF NOT EXISTS sync_state (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	last_synced_at DATETIME NOT NULL,
	version        TEXT,
	item_count     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_name ON items(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_item_links_item_id ON item_links(item_id);
CREATE INDEX IF NOT EXISTS idx_item_links_relation ON item_links(relation);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "snapshot: init schema")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, items []ItemRow, links []LinkRow, state SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "snapshot: begin tx")
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM item_links`, `DELETE FROM items`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "snapshot: %s", stmt)
		}
	}

	insertItem, err := tx.PrepareContext(ctx,
		`INSERT INTO items (id, name, type, rarity, value, weight, icon, updated_at, cached_at, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "snapshot: prepare insert item")
	}
	defer insertItem.Close()

	for _, it := range items {
		if _, err := insertItem.ExecContext(ctx,
			it.ID, it.Name, it.Type, it.Rarity, nullFloat(it.Value), nullFloat(it.Weight),
			it.Icon, it.UpdatedAt, it.CachedAt.UTC(), string(it.Raw),
		); err != nil {
			return eris.Wrapf(err, "snapshot: insert item %s", it.ID)
		}
	}

	insertLink, err := tx.PrepareContext(ctx,
		`INSERT INTO item_links (item_id, relation, related_item_id, related_name, quantity, raw_fragment)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "snapshot: prepare insert link")
	}
	defer insertLink.Close()

	for _, l := range links {
		if _, err := insertLink.ExecContext(ctx,
			l.ItemID, l.Relation, nullString(l.RelatedItemID), nullString(l.RelatedName),
			nullFloat(l.Quantity), string(l.RawFragment),
		); err != nil {
			return eris.Wrapf(err, "snapshot: insert link for %s", l.ItemID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_state (id, last_synced_at, version, item_count) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_synced_at = excluded.last_synced_at,
		                               version = excluded.version,
		                               item_count = excluded.item_count`,
		state.LastSyncedAt.UTC(), state.Version, state.ItemCount,
	); err != nil {
		return eris.Wrap(err, "snapshot: upsert sync state")
	}

	return eris.Wrap(tx.Commit(), "snapshot: commit replace")
}

func (s *SQLiteStore) Items(ctx context.Context) ([]ItemRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, rarity, value, weight, icon, updated_at, cached_at, raw
		 FROM items ORDER BY name COLLATE NOCASE ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query items")
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		var it ItemRow
		var value, weight sql.NullFloat64
		var name, typ, rarity, icon, updatedAt, raw sql.NullString
		var cachedAt time.Time
		if err := rows.Scan(&it.ID, &name, &typ, &rarity, &value, &weight, &icon, &updatedAt, &cachedAt, &raw); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan item")
		}
		it.Name = name.String
		it.Type = typ.String
		it.Rarity = rarity.String
		it.Icon = icon.String
		it.UpdatedAt = updatedAt.String
		it.CachedAt = cachedAt
		it.Raw = []byte(raw.String)
		if value.Valid {
			it.Value = &value.Float64
		}
		if weight.Valid {
			it.Weight = &weight.Float64
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "snapshot: iterate items")
}

func (s *SQLiteStore) Links(ctx context.Context, itemID string) ([]LinkRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, relation, related_item_id, related_name, quantity, raw_fragment
		 FROM item_links WHERE item_id = ? ORDER BY relation, related_item_id`, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: query links for %s", itemID)
	}
	defer rows.Close()

	var links []LinkRow
	for rows.Next() {
		var l LinkRow
		var relatedID, relatedName, fragment sql.NullString
		var quantity sql.NullFloat64
		if err := rows.Scan(&l.ItemID, &l.Relation, &relatedID, &relatedName, &quantity, &fragment); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan link")
		}
		l.RelatedItemID = relatedID.String
		l.RelatedName = relatedName.String
		l.RawFragment = []byte(fragment.String)
		if quantity.Valid {
			l.Quantity = &quantity.Float64
		}
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "snapshot: iterate links")
}

func (s *SQLiteStore) State(ctx context.Context) (*SyncState, error) {
	var st SyncState
	var version sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_synced_at, version, item_count FROM sync_state WHERE id = 1`,
	).Scan(&st.LastSyncedAt, &version, &st.ItemCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query sync state")
	}
	st.Version = version.String
	return &st, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

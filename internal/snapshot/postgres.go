package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the Postgres store needs; pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments that keep
// snapshots in a shared database instead of a local file.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "snapshot: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	name       TEXT,
	type       TEXT,
	rarity     TEXT,
	value      DOUBLE PRECISION,
	weight     DOUBLE PRECISION,
	icon       TEXT,
	updated_at TEXT,
	cached_at  TIMESTAMPTZ NOT NULL,
	raw        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS item_links (
	item_id         TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	relation        TEXT NOT NULL,
	related_item_id TEXT,
	related_name    TEXT,
	quantity        DOUBLE PRECISION,
	raw_fragment    JSONB
);

CREATE TABLE IF NOT EXISTS sync_state (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	last_synced_at TIMESTAMPTZ NOT NULL,
	version        TEXT,
	item_count     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_lower_name ON items(lower(name));
CREATE INDEX IF NOT EXISTS idx_item_links_item_id ON item_links(item_id);
CREATE INDEX IF NOT EXISTS idx_item_links_relation ON item_links(relation);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return eris.Wrap(err, "snapshot: init schema")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, items []ItemRow, links []LinkRow, state SyncState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "snapshot: begin tx")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{`DELETE FROM item_links`, `DELETE FROM items`} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return eris.Wrapf(err, "snapshot: %s", stmt)
		}
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO items (id, name, type, rarity, value, weight, icon, updated_at, cached_at, raw)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, it.Name, it.Type, it.Rarity, it.Value, it.Weight,
			it.Icon, it.UpdatedAt, it.CachedAt.UTC(), string(it.Raw),
		); err != nil {
			return eris.Wrapf(err, "snapshot: insert item %s", it.ID)
		}
	}

	for _, l := range links {
		if _, err := tx.Exec(ctx,
			`INSERT INTO item_links (item_id, relation, related_item_id, related_name, quantity, raw_fragment)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ItemID, l.Relation, nullString(l.RelatedItemID), nullString(l.RelatedName),
			l.Quantity, string(l.RawFragment),
		); err != nil {
			return eris.Wrapf(err, "snapshot: insert link for %s", l.ItemID)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO sync_state (id, last_synced_at, version, item_count) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET last_synced_at = EXCLUDED.last_synced_at,
		                                version = EXCLUDED.version,
		                                item_count = EXCLUDED.item_count`,
		state.LastSyncedAt.UTC(), state.Version, state.ItemCount,
	); err != nil {
		return eris.Wrap(err, "snapshot: upsert sync state")
	}

	return eris.Wrap(tx.Commit(ctx), "snapshot: commit replace")
}

func (s *PostgresStore) Items(ctx context.Context) ([]ItemRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, type, rarity, value, weight, icon, updated_at, cached_at, raw
		 FROM items ORDER BY lower(name) ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query items")
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		var it ItemRow
		var name, typ, rarity, icon, updatedAt, raw *string
		var cachedAt time.Time
		if err := rows.Scan(&it.ID, &name, &typ, &rarity, &it.Value, &it.Weight, &icon, &updatedAt, &cachedAt, &raw); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan item")
		}
		it.Name = deref(name)
		it.Type = deref(typ)
		it.Rarity = deref(rarity)
		it.Icon = deref(icon)
		it.UpdatedAt = deref(updatedAt)
		it.CachedAt = cachedAt
		it.Raw = []byte(deref(raw))
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "snapshot: iterate items")
}

func (s *PostgresStore) Links(ctx context.Context, itemID string) ([]LinkRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, relation, related_item_id, related_name, quantity, raw_fragment
		 FROM item_links WHERE item_id = $1 ORDER BY relation, related_item_id`, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: query links for %s", itemID)
	}
	defer rows.Close()

	var links []LinkRow
	for rows.Next() {
		var l LinkRow
		var relatedID, relatedName, fragment *string
		if err := rows.Scan(&l.ItemID, &l.Relation, &relatedID, &relatedName, &l.Quantity, &fragment); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan link")
		}
		l.RelatedItemID = deref(relatedID)
		l.RelatedName = deref(relatedName)
		l.RawFragment = []byte(deref(fragment))
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "snapshot: iterate links")
}

func (s *PostgresStore) State(ctx context.Context) (*SyncState, error) {
	var st SyncState
	var version *string
	err := s.pool.QueryRow(ctx,
		`SELECT last_synced_at, version, item_count FROM sync_state WHERE id = 1`,
	).Scan(&st.LastSyncedAt, &version, &st.ItemCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query sync state")
	}
	st.Version = deref(version)
	return &st, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

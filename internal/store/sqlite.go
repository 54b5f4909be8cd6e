package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// Fixed-width UTC layout so ORDER BY queued_at sorts lexicographically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteQueue is the device-local durable queue.
type SQLiteQueue struct {
	db *sqlx.DB
}

// migration holds a single schema migration with its target version and SQL.
type sqliteMigration struct {
	version int
	sql     string
}

var sqliteMigrations = []sqliteMigration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outbound_notifications (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	queued_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outbound_queued_at ON outbound_notifications(queued_at);
`,
	},
}

// NewSQLiteQueue opens (or creates) the queue database at dbPath, enables WAL
// mode, and applies any pending schema migrations.
func NewSQLiteQueue(dbPath string) (*SQLiteQueue, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// WAL for better concurrent read behavior while a sync is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	q := &SQLiteQueue{db: db}
	if err := q.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := q.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := q.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := q.db.Beginx()
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

type outboundRow struct {
	ID       string `db:"id"`
	Type     string `db:"type"`
	Payload  string `db:"payload"`
	QueuedAt string `db:"queued_at"`
}

// The full Outbound (including any acknowledgement detail) is stored as the
// JSON payload; id/type/queued_at are lifted into columns for queries.
func toRow(n notification.Outbound) (outboundRow, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return outboundRow{}, fmt.Errorf("encoding outbound %s: %w", n.ID, err)
	}
	return outboundRow{
		ID:       n.ID,
		Type:     n.Type,
		Payload:  string(payload),
		QueuedAt: n.QueuedAt.UTC().Format(sqliteTimeLayout),
	}, nil
}

func fromRow(r outboundRow) (notification.Outbound, error) {
	var n notification.Outbound
	if err := json.Unmarshal([]byte(r.Payload), &n); err != nil {
		return notification.Outbound{}, fmt.Errorf("decoding outbound %s: %w", r.ID, err)
	}
	return n, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, n notification.Outbound) error {
	return q.EnqueueBatch(ctx, []notification.Outbound{n})
}

func (q *SQLiteQueue) EnqueueBatch(ctx context.Context, ns []notification.Outbound) error {
	if len(ns) == 0 {
		return nil
	}
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting enqueue tx: %w", err)
	}
	for _, n := range ns {
		row, err := toRow(n)
		if err != nil {
			tx.Rollback()
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO outbound_notifications (id, type, payload, queued_at) VALUES (?, ?, ?, ?)",
			row.ID, row.Type, row.Payload, row.QueuedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("enqueueing %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

func (q *SQLiteQueue) RemoveByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM outbound_notifications WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("building removal query: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("removing %d notifications: %w", len(ids), err)
	}
	return nil
}

func (q *SQLiteQueue) ListAll(ctx context.Context) ([]notification.Outbound, error) {
	var rows []outboundRow
	err := q.db.SelectContext(ctx, &rows,
		"SELECT id, type, payload, queued_at FROM outbound_notifications ORDER BY queued_at, id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing outbound notifications: %w", err)
	}
	out := make([]notification.Outbound, 0, len(rows))
	for _, r := range rows {
		n, err := fromRow(r)
		if err != nil {
			// A row we cannot decode would wedge the queue forever; report it.
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (q *SQLiteQueue) HasPending(ctx context.Context) (bool, error) {
	var count int
	if err := q.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM outbound_notifications"); err != nil {
		return false, fmt.Errorf("counting outbound notifications: %w", err)
	}
	return count > 0, nil
}

var _ Queue = (*SQLiteQueue)(nil)

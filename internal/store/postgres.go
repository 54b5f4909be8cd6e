package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

//go:embed migrations/*.sql
var pgMigrations embed.FS

// PostgresQueue is the outbound queue for server-side embedders that run the
// SDK against a shared database instead of device-local storage.
type PostgresQueue struct {
	db *sqlx.DB
}

// NewPostgresQueue connects to PostgreSQL with the provided DSN and applies
// any pending migrations.
func NewPostgresQueue(dsn string) (*PostgresQueue, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runPostgresMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresQueue{db: db}, nil
}

func runPostgresMigrations(db *sql.DB) error {
	source, err := iofs.New(pgMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *PostgresQueue) Close() error {
	return q.db.Close()
}

func (q *PostgresQueue) Enqueue(ctx context.Context, n notification.Outbound) error {
	return q.EnqueueBatch(ctx, []notification.Outbound{n})
}

func (q *PostgresQueue) EnqueueBatch(ctx context.Context, ns []notification.Outbound) error {
	if len(ns) == 0 {
		return nil
	}
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting enqueue tx: %w", err)
	}
	for _, n := range ns {
		payload, err := json.Marshal(n)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding outbound %s: %w", n.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO outbound_notifications (id, type, payload, queued_at) VALUES ($1, $2, $3, $4)",
			n.ID, n.Type, payload, n.QueuedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("enqueueing %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

func (q *PostgresQueue) RemoveByIDs(ctx context.Context, ids []string) error {
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

func (q *PostgresQueue) ListAll(ctx context.Context) ([]notification.Outbound, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT payload FROM outbound_notifications ORDER BY queued_at, id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing outbound notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Outbound
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var n notification.Outbound
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, fmt.Errorf("decoding outbound notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) HasPending(ctx context.Context) (bool, error) {
	var count int
	if err := q.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM outbound_notifications"); err != nil {
		return false, fmt.Errorf("counting outbound notifications: %w", err)
	}
	return count > 0, nil
}

var _ Queue = (*PostgresQueue)(nil)

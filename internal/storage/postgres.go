package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection settings for the postgres Store. URL,
// when set, replaces the individual connection fields.
type PostgresConfig struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Postgres is the Store for multi-instance deployments.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects and runs migrations.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tables (
			id         TEXT PRIMARY KEY,
			game_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			revision   INTEGER NOT NULL,
			document   BYTEA NOT NULL,
			state      BYTEA,
			deadline   TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tables_status ON tables(status);
		CREATE INDEX IF NOT EXISTS tables_deadline ON tables(deadline);
		CREATE TABLE IF NOT EXISTS ratings (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			game_id    TEXT NOT NULL,
			table_id   TEXT NOT NULL,
			rating     INTEGER NOT NULL,
			delta      INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ratings_user_game ON ratings(user_id, game_id);
	`)
	return err
}

func (p *Postgres) CreateTable(ctx context.Context, row TableRow) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO tables (id, game_id, status, revision, document, state, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.GameID, row.Status, row.Revision, row.Document, row.State, row.Deadline, row.CreatedAt, row.UpdatedAt,
	)
	return err
}

const pgColumns = "id, game_id, status, revision, document, state, deadline, created_at, updated_at"

func scanPgTable(row pgx.Row) (*TableRow, error) {
	var t TableRow
	err := row.Scan(&t.ID, &t.GameID, &t.Status, &t.Revision, &t.Document, &t.State, &t.Deadline, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) GetTable(ctx context.Context, id string) (*TableRow, error) {
	t, err := scanPgTable(p.db.QueryRow(ctx, "SELECT "+pgColumns+" FROM tables WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (p *Postgres) UpdateTable(ctx context.Context, row TableRow) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE tables SET status = $1, revision = $2, document = $3, state = $4, deadline = $5, updated_at = $6
		WHERE id = $7 AND revision = $8`,
		row.Status, row.Revision, row.Document, row.State, row.Deadline, row.UpdatedAt, row.ID, row.Revision-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists int
	err = p.db.QueryRow(ctx, "SELECT 1 FROM tables WHERE id = $1", row.ID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("table %s: %w", row.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("table %s revision %d: %w", row.ID, row.Revision-1, ErrConcurrentModification)
}

func (p *Postgres) ListTables(ctx context.Context, status string) ([]TableRow, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = p.db.Query(ctx, "SELECT "+pgColumns+" FROM tables ORDER BY created_at DESC")
	} else {
		rows, err = p.db.Query(ctx, "SELECT "+pgColumns+" FROM tables WHERE status = $1 ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TableRow
	for rows.Next() {
		t, err := scanPgTable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (p *Postgres) ExpiredTurns(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.Query(ctx, "SELECT id FROM tables WHERE deadline IS NOT NULL AND deadline < $1 ORDER BY deadline", now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *Postgres) DeleteTable(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx, "DELETE FROM tables WHERE id = $1", id)
	return err
}

func (p *Postgres) DeleteStale(ctx context.Context, before time.Time, statuses ...string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	tag, err := p.db.Exec(ctx, "DELETE FROM tables WHERE updated_at < $1 AND status = ANY($2)", before, statuses)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) AddRatings(ctx context.Context, rows []RatingRow) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		for _, r := range rows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO ratings (user_id, game_id, table_id, rating, delta, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				r.UserID, r.GameID, r.TableID, r.Rating, r.Delta, r.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) CurrentRating(ctx context.Context, userID, gameID string) (*RatingRow, error) {
	var r RatingRow
	err := p.db.QueryRow(ctx, `
		SELECT user_id, game_id, table_id, rating, delta, created_at FROM ratings
		WHERE user_id = $1 AND game_id = $2 ORDER BY id DESC LIMIT 1`, userID, gameID,
	).Scan(&r.UserID, &r.GameID, &r.TableID, &r.Rating, &r.Delta, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rating of %s in %s: %w", userID, gameID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

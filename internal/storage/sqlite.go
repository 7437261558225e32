package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded Store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tables (
			id         TEXT PRIMARY KEY,
			game_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			revision   INTEGER NOT NULL,
			document   BLOB NOT NULL,
			state      BLOB,
			deadline   INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS tables_status ON tables(status);
		CREATE INDEX IF NOT EXISTS tables_deadline ON tables(deadline);
		CREATE TABLE IF NOT EXISTS ratings (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			game_id    TEXT NOT NULL,
			table_id   TEXT NOT NULL,
			rating     INTEGER NOT NULL,
			delta      INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ratings_user_game ON ratings(user_id, game_id);
	`)
	return err
}

// CreateTable inserts a new table.
func (s *SQLite) CreateTable(ctx context.Context, row TableRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tables (id, game_id, status, revision, document, state, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.GameID, row.Status, row.Revision, row.Document, row.State,
		deadlineMillis(row.Deadline), millis(row.CreatedAt), millis(row.UpdatedAt),
	)
	return err
}

const sqliteColumns = "id, game_id, status, revision, document, state, deadline, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanTable(sc scanner) (*TableRow, error) {
	var (
		row              TableRow
		deadline         *int64
		created, updated int64
	)
	if err := sc.Scan(&row.ID, &row.GameID, &row.Status, &row.Revision, &row.Document, &row.State,
		&deadline, &created, &updated); err != nil {
		return nil, err
	}
	row.Deadline = deadlineTime(deadline)
	row.CreatedAt = fromMillis(created)
	row.UpdatedAt = fromMillis(updated)
	return &row, nil
}

// GetTable retrieves a table by id.
func (s *SQLite) GetTable(ctx context.Context, id string) (*TableRow, error) {
	row, err := scanTable(s.db.QueryRowContext(ctx, "SELECT "+sqliteColumns+" FROM tables WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", id, ErrNotFound)
	}
	return row, err
}

// UpdateTable writes the row when nobody else has written it since it was read.
func (s *SQLite) UpdateTable(ctx context.Context, row TableRow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tables SET status = ?, revision = ?, document = ?, state = ?, deadline = ?, updated_at = ?
		WHERE id = ? AND revision = ?`,
		row.Status, row.Revision, row.Document, row.State, deadlineMillis(row.Deadline), millis(row.UpdatedAt),
		row.ID, row.Revision-1,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM tables WHERE id = ?", row.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("table %s: %w", row.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("table %s revision %d: %w", row.ID, row.Revision-1, ErrConcurrentModification)
}

// ListTables returns tables with the given status (or all if status is empty), newest first.
func (s *SQLite) ListTables(ctx context.Context, status string) ([]TableRow, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+sqliteColumns+" FROM tables ORDER BY created_at DESC")
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT "+sqliteColumns+" FROM tables WHERE status = ? ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TableRow
	for rows.Next() {
		row, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

func (s *SQLite) ExpiredTurns(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tables WHERE deadline IS NOT NULL AND deadline < ? ORDER BY deadline", millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTable removes a table.
func (s *SQLite) DeleteTable(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tables WHERE id = ?", id)
	return err
}

func (s *SQLite) DeleteStale(ctx context.Context, before time.Time, statuses ...string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := []any{millis(before)}
	for _, st := range statuses {
		args = append(args, st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tables WHERE updated_at < ? AND status IN ("+placeholders+")", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddRatings records rating changes atomically.
func (s *SQLite) AddRatings(ctx context.Context, rows []RatingRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ratings (user_id, game_id, table_id, rating, delta, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.UserID, r.GameID, r.TableID, r.Rating, r.Delta, millis(r.CreatedAt),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CurrentRating returns the latest rating of a user in a game.
func (s *SQLite) CurrentRating(ctx context.Context, userID, gameID string) (*RatingRow, error) {
	var r RatingRow
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, game_id, table_id, rating, delta, created_at FROM ratings
		WHERE user_id = ? AND game_id = ? ORDER BY id DESC LIMIT 1`, userID, gameID,
	).Scan(&r.UserID, &r.GameID, &r.TableID, &r.Rating, &r.Delta, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rating of %s in %s: %w", userID, gameID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

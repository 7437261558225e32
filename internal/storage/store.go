package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification means the row changed since it was read.
	// Callers reload and retry.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// TableRow is a persisted table. Document holds the table itself (seats, log,
// options); State holds the serialized game state once started.
type TableRow struct {
	ID        string
	GameID    string
	Status    string
	Revision  int
	Document  []byte
	State     []byte
	Deadline  *time.Time // turn limit of the current player, if any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RatingRow is one rating change of a user in a game.
type RatingRow struct {
	UserID    string
	GameID    string
	TableID   string
	Rating    int
	Delta     int
	CreatedAt time.Time
}

// Store persists tables and ratings.
type Store interface {
	CreateTable(ctx context.Context, row TableRow) error
	GetTable(ctx context.Context, id string) (*TableRow, error)
	// UpdateTable writes row if the stored revision is row.Revision-1.
	UpdateTable(ctx context.Context, row TableRow) error
	ListTables(ctx context.Context, status string) ([]TableRow, error)
	// ExpiredTurns lists tables whose current turn deadline is before now.
	ExpiredTurns(ctx context.Context, now time.Time) ([]string, error)
	DeleteTable(ctx context.Context, id string) error
	// DeleteStale removes tables in one of statuses not updated since before.
	DeleteStale(ctx context.Context, before time.Time, statuses ...string) (int64, error)

	AddRatings(ctx context.Context, rows []RatingRow) error
	CurrentRating(ctx context.Context, userID, gameID string) (*RatingRow, error)

	Close() error
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func deadlineMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func deadlineTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)

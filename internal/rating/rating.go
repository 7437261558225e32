// Package rating adjusts player ratings when a table ends.
package rating

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"tabletop/internal/storage"
)

const (
	Initial  = 1200
	DefaultK = 32
)

// Standing is one human player's final score on a table.
type Standing struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Result is a finished, rated table.
type Result struct {
	TableID   string
	GameID    string
	Ended     time.Time
	Standings []Standing
}

// Change is the new rating of a user.
type Change struct {
	UserID string `json:"userId"`
	Rating int    `json:"rating"`
	Delta  int    `json:"delta"`
}

// Adjuster is the hook run for every table that ends in a rated mode.
type Adjuster interface {
	Adjust(ctx context.Context, result Result) ([]Change, error)
}

// Elo rates a multiplayer result as every pairwise one-on-one between its
// players. K is split across the opponents so a game is worth the same
// regardless of player count.
type Elo struct {
	store storage.Store
	log   *zap.Logger
	k     float64
}

func NewElo(store storage.Store, log *zap.Logger, k float64) *Elo {
	if k <= 0 {
		k = DefaultK
	}
	return &Elo{store: store, log: log, k: k}
}

func (e *Elo) Adjust(ctx context.Context, result Result) ([]Change, error) {
	if len(result.Standings) < 2 {
		return nil, nil
	}
	current := make(map[string]int, len(result.Standings))
	for _, s := range result.Standings {
		row, err := e.store.CurrentRating(ctx, s.UserID, result.GameID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			current[s.UserID] = Initial
		case err != nil:
			return nil, fmt.Errorf("load rating of %s: %w", s.UserID, err)
		default:
			current[s.UserID] = row.Rating
		}
	}

	deltas := Deltas(current, result.Standings, e.k)
	changes := make([]Change, 0, len(result.Standings))
	rows := make([]storage.RatingRow, 0, len(result.Standings))
	for _, s := range result.Standings {
		c := Change{UserID: s.UserID, Rating: current[s.UserID] + deltas[s.UserID], Delta: deltas[s.UserID]}
		changes = append(changes, c)
		rows = append(rows, storage.RatingRow{
			UserID: s.UserID, GameID: result.GameID, TableID: result.TableID,
			Rating: c.Rating, Delta: c.Delta, CreatedAt: result.Ended,
		})
	}
	if err := e.store.AddRatings(ctx, rows); err != nil {
		return nil, fmt.Errorf("save ratings of %s: %w", result.TableID, err)
	}
	e.log.Info("ratings adjusted", zap.String("table", result.TableID), zap.Any("changes", changes))
	return changes, nil
}

// Deltas computes the rating change of every player from their pairwise
// results. A higher score beats a lower one; equal scores draw.
func Deltas(ratings map[string]int, standings []Standing, k float64) map[string]int {
	n := len(standings)
	raw := make(map[string]float64, n)
	if n < 2 {
		return map[string]int{}
	}
	share := k / float64(n-1)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := standings[i], standings[j]
			expected := 1 / (1 + math.Pow(10, float64(ratings[b.UserID]-ratings[a.UserID])/400))
			actual := 0.5
			switch {
			case a.Score > b.Score:
				actual = 1
			case a.Score < b.Score:
				actual = 0
			}
			raw[a.UserID] += share * (actual - expected)
			raw[b.UserID] -= share * (actual - expected)
		}
	}
	out := make(map[string]int, n)
	for id, d := range raw {
		out[id] = int(math.Round(d))
	}
	return out
}

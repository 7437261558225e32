package table

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tabletop/internal/game"
	"tabletop/internal/storage"
)

func newID() string { return uuid.NewString() }

// row encodes the table for storage. The game state is kept apart from the
// table document so it can be read without the log.
func (t *Table) row() (storage.TableRow, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return storage.TableRow{}, fmt.Errorf("marshal table %s: %w", t.ID, err)
	}
	row := storage.TableRow{
		ID:        t.ID,
		GameID:    t.GameID,
		Status:    string(t.Status),
		Revision:  t.Revision,
		Document:  doc,
		Deadline:  t.Deadline(),
		CreatedAt: t.Created,
		UpdatedAt: t.Updated,
	}
	if t.state != nil {
		if row.State, err = t.game.Serialize(t.state); err != nil {
			return storage.TableRow{}, err
		}
	}
	return row, nil
}

func load(row *storage.TableRow, g *game.Game, now func() time.Time, turnBased time.Duration) (*Table, error) {
	t := &Table{}
	if err := json.Unmarshal(row.Document, t); err != nil {
		return nil, fmt.Errorf("unmarshal table %s: %w", row.ID, err)
	}
	t.Revision = row.Revision
	t.attach(g, now, turnBased)
	if len(row.State) > 0 {
		state, err := g.Deserialize(row.State)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", row.ID, err)
		}
		t.state = state
	}
	return t, nil
}

package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabletop/internal/automa"
	"tabletop/internal/game"
	"tabletop/internal/lock"
	"tabletop/internal/monitor"
	"tabletop/internal/rating"
	"tabletop/internal/storage"
)

// Notifier is told about every table after a change to it was saved.
type Notifier interface {
	TableChanged(t *Table)
}

// Limits tune the manager. Zero values fall back to defaults.
type Limits struct {
	MaxRetries     int
	TurnBasedLimit time.Duration
	// IdleNew is how long a NEW table may sit untouched before it is abandoned.
	IdleNew time.Duration
	// Retention is how long ENDED and ABANDONED tables are kept.
	Retention time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxRetries <= 0 {
		l.MaxRetries = 30
	}
	if l.TurnBasedLimit <= 0 {
		l.TurnBasedLimit = DefaultTurnBasedLimit
	}
	if l.IdleNew <= 0 {
		l.IdleNew = 24 * time.Hour
	}
	if l.Retention <= 0 {
		l.Retention = 7 * 24 * time.Hour
	}
	return l
}

// Deps are the collaborators of a Manager. Rater and Metrics are optional.
type Deps struct {
	Registry  *game.Registry
	Store     storage.Store
	Locker    lock.Locker
	Scheduler automa.Scheduler
	Rater     rating.Adjuster
	Metrics   *monitor.Metrics
	Log       *zap.Logger
	Now       func() time.Time
	Seed      func() game.Seed
}

// Manager loads, changes and saves tables. Every change runs under the table
// lock and is retried when another writer got there first.
type Manager struct {
	registry  *game.Registry
	store     storage.Store
	locker    lock.Locker
	scheduler automa.Scheduler
	rater     rating.Adjuster
	metrics   *monitor.Metrics
	log       *zap.Logger
	now       func() time.Time
	seed      func() game.Seed
	limits    Limits

	mu        sync.RWMutex
	notifiers []Notifier
}

func NewManager(d Deps, limits Limits) *Manager {
	m := &Manager{
		registry:  d.Registry,
		store:     d.Store,
		locker:    d.Locker,
		scheduler: d.Scheduler,
		rater:     d.Rater,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		seed:      d.Seed,
		limits:    limits.withDefaults(),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.seed == nil {
		m.seed = game.NewSeed
	}
	if m.locker == nil {
		m.locker = lock.NewLocal()
	}
	return m
}

// Subscribe registers n for table changes.
func (m *Manager) Subscribe(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

func (m *Manager) Registry() *game.Registry { return m.registry }

// Create opens a NEW table of gameID owned by ownerID.
func (m *Manager) Create(ctx context.Context, gameID, ownerID string, s Settings) (*Table, error) {
	g, err := m.registry.Lookup(gameID)
	if err != nil {
		return nil, err
	}
	t, err := New(g, newID(), ownerID, s, m.now)
	if err != nil {
		return nil, err
	}
	t.turnBased = m.limits.TurnBasedLimit
	t.Revision = 1
	row, err := t.row()
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateTable(ctx, row); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	m.log.Info("table created", zap.String("table", t.ID), zap.String("game", gameID), zap.String("owner", ownerID))
	m.afterSave(ctx, t)
	return t, nil
}

// Get loads a table.
func (m *Manager) Get(ctx context.Context, id string) (*Table, error) {
	row, err := m.store.GetTable(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return m.load(row)
}

func (m *Manager) load(row *storage.TableRow) (*Table, error) {
	g, err := m.registry.Lookup(row.GameID)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", row.ID, err)
	}
	return load(row, g, m.now, m.limits.TurnBasedLimit)
}

// List returns the tables in status, or all when status is empty. Tables
// that no longer load are logged and skipped.
func (m *Manager) List(ctx context.Context, status Status) ([]*Table, error) {
	rows, err := m.store.ListTables(ctx, string(status))
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, 0, len(rows))
	for i := range rows {
		t, err := m.load(&rows[i])
		if err != nil {
			m.log.Warn("skipping table", zap.String("table", rows[i].ID), zap.Error(err))
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// update applies fn to the latest revision of table id and saves the result.
func (m *Manager) update(ctx context.Context, id, kind string, fn func(t *Table) error) (*Table, error) {
	unlock, err := m.locker.Lock(ctx, "table:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	for attempt := 0; attempt < m.limits.MaxRetries; attempt++ {
		t, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			m.rejected(t.GameID, err)
			return nil, err
		}
		t.Revision++
		t.Updated = m.now()
		row, err := t.row()
		if err != nil {
			return nil, err
		}
		err = m.store.UpdateTable(ctx, row)
		if errors.Is(err, storage.ErrConcurrentModification) {
			if m.metrics != nil {
				m.metrics.Conflicts.Inc()
			}
			m.log.Debug("table changed concurrently, retrying",
				zap.String("table", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save table %s: %w", id, err)
		}
		if m.metrics != nil {
			m.metrics.ObserveChange(t.GameID, start)
			if kind != "" {
				m.metrics.Actions.WithLabelValues(t.GameID, kind).Inc()
			}
		}
		m.afterSave(ctx, t)
		if t.Status == StatusAbandoned && t.Started == nil {
			m.discard(ctx, t)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: table %s after %d attempts", storage.ErrConcurrentModification, id, m.limits.MaxRetries)
}

// discard deletes a table that was abandoned before it started.
func (m *Manager) discard(ctx context.Context, t *Table) {
	if err := m.store.DeleteTable(ctx, t.ID); err != nil {
		m.log.Error("delete abandoned table", zap.String("table", t.ID), zap.Error(err))
		return
	}
	m.log.Info("table discarded", zap.String("table", t.ID))
}

func (m *Manager) rejected(gameID string, err error) {
	var engine *game.EngineError
	if errors.As(err, &engine) {
		m.log.Error("engine fault", zap.String("game", gameID), zap.Error(err))
		if m.metrics != nil {
			m.metrics.EngineFaults.WithLabelValues(gameID).Inc()
		}
		return
	}
	if m.metrics != nil {
		m.metrics.Rejected.WithLabelValues(gameID, reason(err)).Inc()
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, game.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, game.ErrNotCurrentPlayer):
		return "not_current_player"
	case errors.Is(err, game.ErrGameEnded):
		return "game_ended"
	case errors.Is(err, game.ErrInvalidPlayers), errors.Is(err, game.ErrInvalidOptions):
		return "invalid_setup"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrWrongStatus):
		return "wrong_status"
	case errors.Is(err, ErrCannotUndo):
		return "cannot_undo"
	}
	return "other"
}

// afterSave runs the consequences of a saved change: ratings for a rated
// end, the next computer turn, and notifications.
func (m *Manager) afterSave(ctx context.Context, t *Table) {
	if m.metrics != nil {
		if t.started {
			m.metrics.TablesStarted.WithLabelValues(t.GameID).Inc()
		}
		if t.ended {
			m.metrics.TablesEnded.WithLabelValues(t.GameID, string(t.Status)).Inc()
		}
	}
	if t.ended {
		m.log.Info("table finished", zap.String("table", t.ID), zap.String("status", string(t.Status)))
		if t.Rated() && m.rater != nil {
			if _, err := m.rater.Adjust(ctx, t.Result()); err != nil {
				m.log.Error("rating failed", zap.String("table", t.ID), zap.Error(err))
			}
		}
	}
	if cur := t.CurrentSeat(); cur != nil && cur.Type == game.Computer && m.scheduler != nil {
		job := automa.Job{TableID: t.ID, PlayerID: cur.ID}
		if err := m.scheduler.Schedule(ctx, job); err != nil {
			m.log.Error("schedule automa", zap.String("table", t.ID), zap.Error(err))
		}
	}
	t.started, t.ended = false, false

	m.mu.RLock()
	notifiers := m.notifiers
	m.mu.RUnlock()
	for _, n := range notifiers {
		n.TableChanged(t)
	}
}

func (m *Manager) Invite(ctx context.Context, id, byUserID, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Invite(byUserID, userID) })
}

func (m *Manager) Accept(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Accept(userID) })
}

func (m *Manager) Reject(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Reject(userID) })
}

func (m *Manager) Join(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Join(userID) })
}

func (m *Manager) AddComputer(ctx context.Context, id, byUserID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error {
		_, err := t.AddComputer(byUserID)
		return err
	})
}

func (m *Manager) Kick(ctx context.Context, id, byUserID, playerID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Kick(byUserID, playerID) })
}

func (m *Manager) ChangeOptions(ctx context.Context, id, byUserID string, opts game.Options) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.ChangeOptions(byUserID, opts) })
}

func (m *Manager) Start(ctx context.Context, id, byUserID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Start(byUserID, m.seed()) })
}

func (m *Manager) Perform(ctx context.Context, id, userID string, cmd game.Command) (*Table, error) {
	return m.update(ctx, id, "action", func(t *Table) error { return t.Perform(userID, cmd, m.seed()) })
}

func (m *Manager) Skip(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "skip", func(t *Table) error { return t.Skip(userID, m.seed()) })
}

func (m *Manager) EndTurn(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "end_turn", func(t *Table) error { return t.EndTurn(userID, m.seed()) })
}

// Leave gives up the seat of userID. When the owner leaves, the table passes
// to another seated human.
func (m *Manager) Leave(ctx context.Context, id, userID string) (*Table, error) {
	var owner string
	t, err := m.update(ctx, id, "leave", func(t *Table) error {
		owner = t.OwnerID
		return t.Leave(userID)
	})
	if err != nil {
		return nil, err
	}
	if t.OwnerID != owner {
		m.log.Info("table owner changed", zap.String("table", id),
			zap.String("from", owner), zap.String("to", t.OwnerID))
	}
	return t, nil
}

func (m *Manager) ProposeToLeave(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.ProposeToLeave(userID) })
}

func (m *Manager) AgreeToLeave(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.AgreeToLeave(userID) })
}

func (m *Manager) Undo(ctx context.Context, id, userID string) (*Table, error) {
	return m.update(ctx, id, "undo", func(t *Table) error { return t.Undo(userID) })
}

func (m *Manager) RevertTo(ctx context.Context, id, userID string, seq int) (*Table, error) {
	return m.update(ctx, id, "revert", func(t *Table) error { return t.RevertTo(userID, seq) })
}

func (m *Manager) MakePublic(ctx context.Context, id, byUserID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.MakePublic(byUserID) })
}

func (m *Manager) MakePrivate(ctx context.Context, id, byUserID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.MakePrivate(byUserID) })
}

func (m *Manager) ChangeType(ctx context.Context, id, byUserID string, typ Type) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.ChangeType(byUserID, typ) })
}

func (m *Manager) Abandon(ctx context.Context, id, byUserID string) (*Table, error) {
	return m.update(ctx, id, "", func(t *Table) error { return t.Abandon(byUserID) })
}

// ExecuteAutoma plays a scheduled computer turn. Jobs that went stale while
// queued are dropped.
func (m *Manager) ExecuteAutoma(ctx context.Context, job automa.Job) error {
	t, err := m.update(ctx, job.TableID, "automa", func(t *Table) error {
		return t.ExecuteAutoma(job.PlayerID, m.seed())
	})
	switch {
	case err == nil:
		if m.metrics != nil {
			m.metrics.AutomaTurns.WithLabelValues(t.GameID).Inc()
		}
		return nil
	case errors.Is(err, game.ErrNotCurrentPlayer), errors.Is(err, ErrWrongStatus), errors.Is(err, ErrNotFound):
		m.log.Debug("dropping stale automa job",
			zap.String("table", job.TableID), zap.String("player", job.PlayerID), zap.Error(err))
		return nil
	}
	return err
}

// Sweep forces expired turns to end, discards NEW tables nobody touched for
// too long and deletes old finished tables.
func (m *Manager) Sweep(ctx context.Context) error {
	now := m.now()
	expired, err := m.store.ExpiredTurns(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired turns: %w", err)
	}
	for _, id := range expired {
		_, err := m.update(ctx, id, "force_end_turn", func(t *Table) error { return t.ForceEndTurn(m.seed()) })
		if err != nil && !errors.Is(err, ErrTurnNotExpired) && !errors.Is(err, ErrWrongStatus) {
			m.log.Error("force end turn", zap.String("table", id), zap.Error(err))
		}
	}

	idle, err := m.store.ListTables(ctx, string(StatusNew))
	if err != nil {
		return fmt.Errorf("list new tables: %w", err)
	}
	for _, row := range idle {
		if row.UpdatedAt.After(now.Add(-m.limits.IdleNew)) {
			continue
		}
		if _, err := m.Abandon(ctx, row.ID, ""); err != nil && !errors.Is(err, ErrWrongStatus) {
			m.log.Error("abandon idle table", zap.String("table", row.ID), zap.Error(err))
		}
	}

	n, err := m.store.DeleteStale(ctx, now.Add(-m.limits.Retention), string(StatusEnded), string(StatusAbandoned))
	if err != nil {
		return fmt.Errorf("delete stale tables: %w", err)
	}
	if n > 0 {
		m.log.Info("deleted stale tables", zap.Int64("count", n))
	}
	return nil
}

// SweepLoop runs Sweep every interval until ctx is done.
func (m *Manager) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.log.Error("sweep", zap.Error(err))
			}
		}
	}
}

var _ automa.Executor = (*Manager)(nil)

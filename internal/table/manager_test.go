package table

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tabletop/internal/automa"
	"tabletop/internal/game"
	"tabletop/internal/game/catalog"
	"tabletop/internal/lock"
	"tabletop/internal/monitor"
	"tabletop/internal/rating"
	"tabletop/internal/storage"
)

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []automa.Job
}

func (s *recordingScheduler) Schedule(_ context.Context, job automa.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *recordingScheduler) take() []automa.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.jobs
	s.jobs = nil
	return jobs
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Status
}

func (n *recordingNotifier) TableChanged(t *Table) {
	n.mu.Lock()
	n.changes = append(n.changes, t.Status)
	n.mu.Unlock()
}

type recordingRater struct{ results []rating.Result }

func (r *recordingRater) Adjust(_ context.Context, res rating.Result) ([]rating.Change, error) {
	r.results = append(r.results, res)
	return nil, nil
}

// conflictingStore fails the first n updates as if another writer won.
type conflictingStore struct {
	storage.Store
	n int
}

func (s *conflictingStore) UpdateTable(ctx context.Context, row storage.TableRow) error {
	if s.n > 0 {
		s.n--
		return storage.ErrConcurrentModification
	}
	return s.Store.UpdateTable(ctx, row)
}

type fixture struct {
	m         *Manager
	store     storage.Store
	clock     *fakeClock
	scheduler *recordingScheduler
	notifier  *recordingNotifier
	rater     *recordingRater
	metrics   *monitor.Metrics
}

func newFixture(t *testing.T, wrap func(storage.Store) storage.Store) *fixture {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	var store storage.Store = db
	if wrap != nil {
		store = wrap(db)
	}
	registry, err := catalog.New(nil)
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		clock:     newClock(),
		scheduler: &recordingScheduler{},
		notifier:  &recordingNotifier{},
		rater:     &recordingRater{},
		metrics:   monitor.NewMetrics("test"),
	}
	var seed game.Seed
	f.m = NewManager(Deps{
		Registry:  registry,
		Store:     store,
		Locker:    lock.NewLocal(),
		Scheduler: f.scheduler,
		Rater:     f.rater,
		Metrics:   f.metrics,
		Log:       zap.NewNop(),
		Now:       f.clock.Now,
		Seed: func() game.Seed {
			seed++
			return seed
		},
	}, Limits{MaxRetries: 3, IdleNew: time.Hour, Retention: 24 * time.Hour})
	f.m.Subscribe(f.notifier)
	return f
}

func (f *fixture) startTicTacToe(t *testing.T) *Table {
	t.Helper()
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "tictactoe", "alice", publicRealtime())
	require.NoError(t, err)
	_, err = f.m.Join(ctx, tb.ID, "bob")
	require.NoError(t, err)
	tb, err = f.m.Start(ctx, tb.ID, "alice")
	require.NoError(t, err)
	return tb
}

func TestManagerCreateAndGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.m.Create(ctx, "chess", "alice", publicRealtime())
	assert.ErrorIs(t, err, game.ErrGameNotFound)

	tb, err := f.m.Create(ctx, "pig", "alice", publicRealtime())
	require.NoError(t, err)
	assert.Equal(t, 1, tb.Revision)

	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, tb.ID, got.ID)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, StatusNew, got.Status)

	_, err = f.m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	tables, err := f.m.List(ctx, StatusNew)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
	tables, err = f.m.List(ctx, StatusStarted)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestManagerPlaysAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb := f.startTicTacToe(t)
	assert.Equal(t, 3, tb.Revision)

	_, err := f.m.Perform(ctx, tb.ID, "bob", move(0))
	assert.ErrorIs(t, err, game.ErrNotCurrentPlayer)

	for i, step := range []struct {
		user string
		cell int
	}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}} {
		_, err := f.m.Perform(ctx, tb.ID, step.user, move(step.cell))
		require.NoError(t, err, "move %d", i)
	}

	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Equal(t, 8, got.Revision)
	assert.True(t, got.SeatOf("alice").Winner)

	replayed, err := Replay(got.Game(), got)
	require.NoError(t, err)
	want, _ := got.Game().Serialize(got.State())
	have, _ := got.Game().Serialize(replayed)
	assert.JSONEq(t, string(want), string(have))

	require.Len(t, f.rater.results, 1)
	assert.Equal(t, tb.ID, f.rater.results[0].TableID)
	assert.Equal(t, StatusEnded, f.notifier.changes[len(f.notifier.changes)-1])
}

func TestManagerRetriesConcurrentModification(t *testing.T) {
	var cs *conflictingStore
	f := newFixture(t, func(s storage.Store) storage.Store {
		cs = &conflictingStore{Store: s}
		return cs
	})
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "tictactoe", "alice", publicRealtime())
	require.NoError(t, err)

	cs.n = 2
	got, err := f.m.Join(ctx, tb.ID, "bob")
	require.NoError(t, err)
	assert.NotNil(t, got.SeatOf("bob"))
	assert.Equal(t, 2, got.Revision)

	cs.n = 3
	_, err = f.m.Join(ctx, tb.ID, "carol")
	assert.ErrorIs(t, err, storage.ErrConcurrentModification)
}

func TestManagerSchedulesComputerTurns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "tictactoe", "alice", publicRealtime())
	require.NoError(t, err)
	_, err = f.m.AddComputer(ctx, tb.ID, "alice")
	require.NoError(t, err)
	_, err = f.m.Start(ctx, tb.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, f.scheduler.take(), "alice moves first")

	_, err = f.m.Perform(ctx, tb.ID, "alice", move(4))
	require.NoError(t, err)
	jobs := f.scheduler.take()
	require.Len(t, jobs, 1)

	require.NoError(t, f.m.ExecuteAutoma(ctx, jobs[0]))
	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CurrentSeat().UserID)

	// a duplicate delivery finds the turn already played
	require.NoError(t, f.m.ExecuteAutoma(ctx, jobs[0]))
	again, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Revision, again.Revision)
}

func TestManagerSweepForcesExpiredTurns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb := f.startTicTacToe(t)

	require.NoError(t, f.m.Sweep(ctx))
	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CurrentSeat().UserID)

	f.clock.Advance(time.Minute + time.Second)
	require.NoError(t, f.m.Sweep(ctx))
	got, err = f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.CurrentSeat().UserID)
}

func TestManagerSweepAbandonsAndDeletes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	idle, err := f.m.Create(ctx, "pig", "alice", publicRealtime())
	require.NoError(t, err)
	played := f.startTicTacToe(t)
	_, err = f.m.Abandon(ctx, played.ID, "alice")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.m.Sweep(ctx))
	_, err = f.m.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrNotFound, "never started, nothing to keep")
	assert.Equal(t, StatusAbandoned, f.notifier.changes[len(f.notifier.changes)-1])
	got, err := f.m.Get(ctx, played.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.m.Sweep(ctx))
	_, err = f.m.Get(ctx, played.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerTrainingIsNotRated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "tictactoe", "alice", Settings{Type: Realtime, Mode: Training, Public: true})
	require.NoError(t, err)
	_, err = f.m.Join(ctx, tb.ID, "bob")
	require.NoError(t, err)
	_, err = f.m.Start(ctx, tb.ID, "alice")
	require.NoError(t, err)
	for _, step := range []struct {
		user string
		cell int
	}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}} {
		_, err := f.m.Perform(ctx, tb.ID, step.user, move(step.cell))
		require.NoError(t, err)
	}
	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	assert.Empty(t, f.rater.results)
}

func TestManagerLeaveHandsOverOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "pig", "alice", publicRealtime())
	require.NoError(t, err)
	for _, user := range []string{"bob", "carol"} {
		_, err = f.m.Join(ctx, tb.ID, user)
		require.NoError(t, err)
	}
	_, err = f.m.Leave(ctx, tb.ID, "alice")
	require.NoError(t, err)
	got, err := f.m.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.OwnerID)

	_, err = f.m.Start(ctx, tb.ID, "bob")
	require.NoError(t, err)
	got, err = f.m.Leave(ctx, tb.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status, "carol cannot play alone")
	assert.Empty(t, f.rater.results)
	_, err = f.m.Get(ctx, tb.ID)
	require.NoError(t, err, "started tables are kept")
}

func TestManagerTrainingHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tb, err := f.m.Create(ctx, "tictactoe", "alice", Settings{Type: Realtime, Mode: Training})
	require.NoError(t, err)
	_, err = f.m.MakePublic(ctx, tb.ID, "alice")
	require.NoError(t, err)
	_, err = f.m.ChangeType(ctx, tb.ID, "alice", TurnBased)
	require.NoError(t, err)
	_, err = f.m.Join(ctx, tb.ID, "bob")
	require.NoError(t, err)
	_, err = f.m.MakePrivate(ctx, tb.ID, "alice")
	require.NoError(t, err)
	tb, err = f.m.Start(ctx, tb.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, TurnBased, tb.Type)
	assert.False(t, tb.Public)

	first := tb.CurrentSeat().UserID
	second := "bob"
	if first == "bob" {
		second = "alice"
	}
	tb, err = f.m.Perform(ctx, tb.ID, first, move(4))
	require.NoError(t, err)
	_, err = f.m.Perform(ctx, tb.ID, second, move(0))
	require.NoError(t, err)
	_, err = f.m.Undo(ctx, tb.ID, second)
	assert.ErrorIs(t, err, game.ErrNotCurrentPlayer)

	var start int
	for _, e := range tb.Log {
		if e.Type == LogStart {
			start = e.Seq
		}
	}
	got, err := f.m.RevertTo(ctx, tb.ID, second, start)
	require.NoError(t, err)
	assert.Equal(t, first, got.CurrentSeat().UserID)
	assert.Equal(t, LogRevert, got.Log[len(got.Log)-1].Type)

	_, err = f.m.ProposeToLeave(ctx, tb.ID, first)
	require.NoError(t, err)
	got, err = f.m.AgreeToLeave(ctx, tb.ID, second)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, got.Status)
}

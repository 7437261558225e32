package automa

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
	want int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) ExecuteAutoma(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	if len(r.jobs) == r.want {
		close(r.done)
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for automa jobs")
	}
}

func TestPoolRunsScheduledJobs(t *testing.T) {
	pool := NewPool(zap.NewNop(), 2, 8)
	rec := newRecorder(3)
	ctx := context.Background()

	// scheduled before start, held in the buffer
	require.NoError(t, pool.Schedule(ctx, Job{TableID: "t1", PlayerID: "p1"}))
	pool.Start(ctx, rec)
	defer pool.Stop()
	require.NoError(t, pool.Schedule(ctx, Job{TableID: "t2", PlayerID: "p2"}))
	require.NoError(t, pool.Schedule(ctx, Job{TableID: "t3", PlayerID: "p3"}))

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t, []Job{{"t1", "p1"}, {"t2", "p2"}, {"t3", "p3"}}, rec.jobs)
}

func TestPoolRejectsAfterStop(t *testing.T) {
	pool := NewPool(zap.NewNop(), 1, 1)
	pool.Start(context.Background(), newRecorder(1))
	pool.Stop()
	assert.ErrorIs(t, pool.Schedule(context.Background(), Job{TableID: "t"}), ErrStopped)
}

func TestPoolScheduleNeverBlocks(t *testing.T) {
	pool := NewPool(zap.NewNop(), 1, 1)
	require.NoError(t, pool.Schedule(context.Background(), Job{TableID: "fills buffer"}))
	assert.ErrorIs(t, pool.Schedule(context.Background(), Job{TableID: "dropped"}), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewPool(zap.NewNop(), 1, 1).Schedule(ctx, Job{TableID: "t"}), context.Canceled)
}

// chaining schedules follow-up jobs from inside a worker, like a computer
// turn handing over to the next computer.
type chaining struct {
	pool *Pool
	errs chan error
}

func (c *chaining) ExecuteAutoma(ctx context.Context, job Job) error {
	if job.TableID == "first" {
		c.errs <- c.pool.Schedule(ctx, Job{TableID: "second"})
		c.errs <- c.pool.Schedule(ctx, Job{TableID: "third"})
	}
	return nil
}

func TestPoolWorkerSchedulesWithFullBuffer(t *testing.T) {
	pool := NewPool(zap.NewNop(), 1, 1)
	exec := &chaining{pool: pool, errs: make(chan error, 2)}
	require.NoError(t, pool.Schedule(context.Background(), Job{TableID: "first"}))
	pool.Start(context.Background(), exec)
	defer pool.Stop()

	for _, want := range []error{nil, ErrQueueFull} {
		select {
		case err := <-exec.errs:
			if want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("worker blocked scheduling")
		}
	}
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("set NATS_URL to run nats scheduler tests")
	}
	log := zap.NewNop()
	nc, err := Connect(NATSConfig{URL: url, MaxReconnects: 1, ReconnectWait: time.Second}, log)
	require.NoError(t, err)
	defer nc.Close()

	subject := "tabletop.automa.test"
	sub := NewSubscriber(nc, log, subject, "", NewPool(log, 1, 4))
	rec := newRecorder(1)
	require.NoError(t, sub.Start(context.Background(), rec))
	defer sub.Stop()
	require.NoError(t, nc.Flush())

	require.NoError(t, NewPublisher(nc, subject).Schedule(context.Background(), Job{TableID: "t1", PlayerID: "cpu"}))
	rec.wait(t)
	assert.Equal(t, Job{TableID: "t1", PlayerID: "cpu"}, rec.jobs[0])
}

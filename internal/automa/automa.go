// Package automa runs computer turns outside the request that made them due.
package automa

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("automa scheduler stopped")
	ErrQueueFull = errors.New("automa queue full")
)

// Job asks for the computer seat PlayerID on TableID to take its turn.
type Job struct {
	TableID  string `json:"tableId"`
	PlayerID string `json:"playerId"`
}

// Executor plays one computer turn.
type Executor interface {
	ExecuteAutoma(ctx context.Context, job Job) error
}

// Scheduler queues computer turns.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
}

// Pool is an in-process Scheduler backed by a fixed set of workers.
type Pool struct {
	log     *zap.Logger
	workers int
	jobs    chan Job

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(log *zap.Logger, workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Pool{log: log, workers: workers, jobs: make(chan Job, buffer)}
}

// Start launches the workers. Jobs scheduled before Start wait in the buffer.
func (p *Pool) Start(ctx context.Context, exec Executor) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, exec)
	}
	p.log.Info("automa pool started", zap.Int("workers", p.workers))
}

func (p *Pool) worker(ctx context.Context, exec Executor) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if err := exec.ExecuteAutoma(ctx, job); err != nil {
				p.log.Error("automa turn failed",
					zap.String("table", job.TableID), zap.String("player", job.PlayerID), zap.Error(err))
			}
		}
	}
}

// Schedule queues job without blocking, so workers may schedule the next
// turn themselves. A dropped job is picked up once the turn expires.
func (p *Pool) Schedule(ctx context.Context, job Job) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the workers and waits for running turns to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

package automa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DefaultSubject = "tabletop.automa"
	DefaultQueue   = "tabletop-automa"
)

// NATSConfig holds connection settings for the NATS scheduler.
type NATSConfig struct {
	URL           string
	Subject       string
	Queue         string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(cfg NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("tabletop"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher is a Scheduler that hands jobs to whichever instance's
// Subscriber receives them first.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

func (p *Publisher) Schedule(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Subscriber consumes jobs from a queue group and runs them on a Pool.
type Subscriber struct {
	nc      *nats.Conn
	log     *zap.Logger
	subject string
	queue   string
	pool    *Pool
	sub     *nats.Subscription
}

func NewSubscriber(nc *nats.Conn, log *zap.Logger, subject, queue string, pool *Pool) *Subscriber {
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &Subscriber{nc: nc, log: log, subject: subject, queue: queue, pool: pool}
}

func (s *Subscriber) Start(ctx context.Context, exec Executor) error {
	s.pool.Start(ctx, exec)
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			s.log.Error("bad automa job", zap.ByteString("data", msg.Data), zap.Error(err))
			return
		}
		if err := s.pool.Schedule(ctx, job); err != nil {
			s.log.Warn("drop automa job", zap.String("table", job.TableID), zap.Error(err))
		}
	})
	if err != nil {
		s.pool.Stop()
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.log.Info("automa subscriber started", zap.String("subject", s.subject), zap.String("queue", s.queue))
	return nil
}

func (s *Subscriber) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.Warn("unsubscribe automa", zap.Error(err))
		}
	}
	s.pool.Stop()
}

var (
	_ Scheduler = (*Publisher)(nil)
	_ Scheduler = (*Pool)(nil)
)

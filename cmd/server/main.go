package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tabletop/internal/automa"
	"tabletop/internal/config"
	"tabletop/internal/game/catalog"
	"tabletop/internal/lock"
	"tabletop/internal/logger"
	"tabletop/internal/monitor"
	"tabletop/internal/rating"
	"tabletop/internal/server"
	"tabletop/internal/storage"
	"tabletop/internal/table"
)

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := catalog.New(cfg.Games.Enabled)
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		locker = lock.NewRedis(rdb, zl, cfg.Redis.LockTTL)
		zl.Info("using redis table locks", zap.String("addr", cfg.Redis.Addr))
	}

	metrics := monitor.NewMetrics("tabletop")
	pool := automa.NewPool(zl, cfg.Automa.Workers, cfg.Automa.Buffer)
	var scheduler automa.Scheduler = pool
	var subscriber *automa.Subscriber
	if cfg.NATS.Enabled {
		nc, err := automa.Connect(automa.NATSConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, zl)
		if err != nil {
			return err
		}
		defer nc.Close()
		scheduler = automa.NewPublisher(nc, cfg.NATS.Subject)
		subscriber = automa.NewSubscriber(nc, zl, cfg.NATS.Subject, cfg.NATS.Queue, pool)
	}

	mgr := table.NewManager(table.Deps{
		Registry:  registry,
		Store:     store,
		Locker:    locker,
		Scheduler: scheduler,
		Rater:     rating.NewElo(store, zl, cfg.Rating.K),
		Metrics:   metrics,
		Log:       zl,
	}, table.Limits{
		MaxRetries:     cfg.Tables.MaxRetries,
		TurnBasedLimit: cfg.Tables.TurnBasedTurn,
		IdleNew:        cfg.Tables.IdleNew,
		Retention:      cfg.Tables.Retention,
	})

	if subscriber != nil {
		if err := subscriber.Start(ctx, mgr); err != nil {
			return err
		}
		defer subscriber.Stop()
	} else {
		pool.Start(ctx, mgr)
		defer pool.Stop()
	}

	go mgr.SweepLoop(ctx, cfg.Tables.SweepInterval)

	srv := server.New(mgr, metrics, zl)
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddress, Handler: srv}
	errc := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", cfg.Server.HTTPAddress))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	srv.Hub().Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Driver == "postgres" {
		pg := cfg.Storage.Postgres
		return storage.NewPostgres(ctx, storage.PostgresConfig{
			URL:             pg.URL,
			Host:            pg.Host,
			Port:            pg.Port,
			User:            pg.User,
			Password:        pg.Password,
			Name:            pg.DBName,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
	}
	return storage.NewSQLite(cfg.Storage.SQLite.Path)
}

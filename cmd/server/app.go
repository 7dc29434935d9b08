package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	attservice "roster/internal/attendance/service"
	"roster/internal/attendance/store/attendance"
	"roster/internal/capacity"
	"roster/internal/capacity/store/ledger"
	"roster/internal/catalog"
	"roster/internal/certificate"
	"roster/internal/events"
	eventsamqp "roster/internal/events/amqp"
	"roster/internal/events/kafka"
	"roster/internal/participation"
	participationmetrics "roster/internal/participation/metrics"
	"roster/internal/platform/config"
	"roster/internal/platform/postgres"
	"roster/internal/platform/redis"
	"roster/internal/policy"
	regservice "roster/internal/registration/service"
	"roster/internal/registration/store/registration"
	"roster/pkg/platform/circuit"
	"roster/pkg/platform/keylock"
)

const dispatcherBackoff = 100 * time.Millisecond

// app holds the wired participation stack and the resources it owns.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	catalog    *catalog.InMemoryCatalog
	dispatcher *events.Dispatcher
	engine     *participation.Engine
	sweeper    *participation.Sweeper
}

// buildApp connects the configured backends and wires the engine. reg
// receives the participation metrics.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, catalog: catalog.NewInMemoryCatalog()}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	snapshot, err := catalog.LoadFile(cfg.Catalog.File)
	if err != nil {
		return nil, err
	}
	if err := snapshot.Apply(ctx, a.catalog); err != nil {
		return nil, fmt.Errorf("apply catalog: %w", err)
	}
	resolver := policy.NewResolver(snapshot.Defaults, snapshot.Categories)
	logger.Info("catalog loaded", "file", cfg.Catalog.File, "events", len(snapshot.Events))

	if cfg.Storage.Registrations == config.BackendPostgres {
		a.pool, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Storage.Ledger == config.BackendRedis {
		a.redis, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
	}

	var (
		regStore  regservice.Store
		attStore  attservice.Store
		capLedger capacity.Ledger
	)
	if a.pool != nil {
		regStore = registration.NewPostgres(a.pool)
		attStore = attendance.NewPostgres(a.pool)
	} else {
		regStore = registration.NewInMemoryStore()
		attStore = attendance.NewInMemoryStore()
	}
	if a.redis != nil {
		capLedger = ledger.NewRedisLedger(a.redis.Client)
	} else {
		capLedger = ledger.NewInMemoryLedger()
	}

	registrations := regservice.New(regStore, capLedger, a.catalog, regservice.WithLogger(logger))
	// A process-local ledger forgets holders on restart, so it is rebuilt from
	// durable registrations. A shared Redis ledger is already authoritative.
	replay := a.redis == nil && a.pool != nil
	if err := registrations.SyncLedger(ctx, replay); err != nil {
		return nil, fmt.Errorf("sync capacity ledger: %w", err)
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dispatcher = events.NewDispatcher(sink,
		events.WithLogger(logger),
		events.WithQueueSize(cfg.Dispatcher.QueueSize),
		events.WithBatchSize(cfg.Dispatcher.BatchSize),
		events.WithFlushInterval(cfg.Dispatcher.FlushInterval),
		events.WithRetry(cfg.Dispatcher.MaxAttempts, dispatcherBackoff),
		events.WithBreaker(circuit.New("events-"+cfg.Storage.EventsSink)),
	)

	locks := keylock.New()
	tracker := attservice.New(attStore, registrations, a.catalog,
		attservice.WithLogger(logger),
		attservice.WithPolicies(resolver),
		attservice.WithLocker(locks),
	)
	issuer := certificate.NewIssuer(registrations, tracker, a.catalog, resolver)

	a.engine = participation.New(registrations, tracker, issuer, a.catalog,
		participation.WithLogger(logger),
		participation.WithMetrics(participationmetrics.New(reg)),
		participation.WithEmitter(a.dispatcher),
		participation.WithLocks(locks),
	)
	a.sweeper = participation.NewSweeper(a.engine, cfg.AutoClose.Interval, cfg.AutoClose.Delay)

	ok = true
	return a, nil
}

func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Sink, error) {
	switch cfg.Storage.EventsSink {
	case config.SinkKafka:
		return kafka.NewSink(ctx, kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		})
	case config.SinkAMQP:
		return eventsamqp.NewSink(cfg.AMQP.URL, cfg.AMQP.Exchange)
	default:
		return events.NewLogSink(logger), nil
	}
}

// health reports the first failing backend.
func (a *app) health(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// close flushes pending events and releases connections.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Error("close event dispatcher", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

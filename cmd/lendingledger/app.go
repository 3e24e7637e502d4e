package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AntonStoeckl/lending-ledger-go/internal/config"
	"github.com/AntonStoeckl/lending-ledger-go/internal/observability"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/audit"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/notify"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/outbound"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/retry"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/sweep"
	"github.com/AntonStoeckl/lending-ledger-go/storage/memory"
	"github.com/AntonStoeckl/lending-ledger-go/storage/postgres"
)

const instrumentationName = "github.com/AntonStoeckl/lending-ledger-go"

const (
	queueNotifications = "notifications"
	queueAudit         = "audit"
)

const (
	logMsgStoreOpened = "store opened"
	logAttrStore      = "store"
	logAttrDriver     = "driver"
	logAttrService    = "service"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	contextual ledger.ContextualLogger
	prometheus *observability.PrometheusMetrics
	metrics    ledger.MetricsCollector
	tracing    ledger.TracingCollector
	providers  *observability.Providers

	store         ledger.Store
	postgresStore *postgres.Store

	notifications *outbound.Queue[notify.Event]
	audit         *outbound.Queue[audit.Record]

	closers []func()
}

// newApp sets up logging, observability and the store. Queues are created but not started.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.contextual = a.logger

	providers, err := observability.SetupOTel(ctx, observability.OTelSettings{
		ServiceName:     cfg.OTel.ServiceName,
		ServiceVersion:  getVersion(),
		TracesEndpoint:  cfg.OTel.TracesEndpoint,
		MetricsEndpoint: cfg.OTel.MetricsEndpoint,
		LogsEndpoint:    cfg.OTel.LogsEndpoint,
		Insecure:        cfg.OTel.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("set up opentelemetry: %w", err)
	}
	a.providers = providers

	if cfg.Log.OTel {
		a.contextual = observability.NewSlogBridgeLogger(instrumentationName, logAttrService, cfg.OTel.ServiceName)
	}

	a.prometheus = observability.NewPrometheusMetrics()
	a.metrics = a.prometheus
	if cfg.OTel.MetricsEndpoint != "" {
		a.metrics = observability.NewFanOutMetrics(a.prometheus, observability.NewOTelMetrics(providers.Meter(instrumentationName)))
	}

	if cfg.OTel.TracesEndpoint != "" {
		a.tracing = observability.NewTracingCollector(providers.Tracer(instrumentationName))
	}

	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	if err := a.buildQueues(); err != nil {
		a.close(ctx)
		return nil, err
	}

	return a, nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	options := &slog.HandlerOptions{Level: level}

	if cfg.Format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(os.Stdout, options)), nil
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, options)), nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Store == config.StoreMemory {
		a.store = memory.NewStore()
		a.logger.InfoContext(ctx, logMsgStoreOpened, logAttrStore, config.StoreMemory)

		return nil
	}

	options := []postgres.Option{
		postgres.WithContextualLogger(a.contextual),
		postgres.WithMetrics(a.metrics),
	}
	if a.tracing != nil {
		options = append(options, postgres.WithTracing(a.tracing))
	}

	var store *postgres.Store
	var err error

	switch a.cfg.Postgres.Driver {
	case config.DriverSQL:
		db, openErr := a.cfg.Postgres.OpenSQLDB(ctx)
		if openErr != nil {
			return openErr
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		store, err = postgres.NewStoreFromSQLDB(db, options...)

	case config.DriverSQLX:
		db, openErr := a.cfg.Postgres.OpenSQLX(ctx)
		if openErr != nil {
			return openErr
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		store, err = postgres.NewStoreFromSQLX(db, options...)

	default:
		pool, openErr := a.cfg.Postgres.OpenPGXPool(ctx)
		if openErr != nil {
			return openErr
		}
		a.closers = append(a.closers, pool.Close)

		if a.cfg.Postgres.ReplicaDSN == "" {
			store, err = postgres.NewStoreFromPGXPool(pool, options...)
			break
		}

		replica, replicaErr := a.cfg.Postgres.OpenPGXReplicaPool(ctx)
		if replicaErr != nil {
			return replicaErr
		}
		a.closers = append(a.closers, replica.Close)
		store, err = postgres.NewStoreFromPGXPoolAndReplica(pool, replica, options...)
	}

	if err != nil {
		return fmt.Errorf("create postgres store: %w", err)
	}

	a.store = store
	a.postgresStore = store
	a.logger.InfoContext(ctx, logMsgStoreOpened, logAttrStore, config.StorePostgres, logAttrDriver, a.cfg.Postgres.Driver)

	return nil
}

func (a *app) buildQueues() error {
	var notificationSink outbound.Sink[notify.Event] = notify.NewLogSink(a.contextual)
	if len(a.cfg.Notify.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(a.cfg.Notify.KafkaBrokers, a.cfg.Notify.KafkaTopic)
		a.closers = append(a.closers, func() { _ = kafkaSink.Close() })
		notificationSink = outbound.FanOut[notify.Event](notificationSink, kafkaSink)
	}

	notifications, err := outbound.NewQueue(queueNotifications, notificationSink,
		outbound.WithCapacity(a.cfg.Notify.QueueSize),
		outbound.WithWorkers(a.cfg.Notify.Workers),
		outbound.WithDeliveryTimeout(a.cfg.Notify.DeliveryTimeout),
		outbound.WithContextualLogger(a.contextual),
		outbound.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	var auditSink outbound.Sink[audit.Record] = audit.NewLogSink(a.contextual)
	if a.cfg.Audit.Sink == config.AuditSinkPostgres {
		if a.postgresStore == nil {
			return errors.New("the postgres audit sink needs the postgres store")
		}
		auditSink = a.postgresStore.AuditJournal()
	}

	auditQueue, err := outbound.NewQueue(queueAudit, auditSink,
		outbound.WithCapacity(a.cfg.Audit.QueueSize),
		outbound.WithWorkers(a.cfg.Audit.Workers),
		outbound.WithContextualLogger(a.contextual),
		outbound.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.notifications = notifications
	a.audit = auditQueue

	return nil
}

// startQueues launches the delivery workers. They outlive ctx only until close drains them.
func (a *app) startQueues(ctx context.Context) {
	a.notifications.Start(ctx)
	a.audit.Start(ctx)
}

func (a *app) newEngine() (*engine.Engine, error) {
	options := []engine.Option{
		engine.WithClock(a.cfg.Clock()),
		engine.WithCommitTimeout(a.cfg.Engine.CommitTimeout),
		engine.WithNotifications(a.notifications),
		engine.WithAudit(a.audit),
		engine.WithContextualLogger(a.contextual),
		engine.WithMetrics(a.metrics),
	}
	if a.tracing != nil {
		options = append(options, engine.WithTracing(a.tracing))
	}

	return engine.NewEngine(a.store, options...)
}

func (a *app) newSweeper(e *engine.Engine) (*sweep.Sweeper, error) {
	return sweep.NewSweeper(a.store, e,
		sweep.WithWorkers(a.cfg.Sweep.Workers),
		sweep.WithRetryOptions(a.retryOptions()...),
		sweep.WithNotifications(a.notifications),
		sweep.WithAudit(a.audit),
		sweep.WithContextualLogger(a.contextual),
		sweep.WithMetrics(a.metrics),
	)
}

func (a *app) retryOptions() []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(a.cfg.Retry.MaxAttempts),
		retry.WithBaseDelay(a.cfg.Retry.BaseDelay),
		retry.WithJitterFactor(a.cfg.Retry.JitterFactor),
	}
}

// close drains the queues and releases connections and exporters, in that order.
func (a *app) close(ctx context.Context) {
	if a.notifications != nil {
		a.notifications.Close()
	}

	if a.audit != nil {
		a.audit.Close()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}

	if a.providers != nil {
		if err := a.providers.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.WarnContext(ctx, "opentelemetry shutdown failed", "error", err.Error())
		}
	}
}

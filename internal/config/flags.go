package config

import (
	"github.com/spf13/pflag"
)

// Flag names. The same names key the changed map that keeps file and environment values
// from overriding explicit flags.
const (
	FlagConfig                  = "config"
	FlagStore                   = "store"
	FlagLogLevel                = "log-level"
	FlagLogFormat               = "log-format"
	FlagLogOTel                 = "log-otel"
	FlagHTTPAddr                = "http-addr"
	FlagHTTPReadTimeout         = "http-read-timeout"
	FlagHTTPWriteTimeout        = "http-write-timeout"
	FlagHTTPShutdownTimeout     = "http-shutdown-timeout"
	FlagPostgresDSN             = "postgres-dsn"
	FlagPostgresReplicaDSN      = "postgres-replica-dsn"
	FlagPostgresDriver          = "postgres-driver"
	FlagPostgresMaxConns        = "postgres-max-conns"
	FlagPostgresMinConns        = "postgres-min-conns"
	FlagPostgresMaxConnLifetime = "postgres-max-conn-lifetime"
	FlagPostgresMaxConnIdleTime = "postgres-max-conn-idle-time"
	FlagPostgresConnectTimeout  = "postgres-connect-timeout"
	FlagSweepInterval           = "sweep-interval"
	FlagSweepWorkers            = "sweep-workers"
	FlagSweepTimezone           = "sweep-timezone"
	FlagNotifyQueueSize         = "notify-queue-size"
	FlagNotifyWorkers           = "notify-workers"
	FlagNotifyDeliveryTimeout   = "notify-delivery-timeout"
	FlagKafkaBrokers            = "kafka-brokers"
	FlagKafkaTopic              = "kafka-topic"
	FlagAuditSink               = "audit-sink"
	FlagAuditQueueSize          = "audit-queue-size"
	FlagAuditWorkers            = "audit-workers"
	FlagCommitTimeout           = "commit-timeout"
	FlagRetryMaxAttempts        = "retry-max-attempts"
	FlagRetryBaseDelay          = "retry-base-delay"
	FlagRetryJitter             = "retry-jitter"
	FlagOTelServiceName         = "otel-service-name"
	FlagOTelTracesEndpoint      = "otel-traces-endpoint"
	FlagOTelMetricsEndpoint     = "otel-metrics-endpoint"
	FlagOTelLogsEndpoint        = "otel-logs-endpoint"
	FlagOTelInsecure            = "otel-insecure"
)

// BindFlags registers one flag per setting on fs, writing into cfg and showing its current
// values as defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Store, FlagStore, cfg.Store, "store backend: postgres or memory")

	fs.StringVar(&cfg.Log.Level, FlagLogLevel, cfg.Log.Level, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.Log.Format, FlagLogFormat, cfg.Log.Format, "log format: json or text")
	fs.BoolVar(&cfg.Log.OTel, FlagLogOTel, cfg.Log.OTel, "route logs through the OpenTelemetry slog bridge")

	fs.StringVar(&cfg.HTTP.Addr, FlagHTTPAddr, cfg.HTTP.Addr, "HTTP listen address")
	fs.DurationVar(&cfg.HTTP.ReadTimeout, FlagHTTPReadTimeout, cfg.HTTP.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&cfg.HTTP.WriteTimeout, FlagHTTPWriteTimeout, cfg.HTTP.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&cfg.HTTP.ShutdownTimeout, FlagHTTPShutdownTimeout, cfg.HTTP.ShutdownTimeout, "graceful shutdown timeout")

	fs.StringVar(&cfg.Postgres.DSN, FlagPostgresDSN, cfg.Postgres.DSN, "Postgres connection string")
	fs.StringVar(&cfg.Postgres.ReplicaDSN, FlagPostgresReplicaDSN, cfg.Postgres.ReplicaDSN, "Postgres read replica connection string (pgx driver only)")
	fs.StringVar(&cfg.Postgres.Driver, FlagPostgresDriver, cfg.Postgres.Driver, "Postgres driver: pgx, sql or sqlx")
	fs.IntVar(&cfg.Postgres.MaxConns, FlagPostgresMaxConns, cfg.Postgres.MaxConns, "maximum open connections")
	fs.IntVar(&cfg.Postgres.MinConns, FlagPostgresMinConns, cfg.Postgres.MinConns, "minimum (pgx) or idle (sql, sqlx) connections")
	fs.DurationVar(&cfg.Postgres.MaxConnLifetime, FlagPostgresMaxConnLifetime, cfg.Postgres.MaxConnLifetime, "maximum connection lifetime")
	fs.DurationVar(&cfg.Postgres.MaxConnIdleTime, FlagPostgresMaxConnIdleTime, cfg.Postgres.MaxConnIdleTime, "maximum connection idle time")
	fs.DurationVar(&cfg.Postgres.ConnectTimeout, FlagPostgresConnectTimeout, cfg.Postgres.ConnectTimeout, "connect timeout")

	fs.DurationVar(&cfg.Sweep.Interval, FlagSweepInterval, cfg.Sweep.Interval, "how often the scheduler checks for a due pass")
	fs.IntVar(&cfg.Sweep.Workers, FlagSweepWorkers, cfg.Sweep.Workers, "loans transitioned in parallel")
	fs.StringVar(&cfg.Sweep.Timezone, FlagSweepTimezone, cfg.Sweep.Timezone, "IANA timezone deciding the ledger day")

	fs.IntVar(&cfg.Notify.QueueSize, FlagNotifyQueueSize, cfg.Notify.QueueSize, "notifications buffered before dropping")
	fs.IntVar(&cfg.Notify.Workers, FlagNotifyWorkers, cfg.Notify.Workers, "notification delivery workers")
	fs.DurationVar(&cfg.Notify.DeliveryTimeout, FlagNotifyDeliveryTimeout, cfg.Notify.DeliveryTimeout, "timeout of one notification delivery")
	fs.StringSliceVar(&cfg.Notify.KafkaBrokers, FlagKafkaBrokers, cfg.Notify.KafkaBrokers, "Kafka brokers for notifications (logs only when empty)")
	fs.StringVar(&cfg.Notify.KafkaTopic, FlagKafkaTopic, cfg.Notify.KafkaTopic, "Kafka topic for notifications")

	fs.StringVar(&cfg.Audit.Sink, FlagAuditSink, cfg.Audit.Sink, "audit sink: log or postgres")
	fs.IntVar(&cfg.Audit.QueueSize, FlagAuditQueueSize, cfg.Audit.QueueSize, "audit records buffered before dropping")
	fs.IntVar(&cfg.Audit.Workers, FlagAuditWorkers, cfg.Audit.Workers, "audit delivery workers")

	fs.DurationVar(&cfg.Engine.CommitTimeout, FlagCommitTimeout, cfg.Engine.CommitTimeout, "upper bound of a detached transaction")

	fs.IntVar(&cfg.Retry.MaxAttempts, FlagRetryMaxAttempts, cfg.Retry.MaxAttempts, "attempts of an operation that hit a conflict")
	fs.DurationVar(&cfg.Retry.BaseDelay, FlagRetryBaseDelay, cfg.Retry.BaseDelay, "delay before the first retry")
	fs.Float64Var(&cfg.Retry.JitterFactor, FlagRetryJitter, cfg.Retry.JitterFactor, "random extra delay as a share of the backoff")

	fs.StringVar(&cfg.OTel.ServiceName, FlagOTelServiceName, cfg.OTel.ServiceName, "service name reported to OpenTelemetry")
	fs.StringVar(&cfg.OTel.TracesEndpoint, FlagOTelTracesEndpoint, cfg.OTel.TracesEndpoint, "OTLP gRPC endpoint for traces")
	fs.StringVar(&cfg.OTel.MetricsEndpoint, FlagOTelMetricsEndpoint, cfg.OTel.MetricsEndpoint, "OTLP gRPC endpoint for metrics")
	fs.StringVar(&cfg.OTel.LogsEndpoint, FlagOTelLogsEndpoint, cfg.OTel.LogsEndpoint, "OTLP HTTP endpoint for logs")
	fs.BoolVar(&cfg.OTel.Insecure, FlagOTelInsecure, cfg.OTel.Insecure, "talk to the OTLP endpoints without TLS")
}

// ChangedFlags returns the names of the flags set on the command line.
func ChangedFlags(fs *pflag.FlagSet) map[string]bool {
	changed := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	return changed
}

// Resolve applies the TOML file at path (skipped when path is empty) and then the LEDGER_*
// environment to cfg, leaving every setting named in changed untouched, and validates the result.
func Resolve(cfg *Config, path string, changed map[string]bool) error {
	if path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return err
		}

		if err := applyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := applyEnvConfig(cfg, changed); err != nil {
		return err
	}

	return cfg.Validate()
}

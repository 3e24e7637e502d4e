package config

import (
	"os"
	"time"
)

// Environment variable names.
const (
	EnvStore                   = "LEDGER_STORE"
	EnvLogLevel                = "LEDGER_LOG_LEVEL"
	EnvLogFormat               = "LEDGER_LOG_FORMAT"
	EnvLogOTel                 = "LEDGER_LOG_OTEL"
	EnvHTTPAddr                = "LEDGER_HTTP_ADDR"
	EnvHTTPReadTimeout         = "LEDGER_HTTP_READ_TIMEOUT"
	EnvHTTPWriteTimeout        = "LEDGER_HTTP_WRITE_TIMEOUT"
	EnvHTTPShutdownTimeout     = "LEDGER_HTTP_SHUTDOWN_TIMEOUT"
	EnvPostgresDSN             = "LEDGER_POSTGRES_DSN"
	EnvPostgresReplicaDSN      = "LEDGER_POSTGRES_REPLICA_DSN"
	EnvPostgresDriver          = "LEDGER_POSTGRES_DRIVER"
	EnvPostgresMaxConns        = "LEDGER_POSTGRES_MAX_CONNS"
	EnvPostgresMinConns        = "LEDGER_POSTGRES_MIN_CONNS"
	EnvPostgresMaxConnLifetime = "LEDGER_POSTGRES_MAX_CONN_LIFETIME"
	EnvPostgresMaxConnIdleTime = "LEDGER_POSTGRES_MAX_CONN_IDLE_TIME"
	EnvPostgresConnectTimeout  = "LEDGER_POSTGRES_CONNECT_TIMEOUT"
	EnvSweepInterval           = "LEDGER_SWEEP_INTERVAL"
	EnvSweepWorkers            = "LEDGER_SWEEP_WORKERS"
	EnvSweepTimezone           = "LEDGER_SWEEP_TIMEZONE"
	EnvNotifyQueueSize         = "LEDGER_NOTIFY_QUEUE_SIZE"
	EnvNotifyWorkers           = "LEDGER_NOTIFY_WORKERS"
	EnvNotifyDeliveryTimeout   = "LEDGER_NOTIFY_DELIVERY_TIMEOUT"
	EnvKafkaBrokers            = "LEDGER_KAFKA_BROKERS"
	EnvKafkaTopic              = "LEDGER_KAFKA_TOPIC"
	EnvAuditSink               = "LEDGER_AUDIT_SINK"
	EnvAuditQueueSize          = "LEDGER_AUDIT_QUEUE_SIZE"
	EnvAuditWorkers            = "LEDGER_AUDIT_WORKERS"
	EnvCommitTimeout           = "LEDGER_COMMIT_TIMEOUT"
	EnvRetryMaxAttempts        = "LEDGER_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay          = "LEDGER_RETRY_BASE_DELAY"
	EnvRetryJitter             = "LEDGER_RETRY_JITTER"
	EnvOTelServiceName         = "LEDGER_OTEL_SERVICE_NAME"
	EnvOTelTracesEndpoint      = "LEDGER_OTEL_TRACES_ENDPOINT"
	EnvOTelMetricsEndpoint     = "LEDGER_OTEL_METRICS_ENDPOINT"
	EnvOTelLogsEndpoint        = "LEDGER_OTEL_LOGS_ENDPOINT"
	EnvOTelInsecure            = "LEDGER_OTEL_INSECURE"
)

// applyEnvConfig applies the LEDGER_* environment to cfg, skipping every setting whose flag
// was set explicitly. It fails on the first variable with an invalid format.
func applyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString(FlagStore, os.Getenv(EnvStore), &cfg.Store)
	s.setString(FlagLogLevel, os.Getenv(EnvLogLevel), &cfg.Log.Level)
	s.setString(FlagLogFormat, os.Getenv(EnvLogFormat), &cfg.Log.Format)
	s.setString(FlagHTTPAddr, os.Getenv(EnvHTTPAddr), &cfg.HTTP.Addr)
	s.setString(FlagPostgresDSN, os.Getenv(EnvPostgresDSN), &cfg.Postgres.DSN)
	s.setString(FlagPostgresReplicaDSN, os.Getenv(EnvPostgresReplicaDSN), &cfg.Postgres.ReplicaDSN)
	s.setString(FlagPostgresDriver, os.Getenv(EnvPostgresDriver), &cfg.Postgres.Driver)
	s.setString(FlagSweepTimezone, os.Getenv(EnvSweepTimezone), &cfg.Sweep.Timezone)
	s.setListFromString(FlagKafkaBrokers, os.Getenv(EnvKafkaBrokers), &cfg.Notify.KafkaBrokers)
	s.setString(FlagKafkaTopic, os.Getenv(EnvKafkaTopic), &cfg.Notify.KafkaTopic)
	s.setString(FlagAuditSink, os.Getenv(EnvAuditSink), &cfg.Audit.Sink)
	s.setString(FlagOTelServiceName, os.Getenv(EnvOTelServiceName), &cfg.OTel.ServiceName)
	s.setString(FlagOTelTracesEndpoint, os.Getenv(EnvOTelTracesEndpoint), &cfg.OTel.TracesEndpoint)
	s.setString(FlagOTelMetricsEndpoint, os.Getenv(EnvOTelMetricsEndpoint), &cfg.OTel.MetricsEndpoint)
	s.setString(FlagOTelLogsEndpoint, os.Getenv(EnvOTelLogsEndpoint), &cfg.OTel.LogsEndpoint)

	if err := s.setBoolFromString(FlagLogOTel, os.Getenv(EnvLogOTel), &cfg.Log.OTel); err != nil {
		return err
	}

	if err := s.setBoolFromString(FlagOTelInsecure, os.Getenv(EnvOTelInsecure), &cfg.OTel.Insecure); err != nil {
		return err
	}

	if err := s.setFloatFromString(FlagRetryJitter, os.Getenv(EnvRetryJitter), &cfg.Retry.JitterFactor); err != nil {
		return err
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{FlagPostgresMaxConns, EnvPostgresMaxConns, &cfg.Postgres.MaxConns},
		{FlagPostgresMinConns, EnvPostgresMinConns, &cfg.Postgres.MinConns},
		{FlagSweepWorkers, EnvSweepWorkers, &cfg.Sweep.Workers},
		{FlagNotifyQueueSize, EnvNotifyQueueSize, &cfg.Notify.QueueSize},
		{FlagNotifyWorkers, EnvNotifyWorkers, &cfg.Notify.Workers},
		{FlagAuditQueueSize, EnvAuditQueueSize, &cfg.Audit.QueueSize},
		{FlagAuditWorkers, EnvAuditWorkers, &cfg.Audit.Workers},
		{FlagRetryMaxAttempts, EnvRetryMaxAttempts, &cfg.Retry.MaxAttempts},
	}

	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{FlagHTTPReadTimeout, EnvHTTPReadTimeout, &cfg.HTTP.ReadTimeout},
		{FlagHTTPWriteTimeout, EnvHTTPWriteTimeout, &cfg.HTTP.WriteTimeout},
		{FlagHTTPShutdownTimeout, EnvHTTPShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{FlagPostgresMaxConnLifetime, EnvPostgresMaxConnLifetime, &cfg.Postgres.MaxConnLifetime},
		{FlagPostgresMaxConnIdleTime, EnvPostgresMaxConnIdleTime, &cfg.Postgres.MaxConnIdleTime},
		{FlagPostgresConnectTimeout, EnvPostgresConnectTimeout, &cfg.Postgres.ConnectTimeout},
		{FlagSweepInterval, EnvSweepInterval, &cfg.Sweep.Interval},
		{FlagNotifyDeliveryTimeout, EnvNotifyDeliveryTimeout, &cfg.Notify.DeliveryTimeout},
		{FlagCommitTimeout, EnvCommitTimeout, &cfg.Engine.CommitTimeout},
		{FlagRetryBaseDelay, EnvRetryBaseDelay, &cfg.Retry.BaseDelay},
	}

	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	return nil
}

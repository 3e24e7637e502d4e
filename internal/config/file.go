package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config with strings for durations and pointers where zero is a valid value.
type fileConfig struct {
	Store string `toml:"store"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		OTel   *bool  `toml:"otel"`
	} `toml:"log"`

	HTTP struct {
		Addr            string `toml:"addr"`
		ReadTimeout     string `toml:"read_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
	} `toml:"http"`

	Postgres struct {
		DSN             string `toml:"dsn"`
		ReplicaDSN      string `toml:"replica_dsn"`
		Driver          string `toml:"driver"`
		MaxConns        int    `toml:"max_conns"`
		MinConns        int    `toml:"min_conns"`
		MaxConnLifetime string `toml:"max_conn_lifetime"`
		MaxConnIdleTime string `toml:"max_conn_idle_time"`
		ConnectTimeout  string `toml:"connect_timeout"`
	} `toml:"postgres"`

	Sweep struct {
		Interval string `toml:"interval"`
		Workers  int    `toml:"workers"`
		Timezone string `toml:"timezone"`
	} `toml:"sweep"`

	Notify struct {
		QueueSize       int      `toml:"queue_size"`
		Workers         int      `toml:"workers"`
		DeliveryTimeout string   `toml:"delivery_timeout"`
		KafkaBrokers    []string `toml:"kafka_brokers"`
		KafkaTopic      string   `toml:"kafka_topic"`
	} `toml:"notify"`

	Audit struct {
		Sink      string `toml:"sink"`
		QueueSize int    `toml:"queue_size"`
		Workers   int    `toml:"workers"`
	} `toml:"audit"`

	Engine struct {
		CommitTimeout string `toml:"commit_timeout"`
	} `toml:"engine"`

	Retry struct {
		MaxAttempts  int      `toml:"max_attempts"`
		BaseDelay    string   `toml:"base_delay"`
		JitterFactor *float64 `toml:"jitter_factor"`
	} `toml:"retry"`

	OTel struct {
		ServiceName     string `toml:"service_name"`
		TracesEndpoint  string `toml:"traces_endpoint"`
		MetricsEndpoint string `toml:"metrics_endpoint"`
		LogsEndpoint    string `toml:"logs_endpoint"`
		Insecure        *bool  `toml:"insecure"`
	} `toml:"otel"`
}

// loadFileConfig reads and parses a TOML config file. Unknown keys are an error.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig

	f, err := os.Open(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	decoder := toml.NewDecoder(f)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return fc, nil
}

// applyFileConfig applies fc to cfg, skipping every setting whose flag was set explicitly.
func applyFileConfig(cfg *Config, fc fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString(FlagStore, fc.Store, &cfg.Store)

	s.setString(FlagLogLevel, fc.Log.Level, &cfg.Log.Level)
	s.setString(FlagLogFormat, fc.Log.Format, &cfg.Log.Format)
	s.setBool(FlagLogOTel, fc.Log.OTel, &cfg.Log.OTel)

	s.setString(FlagHTTPAddr, fc.HTTP.Addr, &cfg.HTTP.Addr)
	s.setString(FlagPostgresDSN, fc.Postgres.DSN, &cfg.Postgres.DSN)
	s.setString(FlagPostgresReplicaDSN, fc.Postgres.ReplicaDSN, &cfg.Postgres.ReplicaDSN)
	s.setString(FlagPostgresDriver, fc.Postgres.Driver, &cfg.Postgres.Driver)
	s.setInt(FlagPostgresMaxConns, fc.Postgres.MaxConns, &cfg.Postgres.MaxConns)
	s.setInt(FlagPostgresMinConns, fc.Postgres.MinConns, &cfg.Postgres.MinConns)
	s.setInt(FlagSweepWorkers, fc.Sweep.Workers, &cfg.Sweep.Workers)
	s.setString(FlagSweepTimezone, fc.Sweep.Timezone, &cfg.Sweep.Timezone)
	s.setInt(FlagNotifyQueueSize, fc.Notify.QueueSize, &cfg.Notify.QueueSize)
	s.setInt(FlagNotifyWorkers, fc.Notify.Workers, &cfg.Notify.Workers)
	s.setStrings(FlagKafkaBrokers, fc.Notify.KafkaBrokers, &cfg.Notify.KafkaBrokers)
	s.setString(FlagKafkaTopic, fc.Notify.KafkaTopic, &cfg.Notify.KafkaTopic)
	s.setString(FlagAuditSink, fc.Audit.Sink, &cfg.Audit.Sink)
	s.setInt(FlagAuditQueueSize, fc.Audit.QueueSize, &cfg.Audit.QueueSize)
	s.setInt(FlagAuditWorkers, fc.Audit.Workers, &cfg.Audit.Workers)
	s.setInt(FlagRetryMaxAttempts, fc.Retry.MaxAttempts, &cfg.Retry.MaxAttempts)
	s.setFloat(FlagRetryJitter, fc.Retry.JitterFactor, &cfg.Retry.JitterFactor)
	s.setString(FlagOTelServiceName, fc.OTel.ServiceName, &cfg.OTel.ServiceName)
	s.setString(FlagOTelTracesEndpoint, fc.OTel.TracesEndpoint, &cfg.OTel.TracesEndpoint)
	s.setString(FlagOTelMetricsEndpoint, fc.OTel.MetricsEndpoint, &cfg.OTel.MetricsEndpoint)
	s.setString(FlagOTelLogsEndpoint, fc.OTel.LogsEndpoint, &cfg.OTel.LogsEndpoint)
	s.setBool(FlagOTelInsecure, fc.OTel.Insecure, &cfg.OTel.Insecure)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{FlagHTTPReadTimeout, fc.HTTP.ReadTimeout, &cfg.HTTP.ReadTimeout},
		{FlagHTTPWriteTimeout, fc.HTTP.WriteTimeout, &cfg.HTTP.WriteTimeout},
		{FlagHTTPShutdownTimeout, fc.HTTP.ShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{FlagPostgresMaxConnLifetime, fc.Postgres.MaxConnLifetime, &cfg.Postgres.MaxConnLifetime},
		{FlagPostgresMaxConnIdleTime, fc.Postgres.MaxConnIdleTime, &cfg.Postgres.MaxConnIdleTime},
		{FlagPostgresConnectTimeout, fc.Postgres.ConnectTimeout, &cfg.Postgres.ConnectTimeout},
		{FlagSweepInterval, fc.Sweep.Interval, &cfg.Sweep.Interval},
		{FlagNotifyDeliveryTimeout, fc.Notify.DeliveryTimeout, &cfg.Notify.DeliveryTimeout},
		{FlagCommitTimeout, fc.Engine.CommitTimeout, &cfg.Engine.CommitTimeout},
		{FlagRetryBaseDelay, fc.Retry.BaseDelay, &cfg.Retry.BaseDelay},
	}

	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	return nil
}

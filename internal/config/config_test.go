package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/internal/config"
)

const sampleFile = `
store = "memory"

[log]
level = "debug"
otel = true

[http]
addr = ":9090"
read_timeout = "3s"

[sweep]
interval = "15m"
workers = 8
timezone = "Europe/Berlin"

[notify]
kafka_brokers = ["kafka-1:9092", "kafka-2:9092"]
kafka_topic = "loans"

[retry]
max_attempts = 3
base_delay = "25ms"
jitter_factor = 0.0
`

func Test_DefaultConfig_IsValid(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()

	// act
	err := cfg.Validate()

	// assert
	assert.NoError(t, err)
}

func Test_Validate_RejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "unknown store", mutate: func(cfg *config.Config) { cfg.Store = "sqlite" }},
		{name: "unknown driver", mutate: func(cfg *config.Config) { cfg.Postgres.Driver = "mysql" }},
		{name: "empty dsn", mutate: func(cfg *config.Config) { cfg.Postgres.DSN = "" }},
		{name: "replica without pgx", mutate: func(cfg *config.Config) {
			cfg.Postgres.Driver = config.DriverSQL
			cfg.Postgres.ReplicaDSN = "postgres://replica/ledger"
		}},
		{name: "min conns above max", mutate: func(cfg *config.Config) { cfg.Postgres.MinConns = 20 }},
		{name: "zero sweep interval", mutate: func(cfg *config.Config) { cfg.Sweep.Interval = 0 }},
		{name: "unknown timezone", mutate: func(cfg *config.Config) { cfg.Sweep.Timezone = "Mars/Olympus" }},
		{name: "brokers without topic", mutate: func(cfg *config.Config) {
			cfg.Notify.KafkaBrokers = []string{"localhost:9092"}
			cfg.Notify.KafkaTopic = ""
		}},
		{name: "postgres audit on memory store", mutate: func(cfg *config.Config) {
			cfg.Store = config.StoreMemory
			cfg.Audit.Sink = config.AuditSinkPostgres
		}},
		{name: "jitter above one", mutate: func(cfg *config.Config) { cfg.Retry.JitterFactor = 1.5 }},
		{name: "unknown log level", mutate: func(cfg *config.Config) { cfg.Log.Level = "trace" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			cfg := config.DefaultConfig()
			tc.mutate(&cfg)

			// act
			err := cfg.Validate()

			// assert
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func Test_Validate_IgnoresPostgresSettingsForMemoryStore(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	cfg.Store = config.StoreMemory
	cfg.Postgres.DSN = ""
	cfg.Postgres.Driver = ""

	// act
	err := cfg.Validate()

	// assert
	assert.NoError(t, err)
}

func Test_Resolve_AppliesFile(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	path := givenConfigFile(t, sampleFile)

	// act
	err := config.Resolve(&cfg, path, map[string]bool{})

	// assert
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.OTel)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout, "unset keys keep their default")
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 8, cfg.Sweep.Workers)
	assert.Equal(t, "Europe/Berlin", cfg.Sweep.Timezone)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, "loans", cfg.Notify.KafkaTopic)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Zero(t, cfg.Retry.JitterFactor)
}

func Test_Resolve_FlagsWinOverEnvironmentAndFile(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"--http-addr=:7000", "--sweep-workers=2"}))

	t.Setenv(config.EnvHTTPAddr, ":8000")
	t.Setenv(config.EnvSweepWorkers, "16")
	path := givenConfigFile(t, sampleFile)

	// act
	err := config.Resolve(&cfg, path, config.ChangedFlags(fs))

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.Sweep.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval, "file applies where no flag was set")
}

func Test_Resolve_EnvironmentWinsOverFile(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	t.Setenv(config.EnvHTTPAddr, ":8000")
	t.Setenv(config.EnvKafkaBrokers, "a:9092, b:9092,")
	t.Setenv(config.EnvCommitTimeout, "2s")
	path := givenConfigFile(t, sampleFile)

	// act
	err := config.Resolve(&cfg, path, map[string]bool{})

	// assert
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.Engine.CommitTimeout)
}

func Test_Resolve_FailsOnMalformedEnvironment(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	t.Setenv(config.EnvSweepWorkers, "many")

	// act
	err := config.Resolve(&cfg, "", map[string]bool{})

	// assert
	assert.ErrorContains(t, err, config.FlagSweepWorkers)
}

func Test_Resolve_FailsOnUnknownFileKey(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	path := givenConfigFile(t, "[http]\nlisten = \":80\"\n")

	// act
	err := config.Resolve(&cfg, path, map[string]bool{})

	// assert
	assert.Error(t, err)
}

func Test_Resolve_FailsOnMissingFile(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()

	// act
	err := config.Resolve(&cfg, filepath.Join(t.TempDir(), "missing.toml"), map[string]bool{})

	// assert
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Resolve_ValidatesResult(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	path := givenConfigFile(t, "[postgres]\ndriver = \"oracle\"\n")

	// act
	err := config.Resolve(&cfg, path, map[string]bool{})

	// assert
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func Test_PGXPoolConfig_AppliesPoolSettings(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	cfg.Postgres.MaxConns = 12
	cfg.Postgres.MinConns = 3

	// act
	poolConfig, err := cfg.Postgres.PGXPoolConfig()

	// assert
	require.NoError(t, err)
	assert.Equal(t, int32(12), poolConfig.MaxConns)
	assert.Equal(t, int32(3), poolConfig.MinConns)
	assert.Equal(t, time.Hour, poolConfig.MaxConnLifetime)
	assert.Equal(t, 5*time.Second, poolConfig.ConnConfig.ConnectTimeout)
	assert.Equal(t, "ledger", poolConfig.ConnConfig.Database)
}

func Test_Clock_UsesSweepTimezone(t *testing.T) {
	// arrange
	cfg := config.DefaultConfig()
	cfg.Sweep.Timezone = "America/New_York"

	// act
	now := cfg.Clock()()

	// assert
	assert.Equal(t, "America/New_York", now.Location().String())
}

func givenConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() []Option {
	return []Option{
		WithSource(DatabaseConfig{
			Host:     "db.internal",
			Username: "bridge",
			Password: "secret",
			Database: "app",
		}),
		WithTarget(TargetConfig{
			URL:       "ws://docs.internal:8000/rpc",
			Namespace: "app",
			Database:  "mirror",
		}),
	}
}

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig(validOptions()...)

	assert.Equal(t, "docbridge", c.Name)
	assert.Equal(t, "change_log", c.ChangeTable)
	assert.Equal(t, 5432, c.Source.Port)
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, time.Second, c.SyncInterval)
	assert.Equal(t, 4, c.QueueCapacity)
	assert.Equal(t, 30*time.Second, c.EnqueueTimeout)
	assert.Equal(t, 30*time.Second, c.ShutdownTimeout)
	assert.Equal(t, CheckpointBackendSource, c.Checkpoint.Backend)
	assert.Equal(t, "sync_checkpoint", c.Checkpoint.Table)
	assert.Equal(t, logrus.InfoLevel, c.Logger.LogLevel)

	require.NoError(t, c.Validate())
}

func TestConfigOptions(t *testing.T) {
	c := NewConfig(append(validOptions(),
		WithName("orders_bridge"),
		WithChangeTable("audit.change_log"),
		WithBatchSize(250),
		WithSyncInterval(200*time.Millisecond),
		WithQueueCapacity(8),
		WithSourcePoolSize(4),
		WithLogLevel(logrus.DebugLevel),
	)...)

	assert.Equal(t, "orders_bridge", c.Name)
	assert.Equal(t, "audit.change_log", c.ChangeTable)
	assert.Equal(t, 250, c.BatchSize)
	assert.Equal(t, 200*time.Millisecond, c.SyncInterval)
	assert.Equal(t, 8, c.QueueCapacity)
	assert.Equal(t, 4, c.SourcePoolSize)
	require.NoError(t, c.Validate())
}

func TestValidateMissingFields(t *testing.T) {
	c := NewConfig()

	err := c.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "source.host")
	assert.Contains(t, msg, "source.username")
	assert.Contains(t, msg, "source.password")
	assert.Contains(t, msg, "source.database")
}

func TestValidateRejectsNonPositiveValues(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{name: "batch size", opt: WithBatchSize(-1), want: "batch size"},
		{name: "sync interval", opt: WithSyncInterval(-time.Second), want: "sync interval"},
		{name: "queue capacity", opt: WithQueueCapacity(-2), want: "queue capacity"},
		{name: "enqueue timeout", opt: WithEnqueueTimeout(-time.Second), want: "enqueue timeout"},
		{name: "source pool size", opt: WithSourcePoolSize(-1), want: "source pool size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig(append(validOptions(), tt.opt)...)

			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCheckpointBackend(t *testing.T) {
	c := NewConfig(append(validOptions(),
		WithCheckpoint(CheckpointConfig{Backend: "etcd"}),
	)...)
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint backend")

	// The sqlite backend needs a file path.
	c = NewConfig(append(validOptions(),
		WithCheckpoint(CheckpointConfig{Backend: CheckpointBackendSQLite}),
	)...)
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint.path")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DOCBRIDGE_NAME", "env_bridge")
	t.Setenv("DOCBRIDGE_SOURCE_HOST", "pg.internal")
	t.Setenv("DOCBRIDGE_SOURCE_USERNAME", "bridge")
	t.Setenv("DOCBRIDGE_SOURCE_PASSWORD", "secret")
	t.Setenv("DOCBRIDGE_SOURCE_DATABASE", "app")
	t.Setenv("DOCBRIDGE_TARGET_URL", "ws://docs.internal:8000/rpc")
	t.Setenv("DOCBRIDGE_BATCH_SIZE", "50")
	t.Setenv("DOCBRIDGE_SYNC_INTERVAL", "250ms")
	t.Setenv("DOCBRIDGE_CHECKPOINT_BACKEND", "sqlite")
	t.Setenv("DOCBRIDGE_CHECKPOINT_PATH", "/var/lib/docbridge/checkpoint.sqlite")
	t.Setenv("DOCBRIDGE_LOGGER_LOG_LEVEL", "debug")

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "env_bridge", c.Name)
	assert.Equal(t, "pg.internal", c.Source.Host)
	assert.Equal(t, 50, c.BatchSize)
	assert.Equal(t, 250*time.Millisecond, c.SyncInterval)
	assert.Equal(t, CheckpointBackendSQLite, c.Checkpoint.Backend)
	assert.Equal(t, logrus.DebugLevel, c.Logger.LogLevel)
	require.NoError(t, c.Validate())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Username: "bridge",
		Password: "p@ss/word",
		Database: "app",
	}

	dsn := d.DSN()
	assert.True(t, strings.HasPrefix(dsn, "postgres://"))
	assert.Contains(t, dsn, "db.internal:5433/app")
	assert.NotContains(t, dsn, "p@ss/word", "credentials must be escaped")
}

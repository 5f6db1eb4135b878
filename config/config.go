package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// CheckpointBackend selects where sync progress is persisted.
type CheckpointBackend string

const (
	CheckpointBackendSource CheckpointBackend = "source"
	CheckpointBackendSQLite CheckpointBackend = "sqlite"
	CheckpointBackendMemory CheckpointBackend = "memory"
)

type Config struct {
	Logger          LoggerConfig
	Checkpoint      CheckpointConfig
	Name            string        `envconfig:"NAME" default:"docbridge"`
	ChangeTable     string        `envconfig:"CHANGE_TABLE" default:"change_log"`
	Source          DatabaseConfig
	Target          TargetConfig
	BatchSize       int           `envconfig:"BATCH_SIZE" default:"100"`
	SyncInterval    time.Duration `envconfig:"SYNC_INTERVAL" default:"1s"`
	QueueCapacity   int           `envconfig:"QUEUE_CAPACITY" default:"4"`
	EnqueueTimeout  time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	SourcePoolSize  int           `envconfig:"SOURCE_POOL_SIZE" default:"2"`
}

// DatabaseConfig holds the connection parameters for the relational source.
// Immutable after construction.
type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"127.0.0.1"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	Database string `envconfig:"DATABASE"`
	Port     int    `envconfig:"PORT" default:"5432"`
}

// TargetConfig holds the connection parameters for the target document store.
type TargetConfig struct {
	URL       string `envconfig:"URL" default:"ws://127.0.0.1:8000/rpc"`
	Namespace string `envconfig:"NAMESPACE"`
	Database  string `envconfig:"DATABASE"`
	Username  string `envconfig:"USERNAME"`
	Password  string `envconfig:"PASSWORD"`
}

type CheckpointConfig struct {
	Backend CheckpointBackend `envconfig:"BACKEND" default:"source"`
	Table   string            `envconfig:"TABLE" default:"sync_checkpoint"`
	// Path is the SQLite file used when Backend is "sqlite".
	Path string `envconfig:"PATH"`
}

type LoggerConfig struct {
	LogLevel logrus.Level `envconfig:"LOG_LEVEL" default:"info"`
}

type Option func(*Config)

func NewConfig(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	c.SetDefault()
	return c
}

// FromEnv builds a Config from DOCBRIDGE_-prefixed environment variables,
// e.g. DOCBRIDGE_SOURCE_HOST, DOCBRIDGE_TARGET_URL, DOCBRIDGE_BATCH_SIZE.
func FromEnv() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process("docbridge", c); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	c.SetDefault()
	return c, nil
}

func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

func WithSource(source DatabaseConfig) Option {
	return func(c *Config) {
		c.Source = source
	}
}

func WithTarget(target TargetConfig) Option {
	return func(c *Config) {
		c.Target = target
	}
}

func WithChangeTable(table string) Option {
	return func(c *Config) {
		c.ChangeTable = table
	}
}

func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

func WithSyncInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.SyncInterval = interval
	}
}

func WithQueueCapacity(capacity int) Option {
	return func(c *Config) {
		c.QueueCapacity = capacity
	}
}

func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.EnqueueTimeout = timeout
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = timeout
	}
}

func WithSourcePoolSize(size int) Option {
	return func(c *Config) {
		c.SourcePoolSize = size
	}
}

func WithCheckpoint(cp CheckpointConfig) Option {
	return func(c *Config) {
		c.Checkpoint = cp
	}
}

func WithLogLevel(level logrus.Level) Option {
	return func(c *Config) {
		c.Logger.LogLevel = level
	}
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", url.QueryEscape(d.Username), url.QueryEscape(d.Password), d.Host, d.Port, d.Database)
}

func (c *Config) SetDefault() {
	if c.Name == "" {
		c.Name = "docbridge"
	}

	if c.ChangeTable == "" {
		c.ChangeTable = "change_log"
	}

	if c.Source.Port == 0 {
		c.Source.Port = 5432
	}

	if c.BatchSize == 0 {
		c.BatchSize = 100
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = time.Second
	}

	// Queue capacity is counted in batches, so the number of buffered
	// records is at most QueueCapacity*BatchSize.
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 4
	}

	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = 30 * time.Second
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	if c.SourcePoolSize == 0 {
		c.SourcePoolSize = 2
	}

	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = CheckpointBackendSource
	}

	if c.Checkpoint.Table == "" {
		c.Checkpoint.Table = "sync_checkpoint"
	}

	if c.Logger.LogLevel == 0 {
		c.Logger.LogLevel = logrus.InfoLevel
	}
}

func (c *Config) Validate() error {
	var err error

	if isEmpty(c.Name) {
		err = errors.Join(err, errors.New("name cannot be empty"))
	}

	if isEmpty(c.ChangeTable) {
		err = errors.Join(err, errors.New("change table cannot be empty"))
	}

	if isEmpty(c.Source.Host) {
		err = errors.Join(err, errors.New("source.host cannot be empty"))
	}

	if isEmpty(c.Source.Username) {
		err = errors.Join(err, errors.New("source.username cannot be empty"))
	}

	if isEmpty(c.Source.Password) {
		err = errors.Join(err, errors.New("source.password cannot be empty"))
	}

	if isEmpty(c.Source.Database) {
		err = errors.Join(err, errors.New("source.database cannot be empty"))
	}

	if isEmpty(c.Target.URL) {
		err = errors.Join(err, errors.New("target.url cannot be empty"))
	}

	if c.BatchSize <= 0 {
		err = errors.Join(err, errors.New("batch size must be greater than 0"))
	}

	if c.SyncInterval <= 0 {
		err = errors.Join(err, errors.New("sync interval must be greater than 0"))
	}

	if c.QueueCapacity <= 0 {
		err = errors.Join(err, errors.New("queue capacity must be greater than 0"))
	}

	if c.EnqueueTimeout <= 0 {
		err = errors.Join(err, errors.New("enqueue timeout must be greater than 0"))
	}

	if c.ShutdownTimeout <= 0 {
		err = errors.Join(err, errors.New("shutdown timeout must be greater than 0"))
	}

	if c.SourcePoolSize <= 0 {
		err = errors.Join(err, errors.New("source pool size must be greater than 0"))
	}

	switch c.Checkpoint.Backend {
	case CheckpointBackendSource, CheckpointBackendMemory:
	case CheckpointBackendSQLite:
		if isEmpty(c.Checkpoint.Path) {
			err = errors.Join(err, errors.New("checkpoint.path cannot be empty for the sqlite backend"))
		}
	default:
		err = errors.Join(err, fmt.Errorf("checkpoint backend must be one of 'source', 'sqlite' or 'memory', got %q", c.Checkpoint.Backend))
	}

	return err
}

func (c *Config) Print() {
	fmt.Printf("Config: Name=%s Source=%s:%d/%s Target=%s ChangeTable=%s BatchSize=%d\n",
		c.Name, c.Source.Host, c.Source.Port, c.Source.Database, c.Target.URL, c.ChangeTable, c.BatchSize)
}

func isEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

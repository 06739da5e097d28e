package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/broker"
	"github.com/petrijr/bgwork/pkg/cron"
	"github.com/petrijr/bgwork/pkg/worker"
)

// Broker kinds.
const (
	BrokerNone       = ""
	BrokerRedisQueue = "redis-queue"
	BrokerRedisLog   = "redis-log"
	BrokerRabbitMQ   = "rabbitmq"
)

// Checkpoint store kinds for the redis-log broker.
const (
	CheckpointMemory   = "memory"
	CheckpointSQLite   = "sqlite"
	CheckpointPostgres = "postgres"
	CheckpointMySQL    = "mysql"
	CheckpointMongo    = "mongo"
	CheckpointRedis    = "redis"
	CheckpointPebble   = "pebble"
)

// Config is the top-level configuration of the bgwork command.
type Config struct {
	Log             LogConfig     `json:"log" yaml:"log"`
	Channel         ChannelConfig `json:"channel" yaml:"channel"`
	Cron            CronConfig    `json:"cron" yaml:"cron"`
	Broker          BrokerConfig  `json:"broker" yaml:"broker"`
	Monitor         MonitorConfig `json:"monitor" yaml:"monitor"`
	ShutdownTimeout Duration      `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// ChannelConfig configures the in-process queue that every input feeds.
type ChannelConfig struct {
	Name            string   `json:"name" yaml:"name"`
	RetryAttempts   int      `json:"retryAttempts" yaml:"retryAttempts"`
	RetryDelay      Duration `json:"retryDelay" yaml:"retryDelay"`
	Timeout         Duration `json:"timeout" yaml:"timeout"`
	DrainOnShutdown bool     `json:"drainOnShutdown" yaml:"drainOnShutdown"`
	// Capacity bounds the queue; 0 is unbounded.
	Capacity int `json:"capacity" yaml:"capacity"`
}

// CronConfig configures an optional heartbeat that enqueues a tick item.
type CronConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	Name              string   `json:"name" yaml:"name"`
	Expression        string   `json:"expression" yaml:"expression"`
	IncludingSeconds  bool     `json:"includingSeconds" yaml:"includingSeconds"`
	WaitForCompletion bool     `json:"waitForCompletion" yaml:"waitForCompletion"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
	// Location is an IANA zone name; empty means local time.
	Location string `json:"location" yaml:"location"`
}

// BrokerConfig configures an optional external consumer relaying messages
// into the channel.
type BrokerConfig struct {
	Kind           string           `json:"kind" yaml:"kind"`
	Name           string           `json:"name" yaml:"name"`
	URL            string           `json:"url" yaml:"url"`
	Stream         string           `json:"stream" yaml:"stream"`
	Group          string           `json:"group" yaml:"group"`
	Consumer       string           `json:"consumer" yaml:"consumer"`
	Queue          string           `json:"queue" yaml:"queue"`
	DeadLetter     string           `json:"deadLetter" yaml:"deadLetter"`
	ClaimIdle      Duration         `json:"claimIdle" yaml:"claimIdle"`
	Prefetch       int              `json:"prefetch" yaml:"prefetch"`
	MaxWait        Duration         `json:"maxWait" yaml:"maxWait"`
	HandlerTimeout Duration         `json:"handlerTimeout" yaml:"handlerTimeout"`
	MaxDeliveries  int              `json:"maxDeliveries" yaml:"maxDeliveries"`
	Filter         string           `json:"filter" yaml:"filter"`
	Checkpoint     CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
}

type CheckpointConfig struct {
	Kind string `json:"kind" yaml:"kind"`
	// DSN is the connection string for SQL, Mongo and Redis stores.
	DSN string `json:"dsn" yaml:"dsn"`
	// Table is the SQL table or Mongo collection.
	Table string `json:"table" yaml:"table"`
	// Path is the Pebble directory.
	Path string `json:"path" yaml:"path"`
}

type MonitorConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Channel: ChannelConfig{
			Name:            "channel",
			RetryAttempts:   worker.DefaultRetryAttempts,
			RetryDelay:      Duration(worker.DefaultRetryDelay),
			Timeout:         Duration(worker.DefaultTimeout),
			DrainOnShutdown: true,
		},
		Cron: CronConfig{
			Name:              "heartbeat",
			Expression:        "@every 1m",
			WaitForCompletion: true,
			Timeout:           Duration(cron.DefaultTimeout),
		},
		Broker: BrokerConfig{
			Name:           "broker",
			MaxWait:        Duration(broker.DefaultMaxWait),
			HandlerTimeout: Duration(broker.DefaultHandlerTimeout),
			MaxDeliveries:  broker.DefaultMaxDeliveries,
			Checkpoint:     CheckpointConfig{Kind: CheckpointMemory},
		},
		Monitor:         MonitorConfig{Addr: ":8089"},
		ShutdownTimeout: Duration(30 * time.Second),
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// YAML renders cfg the way Load reads it.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports the first invalid value as a *api.ConfigError.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return api.NewConfigError("config", "log.level", "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return api.NewConfigError("config", "log.format", "must be text or json")
	}
	if c.ShutdownTimeout <= 0 {
		return api.NewConfigError("config", "shutdownTimeout", "must be > 0")
	}

	if c.Channel.Capacity < 0 {
		return api.NewConfigError("config", "channel.capacity", "must be >= 0")
	}
	wc := worker.Config[any]{
		RetryAttempts: c.Channel.RetryAttempts,
		RetryDelay:    c.Channel.RetryDelay.Std(),
		Timeout:       c.Channel.Timeout.Std(),
	}
	if err := wc.Validate(); err != nil {
		return err
	}

	if c.Cron.Enabled {
		if _, err := c.Cron.ServiceConfig(); err != nil {
			return err
		}
	}

	if err := c.Broker.validate(); err != nil {
		return err
	}

	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return api.NewConfigError("config", "monitor.addr", "must not be empty")
	}
	return nil
}

// ServiceConfig converts c into a validated cron.Config.
func (c CronConfig) ServiceConfig() (cron.Config, error) {
	cfg := cron.DefaultConfig(c.Expression)
	cfg.IncludingSeconds = c.IncludingSeconds
	cfg.WaitForCompletion = c.WaitForCompletion
	cfg.Timeout = c.Timeout.Std()
	if c.Location != "" {
		loc, err := time.LoadLocation(c.Location)
		if err != nil {
			return cron.Config{}, api.NewConfigError("config", "cron.location", err.Error())
		}
		cfg.Location = loc
	}
	if err := cfg.Validate(); err != nil {
		return cron.Config{}, err
	}
	return cfg, nil
}

func (b BrokerConfig) validate() error {
	switch b.Kind {
	case BrokerNone:
		return nil
	case BrokerRedisQueue, BrokerRedisLog:
		if b.Stream == "" {
			return api.NewConfigError("config", "broker.stream", "must not be empty")
		}
		if b.Group == "" {
			return api.NewConfigError("config", "broker.group", "must not be empty")
		}
	case BrokerRabbitMQ:
		if b.Queue == "" {
			return api.NewConfigError("config", "broker.queue", "must not be empty")
		}
	default:
		return api.NewConfigError("config", "broker.kind", fmt.Sprintf("unknown broker %q", b.Kind))
	}
	if b.URL == "" {
		return api.NewConfigError("config", "broker.url", "must not be empty")
	}
	if b.ClaimIdle < 0 {
		return api.NewConfigError("config", "broker.claimIdle", "must be >= 0")
	}
	if _, err := b.ConsumerConfig(); err != nil {
		return err
	}
	if b.Kind == BrokerRedisLog {
		return b.Checkpoint.validate()
	}
	return nil
}

// ConsumerConfig converts b into a validated broker.Config. Bodies are
// relayed unchanged, so the codec is always broker.Raw.
func (b BrokerConfig) ConsumerConfig() (broker.Config, error) {
	cfg := broker.DefaultConfig()
	cfg.Prefetch = b.Prefetch
	cfg.MaxWait = b.MaxWait.Std()
	cfg.HandlerTimeout = b.HandlerTimeout.Std()
	cfg.Filter = b.Filter
	cfg.MaxDeliveries = b.MaxDeliveries
	cfg.Codec = broker.Raw
	if err := cfg.Validate(); err != nil {
		return broker.Config{}, err
	}
	return cfg, nil
}

func (c CheckpointConfig) validate() error {
	switch c.Kind {
	case CheckpointMemory:
	case CheckpointSQLite, CheckpointPostgres, CheckpointMySQL, CheckpointMongo, CheckpointRedis:
		if c.DSN == "" {
			return api.NewConfigError("config", "broker.checkpoint.dsn", "must not be empty")
		}
	case CheckpointPebble:
		if c.Path == "" {
			return api.NewConfigError("config", "broker.checkpoint.path", "must not be empty")
		}
	default:
		return api.NewConfigError("config", "broker.checkpoint.kind", fmt.Sprintf("unknown checkpoint store %q", c.Kind))
	}
	return nil
}

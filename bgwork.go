package bgwork

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/bgwork/internal/broker/rabbitmq"
	"github.com/petrijr/bgwork/internal/broker/redisstream"
	"github.com/petrijr/bgwork/internal/checkpoint"
	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/broker"
	"github.com/petrijr/bgwork/pkg/cron"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Handler[T any]               = api.Handler[T]
	HandlerFunc[T any]           = api.HandlerFunc[T]
	HandlerFactory[T any]        = api.HandlerFactory[T]
	ErrorCallback[T any]         = api.ErrorCallback[T]
	CronHandler                  = api.CronHandler
	CronHandlerFunc              = api.CronHandlerFunc
	CronHandlerFactory           = api.CronHandlerFactory
	MessageHandler[T any]        = api.MessageHandler[T]
	MessageHandlerFunc[T any]    = api.MessageHandlerFunc[T]
	MessageHandlerFactory[T any] = api.MessageHandlerFactory[T]
	Service                      = api.Service
	Delivery                     = api.Delivery
	Observer                     = api.Observer
	LoggingObserver              = api.LoggingObserver
	BasicMetrics                 = api.BasicMetrics
	BasicMetricsSnapshot         = api.BasicMetricsSnapshot
	CompositeObserver            = api.CompositeObserver
	NoopObserver                 = api.NoopObserver

	ConfigError       = api.ConfigError
	TimeoutError      = api.TimeoutError
	PanicError        = api.PanicError
	ExhaustedError    = api.ExhaustedError
	CallbackError     = api.CallbackError
	DrainTimeoutError = api.DrainTimeoutError

	CronConfig     = cron.Config
	CronService    = cron.Service
	ConsumerConfig = broker.Config
	Message        = broker.Message
	Source         = broker.Source
	Codec          = broker.Codec
	Filter         = broker.Filter

	CheckpointStore = broker.CheckpointStore
	SQLDialect      = checkpoint.Dialect

	RedisStreamOptions = redisstream.Options
	RabbitMQOptions    = rabbitmq.Options
)

// Consumer is a broker consumer handing decoded messages of type T to a
// handler.
type Consumer[T any] = broker.Consumer[T]

var (
	ErrClosed         = api.ErrClosed
	ErrAlreadyStarted = api.ErrAlreadyStarted
	ErrServiceStopped = api.ErrServiceStopped
	ErrSourceClosed   = broker.ErrSourceClosed
)

// Re-export common helpers.

var (
	NewLoggingObserver    = api.NewLoggingObserver
	NewCompositeObserver  = api.NewCompositeObserver
	IsConfigError         = api.IsConfigError
	IsCancellation        = api.IsCancellation
	CheckpointKey         = broker.CheckpointKey
	NewFilter             = broker.NewFilter
	CodecByName           = broker.CodecByName
	DefaultCronConfig     = cron.DefaultConfig
	DefaultConsumerConfig = broker.DefaultConfig
)

// Body codecs.
var (
	JSON = broker.JSON
	Gob  = broker.Gob
	Raw  = broker.Raw
)

const (
	SQLite   = checkpoint.SQLite
	Postgres = checkpoint.Postgres
	MySQL    = checkpoint.MySQL
)

// Singleton returns a factory that always hands out h.
func Singleton[T any](h Handler[T]) HandlerFactory[T] {
	return api.Singleton(h)
}

// Cron constructors.

// NewCronService runs a fresh handler from factory on every occurrence of
// cfg's schedule.
func NewCronService(name string, factory CronHandlerFactory, cfg CronConfig, obs Observer) *CronService {
	return cron.New(name, factory, cfg, obs)
}

// NewCronServiceFunc is NewCronService for a plain function.
func NewCronServiceFunc(name string, fn func(ctx context.Context) error, cfg CronConfig, obs Observer) *CronService {
	return cron.NewFunc(name, fn, cfg, obs)
}

// Broker constructors.

// NewConsumer receives messages from source and hands them to a fresh
// handler from factory.
func NewConsumer[T any](name string, source Source, factory MessageHandlerFactory[T], cfg ConsumerConfig, obs Observer) *Consumer[T] {
	return broker.NewConsumer(name, source, factory, cfg, obs)
}

// NewConsumerFunc is NewConsumer for a plain function.
func NewConsumerFunc[T any](name string, source Source, fn func(ctx context.Context, msg T, props map[string]string) error, cfg ConsumerConfig, obs Observer) *Consumer[T] {
	return broker.NewConsumerFunc(name, source, fn, cfg, obs)
}

// NewMemorySource returns an in-process Source, mainly for tests.
func NewMemorySource() *broker.MemorySource {
	return broker.NewMemorySource()
}

// NewRedisQueueSource consumes a Redis stream through a consumer group.
func NewRedisQueueSource(client redis.UniversalClient, opts RedisStreamOptions) (Source, error) {
	return redisstream.NewQueueSource(client, opts)
}

// NewRedisLogSource reads a Redis stream from the position saved in store.
func NewRedisLogSource(client redis.UniversalClient, store CheckpointStore, opts RedisStreamOptions) (Source, error) {
	return redisstream.NewLogSource(client, store, opts)
}

// NewRabbitMQSource consumes a RabbitMQ queue.
func NewRabbitMQSource(opts RabbitMQOptions) (Source, error) {
	return rabbitmq.NewSource(opts)
}

// Checkpoint store constructors.

func NewMemoryCheckpointStore() CheckpointStore {
	return checkpoint.NewMemoryStore()
}

// NewSQLCheckpointStore keeps checkpoints in table (created if needed). The
// caller imports the database driver.
func NewSQLCheckpointStore(ctx context.Context, db *sql.DB, dialect SQLDialect, table string) (CheckpointStore, error) {
	return checkpoint.NewSQLStore(ctx, db, dialect, table)
}

func NewMongoCheckpointStore(client *mongo.Client, dbName, collName string) CheckpointStore {
	return checkpoint.NewMongoStore(client, dbName, collName)
}

func NewRedisCheckpointStore(client redis.UniversalClient, prefix string) CheckpointStore {
	return checkpoint.NewRedisStore(client, prefix)
}

// OpenPebbleCheckpointStore opens an embedded store in dir. Close it when
// done.
func OpenPebbleCheckpointStore(dir string) (*checkpoint.PebbleStore, error) {
	return checkpoint.OpenPebbleStore(dir)
}

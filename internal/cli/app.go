package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/bgwork"
	"github.com/petrijr/bgwork/internal/broker/rabbitmq"
	"github.com/petrijr/bgwork/internal/broker/redisstream"
	"github.com/petrijr/bgwork/internal/checkpoint"
	"github.com/petrijr/bgwork/internal/config"
	"github.com/petrijr/bgwork/internal/monitor"
	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/broker"
	"github.com/petrijr/bgwork/pkg/cron"
)

// Job is the item every input turns into before it reaches the channel.
type Job struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Body       []byte            `json:"body,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	At         time.Time         `json:"at"`
}

func newJob(source string, body []byte, props map[string]string) Job {
	return Job{
		ID:         uuid.NewString(),
		Source:     source,
		Body:       body,
		Properties: props,
		At:         time.Now(),
	}
}

type app struct {
	host    *bgwork.Host
	channel *bgwork.ChannelService[Job]
	metrics *api.BasicMetrics
	monitor *monitor.Monitor

	closers []func() error
}

// build wires the services described by cfg. cfg must be valid. The
// returned app owns the connections it opened; call close after the host
// has stopped.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		host:    &bgwork.Host{ShutdownTimeout: cfg.ShutdownTimeout.Std(), Logger: logger},
		metrics: &api.BasicMetrics{},
	}
	if err := a.wire(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, a.close())
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	observers := []api.Observer{api.NewLoggingObserver(logger), a.metrics}
	if cfg.Monitor.Enabled {
		a.monitor = monitor.New(cfg.Monitor.Addr, logger)
		observers = append(observers, a.monitor)
		a.host.Add(a.monitor)
	}
	obs := api.NewCompositeObserver(observers...)

	a.channel = bgwork.NewChannelServiceFunc(handleJob(logger),
		bgwork.WithName(cfg.Channel.Name),
		bgwork.WithRetryAttempts(cfg.Channel.RetryAttempts),
		bgwork.WithRetryDelay(cfg.Channel.RetryDelay.Std()),
		bgwork.WithTimeout(cfg.Channel.Timeout.Std()),
		bgwork.WithDrainOnShutdown(cfg.Channel.DrainOnShutdown),
		bgwork.WithCapacity(cfg.Channel.Capacity),
		bgwork.WithObserver(obs),
		bgwork.WithOnError[Job](func(ctx context.Context, err error, job Job) error {
			logger.ErrorContext(ctx, "job_abandoned",
				slog.String("job", job.ID),
				slog.String("source", job.Source),
				slog.Any("error", err),
			)
			return nil
		}),
	)
	a.host.Add(a.channel)

	if cfg.Cron.Enabled {
		cronCfg, err := cfg.Cron.ServiceConfig()
		if err != nil {
			return err
		}
		a.host.Add(cron.NewFunc(cfg.Cron.Name, func(ctx context.Context) error {
			return a.channel.Enqueue(ctx, newJob(cfg.Cron.Name, nil, nil))
		}, cronCfg, obs))
	}

	if cfg.Broker.Kind != config.BrokerNone {
		consumerCfg, err := cfg.Broker.ConsumerConfig()
		if err != nil {
			return err
		}
		source, err := a.openSource(ctx, cfg.Broker)
		if err != nil {
			return err
		}
		kind := cfg.Broker.Kind
		a.host.Add(broker.NewConsumerFunc(cfg.Broker.Name, source, func(ctx context.Context, body []byte, props map[string]string) error {
			return a.channel.Enqueue(ctx, newJob(kind, body, props))
		}, consumerCfg, obs))
	}
	return nil
}

// handleJob logs each job with its properties.
func handleJob(logger *slog.Logger) func(ctx context.Context, job Job) error {
	return func(ctx context.Context, job Job) error {
		attrs := []any{
			slog.String("job", job.ID),
			slog.String("source", job.Source),
			slog.Int("bytes", len(job.Body)),
			slog.Duration("latency", time.Since(job.At)),
		}
		for k, v := range job.Properties {
			attrs = append(attrs, slog.String("prop."+k, v))
		}
		logger.InfoContext(ctx, "job_handled", attrs...)
		return nil
	}
}

func (a *app) openSource(ctx context.Context, b config.BrokerConfig) (broker.Source, error) {
	switch b.Kind {
	case config.BrokerRedisQueue, config.BrokerRedisLog:
		client, err := a.redisClient(b.URL)
		if err != nil {
			return nil, err
		}
		opts := redisstream.Options{
			Stream:           b.Stream,
			Group:            b.Group,
			Consumer:         b.Consumer,
			ClaimIdle:        b.ClaimIdle.Std(),
			DeadLetterStream: b.DeadLetter,
		}
		if b.Kind == config.BrokerRedisQueue {
			return redisstream.NewQueueSource(client, opts)
		}
		store, err := a.openCheckpoint(ctx, b.Checkpoint)
		if err != nil {
			return nil, err
		}
		return redisstream.NewLogSource(client, store, opts)

	case config.BrokerRabbitMQ:
		return rabbitmq.NewSource(rabbitmq.Options{
			URL:                b.URL,
			Queue:              b.Queue,
			ConsumerTag:        b.Consumer,
			Prefetch:           b.Prefetch,
			DeadLetterExchange: b.DeadLetter,
		})
	}
	return nil, fmt.Errorf("cli: unknown broker %q", b.Kind)
}

func (a *app) redisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cli: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) openCheckpoint(ctx context.Context, c config.CheckpointConfig) (broker.CheckpointStore, error) {
	switch c.Kind {
	case config.CheckpointMemory:
		return checkpoint.NewMemoryStore(), nil

	case config.CheckpointSQLite, config.CheckpointPostgres, config.CheckpointMySQL:
		driver, dialect := sqlDriver(c.Kind)
		db, err := sql.Open(driver, c.DSN)
		if err != nil {
			return nil, fmt.Errorf("cli: open %s: %w", c.Kind, err)
		}
		a.closers = append(a.closers, db.Close)
		return checkpoint.NewSQLStore(ctx, db, dialect, c.Table)

	case config.CheckpointMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.DSN))
		if err != nil {
			return nil, fmt.Errorf("cli: connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		return checkpoint.NewMongoStore(client, "", c.Table), nil

	case config.CheckpointRedis:
		client, err := a.redisClient(c.DSN)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewRedisStore(client, ""), nil

	case config.CheckpointPebble:
		store, err := checkpoint.OpenPebbleStore(c.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return nil, fmt.Errorf("cli: unknown checkpoint store %q", c.Kind)
}

func sqlDriver(kind string) (string, checkpoint.Dialect) {
	switch kind {
	case config.CheckpointPostgres:
		return "pgx", checkpoint.Postgres
	case config.CheckpointMySQL:
		return "mysql", checkpoint.MySQL
	}
	return "sqlite", checkpoint.SQLite
}

// close releases connections in reverse order of opening.
func (a *app) close() error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		errs = append(errs, fn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

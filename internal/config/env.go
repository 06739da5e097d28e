package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// FromEnv overlays BGWORK_* environment variables onto cfg. Setting
// BGWORK_CRON_EXPRESSION enables the cron heartbeat; BGWORK_MONITOR_ADDR
// enables the monitor. Unparseable values are reported together.
func FromEnv(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := os.LookupEnv(name); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("BGWORK_LOG_LEVEL", &cfg.Log.Level)
	str("BGWORK_LOG_FORMAT", &cfg.Log.Format)
	duration("BGWORK_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	str("BGWORK_CHANNEL_NAME", &cfg.Channel.Name)
	integer("BGWORK_CHANNEL_RETRY_ATTEMPTS", &cfg.Channel.RetryAttempts)
	duration("BGWORK_CHANNEL_RETRY_DELAY", &cfg.Channel.RetryDelay)
	duration("BGWORK_CHANNEL_TIMEOUT", &cfg.Channel.Timeout)
	boolean("BGWORK_CHANNEL_DRAIN_ON_SHUTDOWN", &cfg.Channel.DrainOnShutdown)
	integer("BGWORK_CHANNEL_CAPACITY", &cfg.Channel.Capacity)

	if v, ok := os.LookupEnv("BGWORK_CRON_EXPRESSION"); ok {
		cfg.Cron.Expression = v
		cfg.Cron.Enabled = true
	}
	boolean("BGWORK_CRON_ENABLED", &cfg.Cron.Enabled)
	boolean("BGWORK_CRON_INCLUDING_SECONDS", &cfg.Cron.IncludingSeconds)
	boolean("BGWORK_CRON_WAIT_FOR_COMPLETION", &cfg.Cron.WaitForCompletion)
	duration("BGWORK_CRON_TIMEOUT", &cfg.Cron.Timeout)
	str("BGWORK_CRON_LOCATION", &cfg.Cron.Location)

	str("BGWORK_BROKER_KIND", &cfg.Broker.Kind)
	str("BGWORK_BROKER_URL", &cfg.Broker.URL)
	str("BGWORK_BROKER_STREAM", &cfg.Broker.Stream)
	str("BGWORK_BROKER_GROUP", &cfg.Broker.Group)
	str("BGWORK_BROKER_CONSUMER", &cfg.Broker.Consumer)
	str("BGWORK_BROKER_QUEUE", &cfg.Broker.Queue)
	str("BGWORK_BROKER_DEAD_LETTER", &cfg.Broker.DeadLetter)
	duration("BGWORK_BROKER_CLAIM_IDLE", &cfg.Broker.ClaimIdle)
	integer("BGWORK_BROKER_PREFETCH", &cfg.Broker.Prefetch)
	duration("BGWORK_BROKER_MAX_WAIT", &cfg.Broker.MaxWait)
	duration("BGWORK_BROKER_HANDLER_TIMEOUT", &cfg.Broker.HandlerTimeout)
	integer("BGWORK_BROKER_MAX_DELIVERIES", &cfg.Broker.MaxDeliveries)
	str("BGWORK_BROKER_FILTER", &cfg.Broker.Filter)
	str("BGWORK_CHECKPOINT_KIND", &cfg.Broker.Checkpoint.Kind)
	str("BGWORK_CHECKPOINT_DSN", &cfg.Broker.Checkpoint.DSN)
	str("BGWORK_CHECKPOINT_TABLE", &cfg.Broker.Checkpoint.Table)
	str("BGWORK_CHECKPOINT_PATH", &cfg.Broker.Checkpoint.Path)

	if v, ok := os.LookupEnv("BGWORK_MONITOR_ADDR"); ok {
		cfg.Monitor.Addr = v
		cfg.Monitor.Enabled = true
	}
	boolean("BGWORK_MONITOR_ENABLED", &cfg.Monitor.Enabled)

	return errors.Join(errs...)
}

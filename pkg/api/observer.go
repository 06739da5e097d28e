package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Delivery identifies one handling scope of an item, tick or message.
type Delivery struct {
	// Service is the name of the service handling the item.
	Service string
	// ID is a per-item scope ID for queue items and cron ticks, or the
	// broker-assigned message ID for broker messages.
	ID string
	// Attempt is 1-based.
	Attempt     int
	MaxAttempts int
}

// Observer receives callbacks from services for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay item processing.
type Observer interface {
	// OnServiceStarted is called once a service has started its loop.
	OnServiceStarted(ctx context.Context, service string)

	// OnServiceStopping is called when Stop begins. pending is the number of
	// items still buffered (always 0 for services without a buffer).
	OnServiceStopping(ctx context.Context, service string, drain bool, pending int)

	// OnServiceStopped is called when the service loop has exited.
	OnServiceStopped(ctx context.Context, service string, err error)

	// OnItemsDropped is a warning-class event: pending items will not be
	// handled because the service is shutting down without draining.
	OnItemsDropped(ctx context.Context, service string, pending int)

	// OnAttemptStart is called before the handler is invoked.
	OnAttemptStart(ctx context.Context, d Delivery)

	// OnAttemptFailed is called for a failed attempt that will be retried
	// after retryIn.
	OnAttemptFailed(ctx context.Context, d Delivery, err error, retryIn time.Duration)

	// OnItemCompleted is called when a handler succeeded. duration covers all
	// attempts for the item, retry delays included. A broker delivery counts
	// as one item.
	OnItemCompleted(ctx context.Context, d Delivery, duration time.Duration)

	// OnItemFailed is called when an item failed terminally (attempts
	// exhausted, or a single-shot handler such as a cron tick failed).
	OnItemFailed(ctx context.Context, d Delivery, err error)

	// OnItemCancelled is called when service shutdown aborted an item.
	OnItemCancelled(ctx context.Context, d Delivery, err error)

	// OnCallbackFailed is called when the error callback returned an error or
	// panicked. The error is swallowed afterwards.
	OnCallbackFailed(ctx context.Context, d Delivery, err error)

	// OnReceiveFailed is called when a broker source failed to deliver
	// messages. The consumer retries after retryIn.
	OnReceiveFailed(ctx context.Context, service string, err error, retryIn time.Duration)

	// OnMessageRejected is called for broker messages that could not be
	// decoded or settled.
	OnMessageRejected(ctx context.Context, d Delivery, err error)

	// OnTickScheduled is called when a cron service computed its next run.
	OnTickScheduled(ctx context.Context, service string, next time.Time)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnServiceStarted(ctx context.Context, service string)                        {}
func (NoopObserver) OnServiceStopping(ctx context.Context, service string, drain bool, n int)    {}
func (NoopObserver) OnServiceStopped(ctx context.Context, service string, err error)             {}
func (NoopObserver) OnItemsDropped(ctx context.Context, service string, pending int)             {}
func (NoopObserver) OnAttemptStart(ctx context.Context, d Delivery)                              {}
func (NoopObserver) OnAttemptFailed(ctx context.Context, d Delivery, err error, r time.Duration) {}
func (NoopObserver) OnItemCompleted(ctx context.Context, d Delivery, duration time.Duration)     {}
func (NoopObserver) OnItemFailed(ctx context.Context, d Delivery, err error)                     {}
func (NoopObserver) OnItemCancelled(ctx context.Context, d Delivery, err error)                  {}
func (NoopObserver) OnCallbackFailed(ctx context.Context, d Delivery, err error)                 {}
func (NoopObserver) OnReceiveFailed(ctx context.Context, s string, err error, r time.Duration)   {}
func (NoopObserver) OnMessageRejected(ctx context.Context, d Delivery, err error)                {}
func (NoopObserver) OnTickScheduled(ctx context.Context, service string, next time.Time)         {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnServiceStarted(ctx context.Context, service string) {
	for _, o := range c.observers {
		o.OnServiceStarted(ctx, service)
	}
}

func (c *CompositeObserver) OnServiceStopping(ctx context.Context, service string, drain bool, pending int) {
	for _, o := range c.observers {
		o.OnServiceStopping(ctx, service, drain, pending)
	}
}

func (c *CompositeObserver) OnServiceStopped(ctx context.Context, service string, err error) {
	for _, o := range c.observers {
		o.OnServiceStopped(ctx, service, err)
	}
}

func (c *CompositeObserver) OnItemsDropped(ctx context.Context, service string, pending int) {
	for _, o := range c.observers {
		o.OnItemsDropped(ctx, service, pending)
	}
}

func (c *CompositeObserver) OnAttemptStart(ctx context.Context, d Delivery) {
	for _, o := range c.observers {
		o.OnAttemptStart(ctx, d)
	}
}

func (c *CompositeObserver) OnAttemptFailed(ctx context.Context, d Delivery, err error, retryIn time.Duration) {
	for _, o := range c.observers {
		o.OnAttemptFailed(ctx, d, err, retryIn)
	}
}

func (c *CompositeObserver) OnItemCompleted(ctx context.Context, d Delivery, duration time.Duration) {
	for _, o := range c.observers {
		o.OnItemCompleted(ctx, d, duration)
	}
}

func (c *CompositeObserver) OnItemFailed(ctx context.Context, d Delivery, err error) {
	for _, o := range c.observers {
		o.OnItemFailed(ctx, d, err)
	}
}

func (c *CompositeObserver) OnItemCancelled(ctx context.Context, d Delivery, err error) {
	for _, o := range c.observers {
		o.OnItemCancelled(ctx, d, err)
	}
}

func (c *CompositeObserver) OnCallbackFailed(ctx context.Context, d Delivery, err error) {
	for _, o := range c.observers {
		o.OnCallbackFailed(ctx, d, err)
	}
}

func (c *CompositeObserver) OnReceiveFailed(ctx context.Context, service string, err error, retryIn time.Duration) {
	for _, o := range c.observers {
		o.OnReceiveFailed(ctx, service, err, retryIn)
	}
}

func (c *CompositeObserver) OnMessageRejected(ctx context.Context, d Delivery, err error) {
	for _, o := range c.observers {
		o.OnMessageRejected(ctx, d, err)
	}
}

func (c *CompositeObserver) OnTickScheduled(ctx context.Context, service string, next time.Time) {
	for _, o := range c.observers {
		o.OnTickScheduled(ctx, service, next)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs service and item
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func deliveryAttrs(d Delivery) []any {
	return []any{
		slog.String("service", d.Service),
		slog.String("delivery_id", d.ID),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", d.MaxAttempts),
	}
}

func (o *LoggingObserver) OnServiceStarted(ctx context.Context, service string) {
	o.Logger.InfoContext(ctx, "service_started", slog.String("service", service))
}

func (o *LoggingObserver) OnServiceStopping(ctx context.Context, service string, drain bool, pending int) {
	o.Logger.InfoContext(ctx, "service_stopping",
		slog.String("service", service),
		slog.Bool("drain", drain),
		slog.Int("pending", pending),
	)
}

func (o *LoggingObserver) OnServiceStopped(ctx context.Context, service string, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "service_stopped",
		slog.String("service", service),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnItemsDropped(ctx context.Context, service string, pending int) {
	o.Logger.WarnContext(ctx, "items_dropped",
		slog.String("service", service),
		slog.Int("pending", pending),
		slog.String("hint", "enable drain on shutdown to process remaining items"),
	)
}

func (o *LoggingObserver) OnAttemptStart(ctx context.Context, d Delivery) {
	o.Logger.DebugContext(ctx, "attempt_start", deliveryAttrs(d)...)
}

func (o *LoggingObserver) OnAttemptFailed(ctx context.Context, d Delivery, err error, retryIn time.Duration) {
	attrs := append(deliveryAttrs(d), slog.Any("error", err), slog.Duration("retry_in", retryIn))
	o.Logger.WarnContext(ctx, "attempt_failed", attrs...)
}

func (o *LoggingObserver) OnItemCompleted(ctx context.Context, d Delivery, duration time.Duration) {
	attrs := append(deliveryAttrs(d), slog.Duration("duration", duration))
	o.Logger.InfoContext(ctx, "item_completed", attrs...)
}

func (o *LoggingObserver) OnItemFailed(ctx context.Context, d Delivery, err error) {
	attrs := append(deliveryAttrs(d), slog.Any("error", err))
	o.Logger.ErrorContext(ctx, "item_failed", attrs...)
}

func (o *LoggingObserver) OnItemCancelled(ctx context.Context, d Delivery, err error) {
	attrs := append(deliveryAttrs(d), slog.Any("error", err))
	o.Logger.WarnContext(ctx, "item_cancelled", attrs...)
}

func (o *LoggingObserver) OnCallbackFailed(ctx context.Context, d Delivery, err error) {
	attrs := append(deliveryAttrs(d), slog.Any("error", err))
	o.Logger.ErrorContext(ctx, "callback_failed", attrs...)
}

func (o *LoggingObserver) OnReceiveFailed(ctx context.Context, service string, err error, retryIn time.Duration) {
	o.Logger.ErrorContext(ctx, "receive_failed",
		slog.String("service", service),
		slog.Any("error", err),
		slog.Duration("retry_in", retryIn),
	)
}

func (o *LoggingObserver) OnMessageRejected(ctx context.Context, d Delivery, err error) {
	attrs := append(deliveryAttrs(d), slog.Any("error", err))
	o.Logger.ErrorContext(ctx, "message_rejected", attrs...)
}

func (o *LoggingObserver) OnTickScheduled(ctx context.Context, service string, next time.Time) {
	o.Logger.DebugContext(ctx, "tick_scheduled",
		slog.String("service", service),
		slog.Time("next", next),
		slog.Duration("in", time.Until(next)),
	)
}

// BasicMetrics collects simple counters and aggregate item durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	attemptsStarted  atomic.Int64
	attemptsRetried  atomic.Int64
	itemsCompleted   atomic.Int64
	itemsFailed      atomic.Int64
	itemsCancelled   atomic.Int64
	itemsDropped     atomic.Int64
	callbackFailures atomic.Int64
	receiveFailures  atomic.Int64
	messagesRejected atomic.Int64
	totalDuration    atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	AttemptsStarted  int64 `json:"attempts_started"`
	AttemptsRetried  int64 `json:"attempts_retried"`
	ItemsCompleted   int64 `json:"items_completed"`
	ItemsFailed      int64 `json:"items_failed"`
	ItemsCancelled   int64 `json:"items_cancelled"`
	ItemsDropped     int64 `json:"items_dropped"`
	CallbackFailures int64 `json:"callback_failures"`
	ReceiveFailures  int64 `json:"receive_failures"`
	MessagesRejected int64 `json:"messages_rejected"`

	AvgItemDuration time.Duration `json:"avg_item_duration"`
}

func (m *BasicMetrics) OnAttemptStart(ctx context.Context, d Delivery) {
	m.attemptsStarted.Add(1)
}

func (m *BasicMetrics) OnAttemptFailed(ctx context.Context, d Delivery, err error, retryIn time.Duration) {
	m.attemptsRetried.Add(1)
}

func (m *BasicMetrics) OnItemCompleted(ctx context.Context, d Delivery, duration time.Duration) {
	m.itemsCompleted.Add(1)
	m.totalDuration.Add(duration.Nanoseconds())
}

func (m *BasicMetrics) OnItemFailed(ctx context.Context, d Delivery, err error) {
	m.itemsFailed.Add(1)
}

func (m *BasicMetrics) OnItemCancelled(ctx context.Context, d Delivery, err error) {
	m.itemsCancelled.Add(1)
}

func (m *BasicMetrics) OnItemsDropped(ctx context.Context, service string, pending int) {
	m.itemsDropped.Add(int64(pending))
}

func (m *BasicMetrics) OnCallbackFailed(ctx context.Context, d Delivery, err error) {
	m.callbackFailures.Add(1)
}

func (m *BasicMetrics) OnReceiveFailed(ctx context.Context, service string, err error, retryIn time.Duration) {
	m.receiveFailures.Add(1)
}

func (m *BasicMetrics) OnMessageRejected(ctx context.Context, d Delivery, err error) {
	m.messagesRejected.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	completed := m.itemsCompleted.Load()
	totalNs := m.totalDuration.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalNs / completed)
	}

	return BasicMetricsSnapshot{
		AttemptsStarted:  m.attemptsStarted.Load(),
		AttemptsRetried:  m.attemptsRetried.Load(),
		ItemsCompleted:   completed,
		ItemsFailed:      m.itemsFailed.Load(),
		ItemsCancelled:   m.itemsCancelled.Load(),
		ItemsDropped:     m.itemsDropped.Load(),
		CallbackFailures: m.callbackFailures.Load(),
		ReceiveFailures:  m.receiveFailures.Load(),
		MessagesRejected: m.messagesRejected.Load(),
		AvgItemDuration:  avg,
	}
}

package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/petrijr/bgwork/pkg/api"
)

// Event is the JSON form of an observer callback.
type Event struct {
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	Service     string    `json:"service"`
	ID          string    `json:"id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	RetryInMS   int64     `json:"retry_in_ms,omitempty"`
	Pending     int       `json:"pending,omitempty"`
	Drain       bool      `json:"drain,omitempty"`
	Next        time.Time `json:"next,omitzero"`
}

// publish never blocks the observed service; events are dropped when the
// hub falls behind.
func (m *Monitor) publish(e Event) {
	e.Time = time.Now()
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case m.hub.broadcast <- b:
	default:
		m.dropped.Add(1)
	}
}

func delivery(typ string, d api.Delivery, err error) Event {
	e := Event{Type: typ, Service: d.Service, ID: d.ID, Attempt: d.Attempt, MaxAttempts: d.MaxAttempts}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (m *Monitor) OnServiceStarted(ctx context.Context, service string) {
	m.publish(Event{Type: "service_started", Service: service})
}

func (m *Monitor) OnServiceStopping(ctx context.Context, service string, drain bool, pending int) {
	m.publish(Event{Type: "service_stopping", Service: service, Drain: drain, Pending: pending})
}

func (m *Monitor) OnServiceStopped(ctx context.Context, service string, err error) {
	e := Event{Type: "service_stopped", Service: service}
	if err != nil {
		e.Error = err.Error()
	}
	m.publish(e)
}

func (m *Monitor) OnItemsDropped(ctx context.Context, service string, pending int) {
	m.metrics.OnItemsDropped(ctx, service, pending)
	m.publish(Event{Type: "items_dropped", Service: service, Pending: pending})
}

func (m *Monitor) OnAttemptStart(ctx context.Context, d api.Delivery) {
	m.metrics.OnAttemptStart(ctx, d)
	m.publish(delivery("attempt_start", d, nil))
}

func (m *Monitor) OnAttemptFailed(ctx context.Context, d api.Delivery, err error, retryIn time.Duration) {
	m.metrics.OnAttemptFailed(ctx, d, err, retryIn)
	e := delivery("attempt_failed", d, err)
	e.RetryInMS = retryIn.Milliseconds()
	m.publish(e)
}

func (m *Monitor) OnItemCompleted(ctx context.Context, d api.Delivery, duration time.Duration) {
	m.metrics.OnItemCompleted(ctx, d, duration)
	e := delivery("item_completed", d, nil)
	e.DurationMS = duration.Milliseconds()
	m.publish(e)
}

func (m *Monitor) OnItemFailed(ctx context.Context, d api.Delivery, err error) {
	m.metrics.OnItemFailed(ctx, d, err)
	m.publish(delivery("item_failed", d, err))
}

func (m *Monitor) OnItemCancelled(ctx context.Context, d api.Delivery, err error) {
	m.metrics.OnItemCancelled(ctx, d, err)
	m.publish(delivery("item_cancelled", d, err))
}

func (m *Monitor) OnCallbackFailed(ctx context.Context, d api.Delivery, err error) {
	m.metrics.OnCallbackFailed(ctx, d, err)
	m.publish(delivery("callback_failed", d, err))
}

func (m *Monitor) OnReceiveFailed(ctx context.Context, service string, err error, retryIn time.Duration) {
	m.metrics.OnReceiveFailed(ctx, service, err, retryIn)
	e := Event{Type: "receive_failed", Service: service, RetryInMS: retryIn.Milliseconds()}
	if err != nil {
		e.Error = err.Error()
	}
	m.publish(e)
}

func (m *Monitor) OnMessageRejected(ctx context.Context, d api.Delivery, err error) {
	m.metrics.OnMessageRejected(ctx, d, err)
	m.publish(delivery("message_rejected", d, err))
}

func (m *Monitor) OnTickScheduled(ctx context.Context, service string, next time.Time) {
	m.publish(Event{Type: "tick_scheduled", Service: service, Next: next})
}

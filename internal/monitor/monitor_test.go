package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/bgwork/pkg/api"
)

func startMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := New("127.0.0.1:0", nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func dial(t *testing.T, m *Monitor) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(t, func() bool { return m.Clients() == 1 }, 2*time.Second, time.Millisecond)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e Event
	require.NoError(t, ws.ReadJSON(&e))
	return e
}

func TestMonitor_BroadcastsEvents(t *testing.T) {
	m := startMonitor(t)
	ws := dial(t, m)
	ctx := context.Background()
	d := api.Delivery{Service: "orders", ID: "item-1", Attempt: 2, MaxAttempts: 4}

	m.OnAttemptFailed(ctx, d, errors.New("boom"), 1500*time.Millisecond)
	m.OnItemCompleted(ctx, d, 250*time.Millisecond)
	m.OnItemsDropped(ctx, "orders", 3)

	e := readEvent(t, ws)
	require.Equal(t, "attempt_failed", e.Type)
	require.Equal(t, "orders", e.Service)
	require.Equal(t, "item-1", e.ID)
	require.Equal(t, 2, e.Attempt)
	require.Equal(t, "boom", e.Error)
	require.Equal(t, int64(1500), e.RetryInMS)

	e = readEvent(t, ws)
	require.Equal(t, "item_completed", e.Type)
	require.Equal(t, int64(250), e.DurationMS)

	e = readEvent(t, ws)
	require.Equal(t, "items_dropped", e.Type)
	require.Equal(t, 3, e.Pending)
}

func TestMonitor_FansOutToAllClients(t *testing.T) {
	m := startMonitor(t)
	first := dial(t, m)

	second, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return m.Clients() == 2 }, 2*time.Second, time.Millisecond)

	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m.OnTickScheduled(context.Background(), "heartbeat", next)

	for _, ws := range []*websocket.Conn{first, second} {
		e := readEvent(t, ws)
		require.Equal(t, "tick_scheduled", e.Type)
		require.True(t, next.Equal(e.Next))
	}
}

func TestMonitor_Stats(t *testing.T) {
	m := startMonitor(t)
	ctx := context.Background()
	d := api.Delivery{Service: "orders", ID: "x", Attempt: 1, MaxAttempts: 1}
	m.OnAttemptStart(ctx, d)
	m.OnItemCompleted(ctx, d, time.Second)
	m.OnItemFailed(ctx, d, errors.New("nope"))
	m.OnMessageRejected(ctx, d, errors.New("bad body"))

	rsp, err := http.Get("http://" + m.Addr() + "/stats")
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	var got stats
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&got))
	require.Equal(t, int64(1), got.Metrics.AttemptsStarted)
	require.Equal(t, int64(1), got.Metrics.ItemsCompleted)
	require.Equal(t, int64(1), got.Metrics.ItemsFailed)
	require.Equal(t, int64(1), got.Metrics.MessagesRejected)
	require.Equal(t, m.Metrics(), got.Metrics)
}

func TestMonitor_StopDisconnectsClients(t *testing.T) {
	m := New("127.0.0.1:0", nil)
	require.NoError(t, m.Start(context.Background()))
	ws := dial(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Zero(t, m.Clients())
}

func TestMonitor_Lifecycle(t *testing.T) {
	m := New("127.0.0.1:0", nil)
	require.Equal(t, "monitor", m.Name())
	require.Empty(t, m.Addr())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.ErrorIs(t, m.Start(ctx), api.ErrAlreadyStarted)
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	require.ErrorIs(t, m.Start(ctx), api.ErrServiceStopped)
}

func TestMonitor_StartFailsOnBusyAddress(t *testing.T) {
	busy := startMonitor(t)
	m := New(busy.Addr(), nil)
	require.Error(t, m.Start(context.Background()))
}

func TestMonitor_PublishNeverBlocks(t *testing.T) {
	// Not started: nothing drains the hub.
	m := New("127.0.0.1:0", nil)
	for range 1000 {
		m.OnServiceStarted(context.Background(), "orders")
	}
	require.Positive(t, m.dropped.Load())
}

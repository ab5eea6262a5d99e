package wshub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopStore struct{}

func (noopStore) AppendEvent(ctx context.Context, e *domain.Event) error { return nil }

type staticSnapshot struct{ event *domain.Event }

func (s staticSnapshot) Snapshot(ctx context.Context, debateID string) (*domain.Event, error) {
	return s.event, nil
}

func newTestServer(t *testing.T, hub *Hub, filter events.Filter) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeSubscriber(w, r, filter)
	})
	srv := httptest.NewServer(mux)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func TestHubDeliversSyncThenLiveEvents(t *testing.T) {
	bus := events.NewBus(noopStore{}, 16)
	snap := staticSnapshot{event: &domain.Event{Type: types.EventSync, DebateID: "d1"}}
	hub := New(bus, snap, DefaultConfig())

	srv, wsURL := newTestServer(t, hub, events.Filter{DebateID: "d1"})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first domain.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, types.EventSync, first.Type)

	require.NoError(t, bus.Publish(context.Background(), &domain.Event{
		Type: types.EventRoundStart, DebateID: "d1", Timestamp: time.Now(),
	}))

	var second domain.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, types.EventRoundStart, second.Type)
}

func TestCoalesceTokenDeltaFlushesOncePriorDrains(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = CoalesceTokenDeltas
	cfg.QueueSize = 1
	c := &connection{
		outbox: make(chan *domain.Event, cfg.QueueSize),
		done:   make(chan struct{}),
		cfg:    cfg,
	}

	first := &domain.Event{Type: types.EventTokenDelta, DebateID: "d1", Data: map[string]interface{}{"text": "a"}}
	second := &domain.Event{Type: types.EventTokenDelta, DebateID: "d1", Data: map[string]interface{}{"text": "b"}}

	c.enqueue(first)  // outbox has room: goes straight in
	c.enqueue(second) // outbox still holds first: superseding delta held as lastDelta
	assert.Equal(t, second, c.lastDelta)

	got := <-c.outbox
	assert.Equal(t, first, got)

	// writePump's flushTicker drives this in production; call it directly
	// here to exercise the same path without waiting on a timer.
	c.flushPendingDelta()
	assert.Nil(t, c.lastDelta)

	flushed := <-c.outbox
	assert.Equal(t, second, flushed)
}

func TestHubFiltersByDebateID(t *testing.T) {
	bus := events.NewBus(noopStore{}, 16)
	hub := New(bus, nil, DefaultConfig())

	srv, wsURL := newTestServer(t, hub, events.Filter{DebateID: "d1"})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, bus.Publish(context.Background(), &domain.Event{
		Type: types.EventRoundStart, DebateID: "other-debate", Timestamp: time.Now(),
	}))
	require.NoError(t, bus.Publish(context.Background(), &domain.Event{
		Type: types.EventRoundEnd, DebateID: "d1", Timestamp: time.Now(),
	}))

	var got domain.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, types.EventRoundEnd, got.Type)
}

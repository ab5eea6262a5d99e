// Package wshub implements the WebSocket Hub: accepts subscriber
// connections (authentication runs in the HTTP middleware in front of it),
// sends a sync snapshot followed by live
// events, and enforces a bounded per-connection outbound queue with a
// drop/coalesce policy so a slow viewer never stalls the debate. Grounded
// on internal/server/server.go's HandleWebSocket (gorilla/websocket
// upgrade, ping/pong heartbeat) and its client map, restructured per the
// Event Bus subscription model instead of a single shared conversation.
package wshub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/logging"
	"github.com/aragora/aragora/internal/types"
	"github.com/gorilla/websocket"
)

// OverflowPolicy selects what the Hub does when a connection's outbound
// queue is full.
type OverflowPolicy int

const (
	// DropSlowest closes the connection. A final error:slow_consumer event
	// is queued only if the outbox has room at that moment; when it is still
	// full, the connection closes without that event.
	DropSlowest OverflowPolicy = iota
	// CoalesceTokenDeltas merges adjacent token_delta events for the same
	// agent turn into one before making room.
	CoalesceTokenDeltas
)

// Config configures Hub construction.
type Config struct {
	QueueSize      int
	Policy         OverflowPolicy
	PingInterval   time.Duration
	PongTimeout    time.Duration
	CheckOrigin    func(r *http.Request) bool
	// QueueDepthObserver, if set, is called each time enqueue places an
	// event in the outbox, with the connection's current outbox depth, for
	// exporting as a gauge.
	QueueDepthObserver func(debateID string, depth int)
}

// DefaultConfig uses a 30s ping cadence with a 60s read deadline as the
// pong timeout, and drops slow consumers by default.
func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		Policy:       DropSlowest,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// Snapshotter produces the sync payload sent to a newly connected
// subscriber before live events start flowing.
type Snapshotter interface {
	Snapshot(ctx context.Context, debateID string) (*domain.Event, error)
}

// Hub fans out the Event Bus to WebSocket subscribers.
type Hub struct {
	bus      *events.Bus
	snapshot Snapshotter
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*connection]struct{}
}

// New constructs a Hub over the given Event Bus.
func New(bus *events.Bus, snapshot Snapshotter, cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultConfig().PongTimeout
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		bus:      bus,
		snapshot: snapshot,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin, EnableCompression: true},
		conns:    make(map[*connection]struct{}),
	}
}

// connection is one subscriber's outbound pump state.
type connection struct {
	ws       *websocket.Conn
	outbox   chan *domain.Event
	sub      *events.Subscription
	done     chan struct{}
	closeOne sync.Once
	cfg      Config

	mu        sync.Mutex
	lastDelta *domain.Event // most recent pending token_delta, for coalescing
}

// close is idempotent: both the slow-consumer overflow path and the normal
// ServeSubscriber teardown defer call it, and a channel may only be closed
// once.
func (c *connection) close() {
	c.closeOne.Do(func() { close(c.done) })
}

// ServeSubscriber upgrades the HTTP request, replays the sync snapshot, then
// pumps live events matching filter until the client disconnects.
func (h *Hub) ServeSubscriber(w http.ResponseWriter, r *http.Request, filter events.Filter) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &connection{
		ws:     ws,
		outbox: make(chan *domain.Event, h.cfg.QueueSize),
		done:   make(chan struct{}),
		cfg:    h.cfg,
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		if conn.sub != nil {
			conn.sub.Unsubscribe()
		}
		ws.Close()
		conn.close()
	}()

	if h.snapshot != nil {
		if snap, err := h.snapshot.Snapshot(r.Context(), filter.DebateID); err == nil && snap != nil {
			_ = ws.WriteJSON(snap)
		}
	}

	conn.sub = h.bus.Subscribe(filter)

	go conn.fanIn()
	go conn.writePump()
	go conn.pingLoop()
	// enqueue's slow-consumer branch closes conn.done without going
	// through the read loop; unblock the blocking ReadMessage call below
	// so the deferred cleanup above actually runs instead of leaking the
	// connection until the client disconnects on its own.
	go func() {
		<-conn.done
		conn.ws.Close()
	}()

	return conn.readLoop()
}

// fanIn reads from the bus subscription and applies the overflow policy
// before handing events to writePump via the bounded outbox.
func (c *connection) fanIn() {
	for {
		select {
		case <-c.done:
			return
		case e, ok := <-c.sub.Events():
			if !ok {
				return
			}
			c.enqueue(e)
		}
	}
}

func (c *connection) writePump() {
	// flushTicker periodically retries delivery of a coalesced lastDelta
	// that arrived while the outbox was full; without it, a pending delta
	// for the final token of a turn would sit unsent until some unrelated
	// later event happened to trigger enqueue again.
	flushTicker := time.NewTicker(100 * time.Millisecond)
	defer flushTicker.Stop()
	for {
		select {
		case <-c.done:
			return
		case e, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.ws.WriteJSON(e); err != nil {
				logging.LogWebSocketEvent("write_failed", e.DebateID, "", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-flushTicker.C:
			c.flushPendingDelta()
		}
	}
}

// flushPendingDelta moves a coalesced lastDelta into the outbox once room
// frees up. Safe to call whether or not one is pending.
func (c *connection) flushPendingDelta() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushPendingDeltaLocked()
}

func (c *connection) flushPendingDeltaLocked() {
	if c.lastDelta == nil {
		return
	}
	select {
	case c.outbox <- c.lastDelta:
		c.lastDelta = nil
	default:
	}
}

// enqueue applies the overflow policy when the per-connection queue is full.
func (c *connection) enqueue(e *domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Give a previously coalesced delta first crack at any room that opened
	// up since the last enqueue, regardless of this event's own type.
	c.flushPendingDeltaLocked()

	if e.Type == types.EventTokenDelta && c.cfg.Policy == CoalesceTokenDeltas {
		select {
		case c.outbox <- e:
			if c.cfg.QueueDepthObserver != nil {
				c.cfg.QueueDepthObserver(e.DebateID, len(c.outbox))
			}
		default:
			// Queue still full: this delta supersedes whatever was already
			// pending (only the newest token text matters) and waits for
			// flushPendingDelta to place it once space opens up.
			c.lastDelta = e
		}
		return
	}

	select {
	case c.outbox <- e:
		if c.cfg.QueueDepthObserver != nil {
			c.cfg.QueueDepthObserver(e.DebateID, len(c.outbox))
		}
	default:
		if c.cfg.Policy == DropSlowest {
			logging.LogWebSocketEvent("slow_consumer_drop", e.DebateID, "", nil)
			errEvent := &domain.Event{
				Type:      types.EventError,
				Timestamp: time.Now(),
				DebateID:  e.DebateID,
				Data:      map[string]interface{}{"error": "slow_consumer"},
			}
			select {
			case c.outbox <- errEvent:
			default:
			}
			c.close()
		}
	}
}

func (c *connection) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) readLoop() error {
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return err
		}
	}
}

// ActiveConnections reports the number of currently subscribed clients.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

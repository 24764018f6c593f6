// Package ws bridges the chat message bus to browser WebSocket clients so the
// swap UI can render live chat traffic and trade lifecycle events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barterline/swapd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay under pongWait
	maxInboundSize = 4096
	outboxSize     = 256
)

// defaultChannels is the bridged channel set when the config names none:
// every chat room plus the trade events channel.
func defaultChannels() []string {
	return []string{
		domain.ChatChannel("*"),
		domain.TradeEventsChannel,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware in front of
	// the upgrade, so the handshake itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config tunes the hub. Channels overrides the default bridged channel set.
type Config struct {
	Channels []string
}

// Hub fans bus traffic out to connected WebSocket clients, each filtered by
// its own room subscriptions.
type Hub struct {
	bus      domain.MessageBus
	channels []string
	logger   *slog.Logger
	started  time.Time

	attach chan *client
	detach chan *client
	fanout chan frame
	done   chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// frame is one bus message tagged with the channel it arrived on.
type frame struct {
	channel string
	data    []byte
}

// NewHub creates a hub bridging the given bus channels.
func NewHub(bus domain.MessageBus, logger *slog.Logger, cfg Config) *Hub {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = defaultChannels()
	}
	return &Hub{
		bus:      bus,
		channels: channels,
		logger:   logger.With(slog.String("component", "ws")),
		started:  time.Now().UTC(),
		attach:   make(chan *client),
		detach:   make(chan *client),
		fanout:   make(chan frame, 256),
		done:     make(chan struct{}),
		clients:  make(map[*client]struct{}),
	}
}

// Run pumps bus messages to clients until ctx is cancelled. Call it in its
// own goroutine. Closing done on exit unblocks client goroutines still
// trying to attach or detach.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range h.channels {
		go h.pumpChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.outbox)
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.attach:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.detach:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.outbox)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case f := <-h.fanout:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f.channel) {
					continue
				}
				select {
				case c.outbox <- f.data:
				default:
					// Slow consumer; dropping beats blocking the hub.
					h.logger.Warn("dropping frame for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pumpChannel forwards one bus subscription into the fanout loop.
func (h *Hub) pumpChannel(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("bridging channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			// Frames carry the concrete channel, not the subscription
			// pattern, so clients narrowed to one room still match.
			ch := msg.Channel
			if ch == "" {
				ch = channel
			}
			select {
			case h.fanout <- frame{channel: ch, data: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS handles GET /ws: it upgrades the connection and attaches the
// client, initially subscribed to every bridged channel.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		rooms:  make(map[string]struct{}, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.rooms[ch] = struct{}{}
	}

	select {
	case h.attach <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.greet()

	go c.writeLoop()
	go c.readLoop()
}

// client is one WebSocket connection plus its room subscriptions.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// roomRequest is the control frame clients send to narrow or widen which
// chat rooms they receive: {"action":"subscribe","channels":["chat:42"]}.
type roomRequest struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// readLoop consumes control frames until the connection drops. Anything that
// is not a valid room request is ignored.
func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.detach <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var req roomRequest
		if json.Unmarshal(msg, &req) != nil || len(req.Channels) == 0 {
			continue
		}
		c.updateRooms(req)
	}
}

func (c *client) updateRooms(req roomRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Action {
	case "subscribe":
		for _, ch := range req.Channels {
			c.rooms[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range req.Channels {
			delete(c.rooms, ch)
		}
	}
}

// wants reports whether the client subscribed to channel, either exactly or
// through a trailing-star pattern such as "chat:*".
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.rooms[channel]; ok {
		return true
	}
	for room := range c.rooms {
		if prefix, ok := strings.CutSuffix(room, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// greet queues a hello envelope so clients can mark the connection healthy
// before any chat traffic arrives.
func (c *client) greet() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"channels":       c.hub.channels,
			"uptime_seconds": int64(time.Since(c.hub.started).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.outbox <- msg:
	default:
	}
}

// writeLoop drains the outbox to the connection and keeps it alive with
// pings. It owns all writes; gorilla connections allow one writer at a time.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

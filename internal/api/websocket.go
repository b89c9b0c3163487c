package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/logging"
)

// ChannelAttributeChanged carries every attribute store change.
const ChannelAttributeChanged = "attribute.changed"

// Frame types of the relay protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// clientQueueSize is how many frames may wait for a slow client before
// further frames to it are dropped.
const clientQueueSize = 256

// WSMessage is a frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// clientFrame is a frame received from a client. The payload is decoded
// once the type is known.
type clientFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans relay events out to subscribed WebSocket clients.
//
// Only channels registered with Serve can be subscribed. A channel may carry
// a snapshot function whose result is returned in the subscribe reply.
type Hub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	channels map[string]func() any
	closed   bool
}

// NewHub creates a hub serving no channels.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
		channels: make(map[string]func() any),
	}
}

// Serve makes channel subscribable. snapshot may be nil.
func (h *Hub) Serve(channel string, snapshot func() any) {
	h.mu.Lock()
	h.channels[channel] = snapshot
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Broadcast queues an event for every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding relay event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add registers c. It reports false once the hub has shut down.
func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// snapshots resolves channels, returning the snapshot of each that has one.
// ok is false, with the offending name, when a channel is not served.
func (h *Hub) snapshots(channels []string) (snap map[string]any, unknown string, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap = make(map[string]any)
	for _, ch := range channels {
		fn, served := h.channels[ch]
		if !served {
			return nil, ch, false
		}
		if fn != nil {
			snap[ch] = fn()
		}
	}
	return snap, "", true
}

// wsClient is one relay connection. conn is nil in unit tests.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	queue    chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	channels map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		subject:  subject,
		queue:    make(chan []byte, clientQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request and starts the client's loops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	c := newWSClient(s.hub, conn, subject)
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("websocket client connected", "subject", subject, "clients", s.hub.ClientCount())

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// readLoop handles client frames until the connection fails. Any frame,
// pong included, extends the read deadline.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.close()
		c.hub.logger.Debug("websocket client disconnected", "subject", c.subject)
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	}
	//nolint:errcheck // Best-effort deadline
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline
		extend()
		c.handle(data)
	}
}

// writeLoop is the only writer on the connection.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ticker.Stop()
	defer c.close()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		//nolint:errcheck // Failure surfaces from WriteMessage
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-c.queue:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch frame.Type {
	case WSTypePing:
		c.reply(frame.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(frame.Payload) == 0 || json.Unmarshal(frame.Payload, &sub) != nil || len(sub.Channels) == 0 {
			c.replyError(frame.ID, "invalid "+frame.Type+" payload")
			return
		}
		if frame.Type == WSTypeSubscribe {
			c.subscribe(frame.ID, sub.Channels)
		} else {
			c.unsubscribe(frame.ID, sub.Channels)
		}
	default:
		c.replyError(frame.ID, "unknown message type: "+frame.Type)
	}
}

// subscribe adds channels all-or-nothing and replies with their snapshots.
func (c *wsClient) subscribe(id string, channels []string) {
	snap, unknown, ok := c.hub.snapshots(channels)
	if !ok {
		c.replyError(id, "unknown channel: "+unknown)
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()

	reply := map[string]any{"subscribed": channels}
	if len(snap) > 0 {
		reply["snapshot"] = snap
	}
	c.reply(id, WSTypeResponse, reply)
}

func (c *wsClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()
	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (c *wsClient) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue hands data to the write loop. It drops the frame when the client
// is gone or too far behind.
func (c *wsClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.queue <- data:
	default:
		c.hub.logger.Debug("websocket client queue full, frame dropped", "subject", c.subject)
	}
}

func (c *wsClient) reply(id, frameType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// close stops the client's loops. It is safe to call more than once.
func (c *wsClient) close() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

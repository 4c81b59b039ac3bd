package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/tracker"
	"go.uber.org/zap"
)

// WebSocket message types for the position stream
const (
	// Client -> Server messages
	MsgTypePing     = "ping"
	MsgTypeSnapshot = "snapshot"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeUpdate    = "update"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	clientQueueSize = 64
	writeWait       = 10 * time.Second
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// PositionHub streams tracker updates to dashboard WebSocket clients.
// It implements tracker.Sink. Clients that cannot keep up are dropped.
type PositionHub struct {
	upgrader  websocket.Upgrader
	tracker   LiveTracker
	links     association.Resolver
	dir       association.Directory
	readLimit int64
	log       *zap.Logger
	onClients func(int)

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

// HubOption configures a PositionHub
type HubOption func(*PositionHub)

// WithClientObserver is called with the client count whenever it changes.
func WithClientObserver(fn func(int)) HubOption {
	return func(h *PositionHub) { h.onClients = fn }
}

// WithReadLimit caps the size of client messages in bytes.
func WithReadLimit(n int64) HubOption {
	return func(h *PositionHub) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *zap.Logger) HubOption {
	return func(h *PositionHub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// NewPositionHub creates a hub. live, links and dir provide the snapshot
// sent on connect and on request.
func NewPositionHub(live LiveTracker, links association.Resolver, dir association.Directory, opts ...HubOption) *PositionHub {
	h := &PositionHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		tracker:   live,
		links:     links,
		dir:       dir,
		readLimit: 64 * 1024,
		log:       zap.NewNop(),
		clients:   make(map[string]*wsClient),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("ws")
	return h
}

// HandleWebSocket upgrades the connection and streams updates until the
// client goes away
func (h *PositionHub) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(h.readLimit)

	client := &wsClient{
		id:   uuid.New().String(),
		conn: ws,
		send: make(chan []byte, clientQueueSize),
	}
	if !h.add(client) {
		ws.Close()
		return nil
	}
	log := h.log.With(zap.String("client", client.id))
	log.Info("client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(client)
	}()

	h.enqueue(client, WSMessage{Type: MsgTypeConnected, ID: client.id, Timestamp: time.Now().UnixMilli()})
	h.sendSnapshot(client)

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("connection error", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			h.enqueue(client, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		case MsgTypeSnapshot:
			h.sendSnapshot(client)
		default:
			h.enqueue(client, WSMessage{
				Type:      MsgTypeError,
				Timestamp: time.Now().UnixMilli(),
				Payload: mustJSON(WSErrorResponse{
					Type:    MsgTypeError,
					Message: "Unknown message type: " + msg.Type,
					Code:    "INVALID_TYPE",
				}),
			})
		}
	}

	h.remove(client)
	<-done
	ws.Close()
	log.Info("client disconnected")
	return nil
}

func (h *PositionHub) writeLoop(c *wsClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("write failed", zap.String("client", c.id), zap.Error(err))
			h.remove(c)
			// unblock the read loop
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *PositionHub) sendSnapshot(c *wsClient) {
	if h.tracker == nil {
		return
	}
	h.enqueue(c, WSMessage{
		Type:      MsgTypeSnapshot,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(h.tracker.Snapshot(h.links, h.dir)),
	})
}

// enqueue queues msg for one client, dropping the client when its queue is full.
func (h *PositionHub) enqueue(c *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encoding message failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		go h.drop(c)
	}
}

// Handle implements tracker.Sink.
func (h *PositionHub) Handle(u tracker.Update) {
	data, err := json.Marshal(WSMessage{
		Type:      MsgTypeUpdate,
		ID:        u.TagID,
		Timestamp: u.At.UnixMilli(),
		Payload:   mustJSON(u),
	})
	if err != nil {
		h.log.Warn("encoding update failed", zap.Error(err))
		return
	}

	var slow []*wsClient
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

func (h *PositionHub) drop(c *wsClient) {
	h.log.Warn("dropping slow client", zap.String("client", c.id))
	h.remove(c)
}

func (h *PositionHub) add(c *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.notify(n)
	return true
}

func (h *PositionHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	n := len(h.clients)
	c.close()
	h.mu.Unlock()
	h.notify(n)
}

func (h *PositionHub) notify(n int) {
	if h.onClients != nil {
		h.onClients(n)
	}
}

// Clients returns the number of connected clients.
func (h *PositionHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *PositionHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	for _, c := range clients {
		c.close()
	}
	h.mu.Unlock()
	h.notify(0)
}

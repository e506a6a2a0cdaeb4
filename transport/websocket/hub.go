package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/telemetry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Time allowed for a client command to run. A program replay started
	// from a socket runs in the background and is not bound by it.
	commandTimeout = 10 * time.Second
)

// Message types sent to clients
const (
	TypeEvent         = "event"
	TypeStateUpdate   = "state_update"
	TypeCommandResult = "command_result"
	TypeError         = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message represents an outgoing WebSocket message
type Message struct {
	SessionID string            `json:"session_id"`
	Type      string            `json:"type"`
	Event     *engine.Event     `json:"event,omitempty"`
	GameState *engine.GameState `json:"game_state,omitempty"`
	Data      interface{}       `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Inbound is a message from a client. Key is a keyboard key name such as
// "ArrowUp" and is used when Command is empty.
type Inbound struct {
	Command string `json:"command,omitempty"`
	Key     string `json:"key,omitempty"`
}

// CommandHandler executes a command word for a session and returns the
// value sent back to the issuing client
type CommandHandler func(ctx context.Context, sessionID, command string) (interface{}, error)

// Client represents a WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by session ID, written only by Run
	sessions map[string]map[*Client]bool
	mu       sync.RWMutex

	// Outbound messages for a session
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	handler CommandHandler
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Hub
type Option func(*Hub)

// WithCommandHandler lets clients submit commands over the socket
func WithCommandHandler(h CommandHandler) Option {
	return func(hub *Hub) { hub.handler = h }
}

// WithLogger sets the hub logger
func WithLogger(l zerolog.Logger) Option {
	return func(hub *Hub) { hub.logger = l }
}

// WithMetrics records connected client counts
func WithMetrics(m *telemetry.Metrics) Option {
	return func(hub *Hub) { hub.metrics = m }
}

// NewHub creates a new WebSocket hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, engine.WebSocketBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetCommandHandler replaces the command handler. Call it before Run.
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.handler = handler
}

// Run starts the hub's event loop and closes every client when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, engine.WebSocketBufferSize),
		sessionID: sessionID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// PublishEvent queues an engine event for every client of the session.
// It never blocks: engines publish while holding their lock.
func (h *Hub) PublishEvent(sessionID string, ev engine.Event) {
	event := ev
	h.enqueue(&Message{SessionID: sessionID, Type: TypeEvent, Event: &event})
}

// BroadcastToSession sends a game state update to all clients in a session
func (h *Hub) BroadcastToSession(sessionID string, state *engine.GameState) {
	h.enqueue(&Message{SessionID: sessionID, Type: TypeStateUpdate, GameState: state})
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn().Str("session", message.SessionID).Str("type", message.Type).Msg("broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of clients connected to a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// registerClient adds a client to a session
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.sessions[client.sessionID] == nil {
		h.sessions[client.sessionID] = make(map[*Client]bool)
	}
	h.sessions[client.sessionID][client] = true
	total := len(h.sessions[client.sessionID])
	h.mu.Unlock()

	h.metrics.AddWebSocketClients(1)
	h.logger.Info().Str("session", client.sessionID).Int("clients", total).Msg("client registered")
}

// unregisterClient removes a client from a session
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.sessions[client.sessionID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.send)

	// Clean up empty sessions
	if len(clients) == 0 {
		delete(h.sessions, client.sessionID)
	}
	remaining := len(clients)
	h.mu.Unlock()

	h.metrics.AddWebSocketClients(-1)
	h.logger.Info().Str("session", client.sessionID).Int("clients", remaining).Msg("client unregistered")
}

// broadcastMessage sends a message to all clients in a session
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for client := range h.sessions[message.SessionID] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Client's send channel is full, drop it
	for _, client := range slow {
		h.unregisterClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Client
	for _, clients := range h.sessions {
		for client := range clients {
			all = append(all, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range all {
		h.unregisterClient(client)
	}
}

// reply sends a message to this client only. The hub may already have
// closed the send channel, so the send is guarded.
func (c *Client) reply(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		c.hub.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.sessions[c.sessionID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleInbound decodes one client message and runs its command
func (c *Client) handleInbound(raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.reply(&Message{SessionID: c.sessionID, Type: TypeError, Error: "invalid message"})
		return
	}

	command := strings.TrimSpace(in.Command)
	if command == "" && in.Key != "" {
		action, ok := engine.ActionForKey(in.Key)
		if !ok {
			// Unbound keys are ignored
			return
		}
		command = action.String()
	}
	if command == "" {
		return
	}

	if c.hub.handler == nil {
		c.reply(&Message{SessionID: c.sessionID, Type: TypeError, Error: "commands are not accepted on this connection"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result, err := c.hub.handler(ctx, c.sessionID, command)
	if err != nil {
		c.reply(&Message{SessionID: c.sessionID, Type: TypeError, Error: err.Error()})
		return
	}
	c.reply(&Message{SessionID: c.sessionID, Type: TypeCommandResult, Data: result})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("session", c.sessionID).Msg("websocket error")
			}
			break
		}
		c.handleInbound(raw)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame so clients can decode each directly
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

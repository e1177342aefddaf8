// Package main provides the WebSocket event stream for renderer windows.
package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/models"
	"github.com/tablepos/terminal/internal/outbox/scheduler"
	"github.com/tablepos/terminal/internal/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin accepts renderer pages served from the local machine.
// Requests without an Origin header come from non-browser clients.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.RWMutex
	subscriptions map[string]bool
}

// wants reports whether the client receives events of this type.
// A client with no subscriptions receives everything.
func (c *WSClient) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

func (c *WSClient) subscribe(events []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if on {
			c.subscriptions[e] = true
		} else {
			delete(c.subscriptions, e)
		}
	}
}

type wsMessage struct {
	eventType string
	payload   []byte
}

// WSHub maintains active client connections and broadcasts outbox events.
type WSHub struct {
	clients   map[string]*WSClient
	broadcast chan wsMessage
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// =====================================================
// WebSocket Event Types
// =====================================================

const (
	EventItemProcessed   = "outbox.item_processed"
	EventItemFailed      = "outbox.item_failed"
	EventQueueEmpty      = "outbox.queue_empty"
	EventNetworkRestored = "outbox.network_restored"
	EventNetworkLost     = "outbox.network_lost"
)

// NewWSHub creates a new WebSocket hub and starts its loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:   make(map[string]*WSClient),
		broadcast: make(chan wsMessage, sendBufferSize),
		done:      make(chan struct{}),
	}
	go hub.run()
	return hub
}

// register adds a client. It reports false once the hub is closed.
func (h *WSHub) register(client *WSClient) bool {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return false
	default:
	}
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	logging.Debug("WebSocket client connected",
		map[string]interface{}{"component": "ws", "client_id": client.id, "total": total})
	return true
}

// unregister removes a client and closes its send channel.
func (h *WSHub) unregister(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	logging.Debug("WebSocket client disconnected",
		map[string]interface{}{"component": "ws", "client_id": client.id, "total": total})
}

// run fans broadcasts out to subscribed clients.
func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(message.eventType) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Slow consumer
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the hub.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to all subscribed clients. It never blocks the
// caller once the hub is closed.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err, map[string]interface{}{"component": "ws"})
		return
	}

	select {
	case h.broadcast <- wsMessage{eventType: messageType, payload: bytes}:
	case <-h.done:
	}
}

// =====================================================
// Outbox Event Broadcasters
// =====================================================

// BroadcastItemProcessed notifies clients that a queued operation replayed.
func (h *WSHub) BroadcastItemProcessed(item *models.QueueItem) {
	h.Broadcast(EventItemProcessed, map[string]interface{}{
		"item_id":  item.ID,
		"method":   string(item.Method),
		"url":      item.URL,
		"priority": string(item.Priority),
		"type":     item.Metadata.Type,
		"retries":  item.Retries,
	})
}

// BroadcastItemFailed notifies clients that an operation was dropped after
// exhausting its retries.
func (h *WSHub) BroadcastItemFailed(item *models.QueueItem, err error) {
	data := map[string]interface{}{
		"item_id":     item.ID,
		"method":      string(item.Method),
		"url":         item.URL,
		"type":        item.Metadata.Type,
		"entity_id":   item.Metadata.EntityID,
		"retries":     item.Retries,
		"max_retries": item.MaxRetries,
		"error_code":  string(apperrors.KindOf(err)),
		"error":       err.Error(),
	}
	if status := apperrors.StatusCode(err); status != 0 {
		data["status_code"] = status
	}
	h.Broadcast(EventItemFailed, data)
}

// BroadcastQueueEmpty notifies clients that a pass drained the queue.
func (h *WSHub) BroadcastQueueEmpty() {
	h.Broadcast(EventQueueEmpty, map[string]interface{}{"queue_length": 0})
}

// BroadcastNetworkRestored notifies clients that the terminal is back online.
func (h *WSHub) BroadcastNetworkRestored() {
	h.Broadcast(EventNetworkRestored, map[string]interface{}{"online": true})
}

// BroadcastNetworkLost notifies clients that the terminal went offline.
func (h *WSHub) BroadcastNetworkLost() {
	h.Broadcast(EventNetworkLost, map[string]interface{}{"online": false})
}

// Callbacks binds the hub to scheduler notifications.
func (h *WSHub) Callbacks() scheduler.Callbacks {
	return scheduler.Callbacks{
		OnItemProcessed:   h.BroadcastItemProcessed,
		OnItemFailed:      h.BroadcastItemFailed,
		OnQueueEmpty:      h.BroadcastQueueEmpty,
		OnNetworkRestored: h.BroadcastNetworkRestored,
		OnNetworkLost:     h.BroadcastNetworkLost,
	}
}

type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error",
					map[string]interface{}{"component": "ws", "client_id": c.id, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("Invalid WebSocket message",
				map[string]interface{}{"component": "ws", "client_id": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.subscribe(msg.Events, true)
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.subscribe(msg.Events, false)
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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

// reply queues a direct response to this client. It holds the hub lock so
// it never sends on a channel the hub has closed.
func (c *WSClient) reply(envelope map[string]interface{}) {
	envelope["timestamp"] = time.Now().Unix()
	bytes, err := json.Marshal(envelope)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- bytes:
	default:
	}
}

// HandleWebSocket handles WebSocket connections.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed",
				map[string]interface{}{"component": "ws", "error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, sendBufferSize),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		if !hub.register(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

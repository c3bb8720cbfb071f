package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/engine"
	"github.com/uvote/uvote-backend/internal/metrics"
)

// Hub fans settlement-engine events out to websocket subscribers. Clients
// subscribe to per-market topics ("market:42") or "markets" for everything.
// Delivery is best-effort: a slow client is dropped, never waited on.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan topicMessage

	allowedOrigins []string
	logger         *zap.SugaredLogger
	metrics        *metrics.Metrics
	mu             sync.RWMutex
}

type topicMessage struct {
	topic   string
	payload []byte
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
	mu     sync.Mutex
}

// Message is the wire envelope for every event pushed to clients.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type subscriptionRequest struct {
	Type   string   `json:"type"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

func NewHub(allowedOrigins []string, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan topicMessage, 64),
		allowedOrigins: allowedOrigins,
		logger:         logger,
		metrics:        m,
	}
}

// Publish implements engine.EventSink.
func (h *Hub) Publish(ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Errorw("Failed to marshal market event", "error", err)
		return
	}
	msg := Message{
		Type:      ev.Type,
		Topic:     fmt.Sprintf("market:%d", ev.MarketID),
		Data:      data,
		Timestamp: ev.At.Unix(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal ws message", "error", err)
		return
	}
	select {
	case h.broadcast <- topicMessage{topic: msg.Topic, payload: payload}:
	default:
		h.logger.Warnw("Event broadcast buffer full; dropping", "topic", msg.Topic)
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.DecrementConnections(ctx)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// "markets" is the firehose every client starts on; the
				// per-market topic reaches explicit subscribers.
				if !client.subscribed(msg.topic) && !client.subscribed("markets") {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer; drop it rather than stall the hub.
					go func(c *Client) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// ServeHTTP upgrades the connection and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // same-origin
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 32),
		topics: map[string]bool{"markets": true},
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics["markets"] || c.topics[topic]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscriptionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.mu.Lock()
		switch req.Type {
		case "subscribe":
			delete(c.topics, "markets")
			for _, t := range req.Topics {
				c.topics[t] = true
			}
		case "unsubscribe":
			for _, t := range req.Topics {
				delete(c.topics, t)
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

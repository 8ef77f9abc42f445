package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin than the API
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id             string
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	defaultQueryID string
	logger         *slog.Logger
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type    string `json:"type"`
	QueryID string `json:"query_id,omitempty"`
}

// NewClient creates a new WebSocket client. A subscribe message without a
// query id subscribes to defaultQueryID.
func NewClient(hub *Hub, conn *websocket.Conn, defaultQueryID string, logger *slog.Logger) *Client {
	return &Client{
		id:             uuid.New().String(),
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		defaultQueryID: defaultQueryID,
		logger:         logger,
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.replyError("invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

// handleMessage routes a client message. Subscriptions are acknowledged by
// the hub once applied.
func (c *Client) handleMessage(msg ClientMessage) {
	queryID := msg.QueryID
	if queryID == "" {
		queryID = c.defaultQueryID
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		if queryID == "" {
			c.replyError("query_id required for subscribe")
			return
		}
		c.hub.Subscribe(c, queryID)
	case MessageTypeUnsubscribe:
		c.hub.Unsubscribe(c, queryID)
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	default:
		c.replyError("unknown message type " + msg.Type)
	}
}

// writePump writes queued messages to the connection, one JSON document per
// frame, and keeps the connection alive with pings
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

// reply queues a message for this client only. It drops the message when the
// client is not keeping up.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply", "client_id", c.id, "type", msg.Type)
	}
}

func (c *Client) replyError(errMsg string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": errMsg}})
}

// ServeWs handles WebSocket requests from peers. The query_id URL parameter
// subscribes the connection right away.
func ServeWs(hub *Hub, defaultQueryID string, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, defaultQueryID, logger)
	hub.Register(client)

	if queryID := r.URL.Query().Get("query_id"); queryID != "" {
		hub.Subscribe(client, queryID)
	}

	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id)
}


// Package websocket pushes leaderboard changes to dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/grip-leaderboard/internal/domain"
)

// Message types
const (
	MessageTypeEntriesAdded = "entries_added"
	MessageTypePollStatus   = "poll_status"
	MessageTypeSnapshot     = "snapshot"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	QueryID   string    `json:"query_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EntriesAdded carries the entries merged by one poll cycle, newest first
type EntriesAdded struct {
	QueryID string            `json:"query_id"`
	Entries []domain.LogEntry `json:"entries"`
	Total   int               `json:"total"`
}

// Snapshot is the leaderboard state a client receives when it subscribes
type Snapshot struct {
	QueryID string            `json:"query_id"`
	Status  domain.PollStatus `json:"status"`
	Entries []domain.LogEntry `json:"entries"`
	Total   int               `json:"total"`
}

// SnapshotSource returns the current state of a query id. ok is false for
// query ids the source does not track.
type SnapshotSource interface {
	Snapshot(queryID string) (snapshot Snapshot, ok bool)
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by query id
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	snapshots SnapshotSource

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	queryID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetSnapshotSource makes subscribers receive the current state of their
// query id and rejects subscriptions to query ids the source does not track.
// It must be called before Run.
func (h *Hub) SetSnapshotSource(source SnapshotSource) {
	h.snapshots = source
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.subscribe:
			h.addSubscription(req)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			connected := h.allClients[req.client]
			h.dropSubscription(req.client, req.queryID)
			h.mu.Unlock()
			if connected {
				req.client.reply(Message{Type: MessageTypeUnsubscribed, QueryID: req.queryID})
			}
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "query_id", req.queryID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// addSubscription subscribes a connected client, acknowledges it and sends
// the current snapshot of the query id. It runs on the Run goroutine, the
// only one that closes send channels.
func (h *Hub) addSubscription(req *subscriptionRequest) {
	h.mu.RLock()
	connected := h.allClients[req.client]
	h.mu.RUnlock()
	if !connected {
		return
	}

	var snapshot Snapshot
	if h.snapshots != nil {
		var ok bool
		snapshot, ok = h.snapshots.Snapshot(req.queryID)
		if !ok {
			req.client.replyError("unknown query_id " + req.queryID)
			return
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[req.queryID]; !ok {
		h.clients[req.queryID] = make(map[*Client]bool)
	}
	h.clients[req.queryID][req.client] = true
	h.mu.Unlock()
	h.logger.Debug("client subscribed", "client_id", req.client.id, "query_id", req.queryID)

	req.client.reply(Message{Type: MessageTypeSubscribed, QueryID: req.queryID})
	if h.snapshots != nil {
		req.client.reply(Message{Type: MessageTypeSnapshot, QueryID: req.queryID, Data: snapshot})
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for queryID := range h.clients {
		h.dropSubscription(client, queryID)
	}
	close(client.send)
	h.logger.Debug("client unregistered", "client_id", client.id)
}

// dropSubscription must be called with mu held
func (h *Hub) dropSubscription(client *Client, queryID string) {
	clients, ok := h.clients[queryID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, queryID)
	}
}

// broadcastMessage sends a message to the subscribers of its query id, or
// to every client when the message carries none
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.QueryID != "" {
		targets = h.clients[message.QueryID]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastEntries notifies subscribers of the entries added by a poll
func (h *Hub) BroadcastEntries(queryID string, entries []domain.LogEntry, total int) {
	h.enqueue(&Message{
		Type:    MessageTypeEntriesAdded,
		QueryID: queryID,
		Data: EntriesAdded{
			QueryID: queryID,
			Entries: entries,
			Total:   total,
		},
		Timestamp: time.Now(),
	})
}

// BroadcastStatus notifies subscribers of the outcome of a poll
func (h *Hub) BroadcastStatus(status domain.PollStatus) {
	h.enqueue(&Message{
		Type:      MessageTypePollStatus,
		QueryID:   status.QueryID,
		Data:      status,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a query id subscription
func (h *Hub) Subscribe(client *Client, queryID string) {
	h.subscribe <- &subscriptionRequest{client: client, queryID: queryID}
}

// Unsubscribe removes a client from a query id subscription
func (h *Hub) Unsubscribe(client *Client, queryID string) {
	h.unsubscribe <- &subscriptionRequest{client: client, queryID: queryID}
}

// GetSubscriberCount returns the number of subscribers for a query id
func (h *Hub) GetSubscriberCount(queryID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[queryID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

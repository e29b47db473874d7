package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

// MessageType defines the type of live feed message
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a task was created, updated, or deleted
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeSyncComplete indicates a reconciliation run finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStatus carries the current sync status report
	MessageTypeStatus MessageType = "status"
)

// Message represents a live feed broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdateData contains task change information
type TaskUpdateData struct {
	TaskID     string            `json:"task_id"`
	Action     string            `json:"action"` // created, updated, deleted, requeued
	Title      string            `json:"title,omitempty"`
	Completed  bool              `json:"completed"`
	SyncStatus schema.SyncStatus `json:"sync_status"`
}

// Hub manages WebSocket clients and fans messages out to them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// welcome builds the message sent to each new client (may be nil)
	welcome func(ctx context.Context) (Message, bool)

	logger *log.Logger
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for all connected clients. It never blocks;
// messages are dropped when the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
		return
	default:
		h.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastTask announces a task change.
func (h *Hub) BroadcastTask(action string, task *schema.Task) {
	h.broadcastData(MessageTypeTaskUpdate, TaskUpdateData{
		TaskID:     task.ID,
		Action:     action,
		Title:      task.Title,
		Completed:  task.Completed,
		SyncStatus: task.SyncStatus,
	})
}

// BroadcastSync announces a finished reconciliation run.
func (h *Hub) BroadcastSync(res *reconcile.Result) {
	h.broadcastData(MessageTypeSyncComplete, res)
}

// BroadcastStatus announces the current status report.
func (h *Hub) BroadcastStatus(report *tasks.StatusReport) {
	h.broadcastData(MessageTypeStatus, report)
}

func (h *Hub) broadcastData(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// broadcastLoop handles message broadcasting to all clients
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeWS upgrades HTTP connections to WebSocket
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if h.welcome != nil {
		if msg, ok := h.welcome(r.Context()); ok {
			if data, err := json.Marshal(msg); err == nil {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected (total: %d)", clientCount)

	go h.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}

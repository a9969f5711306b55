// Package realtime streams dashboard events to connected UI clients over
// websocket.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/muatool/dashboard/internal/events"
)

// Hub tracks connected clients and fans messages out to them. The latest
// message of each sticky topic is replayed to clients that connect later.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[string]*Client
	sticky  map[string][]byte
	subs    []events.Subscription
}

type HubOption func(*Hub)

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:     slog.Default().With("component", "realtime"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		sticky:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.ID]; ok {
				old.Close()
			}
			h.clients[c.ID] = c
			backlog := make([][]byte, 0, len(h.sticky))
			for _, data := range h.sticky {
				backlog = append(backlog, data)
			}
			h.mu.Unlock()
			for _, data := range backlog {
				_ = c.sendRaw(data)
			}
			h.logger.Debug("client connected", "client", c.ID)

		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[c.ID]; ok && cur == c {
				delete(h.clients, c.ID)
			}
			h.mu.Unlock()
			c.Close()
			h.logger.Debug("client disconnected", "client", c.ID)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("broadcast encode failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	if isSticky(msg.Type) {
		h.sticky[msg.Type] = data
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.sendRaw(data); err == ErrClientSendBufferFull {
			h.logger.Warn("client too slow, dropping", "client", c.ID)
			go h.unregisterClient(c)
		}
	}
}

func isSticky(topic string) bool {
	return topic == events.TopicConnection || topic == events.TopicVersion
}

// Broadcast queues msg for every client. It reports false once the hub has
// stopped.
func (h *Hub) Broadcast(msg Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Attach forwards every dashboard topic of subject to the clients.
func (h *Hub) Attach(subject *events.Subject) {
	subs := []events.Subscription{
		forward[events.ConnectionEvent](h, subject, events.TopicConnection),
		forward[events.NoticeEvent](h, subject, events.TopicNotice),
		forward[events.VersionEvent](h, subject, events.TopicVersion),
		forward[events.ToolEvent](h, subject, events.TopicTool),
	}
	h.mu.Lock()
	h.subs = append(h.subs, subs...)
	h.mu.Unlock()
}

func forward[T any](h *Hub, subject *events.Subject, topic string) events.Subscription {
	return events.Subscribe(subject, topic, func(ctx context.Context, v T) error {
		h.Broadcast(Message{Type: topic, Data: v})
		return nil
	}, true)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for id, c := range h.clients {
			c.Close()
			delete(h.clients, id)
		}
		subs := h.subs
		h.subs = nil
		h.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
	})
}

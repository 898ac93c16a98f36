package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/domain/notification"
)

// WatchAll is the group a client joins to receive every event.
const WatchAll = "*"

// Hub manages SSE clients and delivers notifications on the sse channel.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*notification.SSEClient
	heartbeat time.Duration
	logger    zerolog.Logger
}

var (
	_ notification.SSEHub = (*Hub)(nil)
	_ notification.Sink   = (*Hub)(nil)
)

func NewHub(heartbeat time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*notification.SSEClient),
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "sse").Logger(),
	}
}

func (h *Hub) Channel() notification.Channel {
	return notification.ChannelSSE
}

// Deliver sends n to every connected recipient and to watchers. Slow
// clients whose buffer is full miss the event.
func (h *Hub) Deliver(ctx context.Context, n *notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := notification.NewSSEMessage(string(n.Event), data)

	h.mu.RLock()
	targets := make([]string, 0, len(h.clients))
	for id, c := range h.clients {
		if wantsMessage(c, n.Recipients) {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range targets {
		if err := h.SendToClient(id, msg); err != nil {
			h.logger.Warn().Err(err).Str("client_id", id).Str("event", string(n.Event)).Msg("sse event dropped")
		}
	}
	return nil
}

func wantsMessage(c *notification.SSEClient, recipients []string) bool {
	for _, g := range c.Groups {
		if g == WatchAll {
			return true
		}
	}
	if c.UserID == nil {
		return false
	}
	for _, r := range recipients {
		if r == *c.UserID {
			return true
		}
	}
	return false
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastToAll(message *notification.SSEMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		trySend(c, message)
	}
}

func (h *Hub) SendToClient(clientID string, message *notification.SSEMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return notification.ErrClientNotFound
	}
	if !trySend(c, message) {
		return notification.ErrChannelFull
	}
	return nil
}

// Start sends heartbeats until ctx is done, then disconnects everyone.
func (h *Hub) Start(ctx context.Context) {
	if h.heartbeat <= 0 {
		<-ctx.Done()
		h.Stop()
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case <-ticker.C:
			h.BroadcastToAll(notification.NewSSEMessage("heartbeat", json.RawMessage(`{}`)))
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}

package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Sink,SSEHub

import (
	"context"
)

// Sink delivers notifications for one channel. Implementations must not
// block on slow recipients for longer than ctx allows.
type Sink interface {
	Channel() Channel
	Deliver(ctx context.Context, n *Notification) error
}

// SSEHub defines the interface for managing SSE connections
type SSEHub interface {
	// Client management
	Register(client *SSEClient)
	Unregister(clientID string)
	GetClientCount() int

	// Broadcasting
	BroadcastToAll(message *SSEMessage)
	SendToClient(clientID string, message *SSEMessage) error

	// Lifecycle
	Start(ctx context.Context)
	Stop()
}

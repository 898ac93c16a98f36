package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery status of a notification
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusDropped Status = "DROPPED"
)

// Channel names a delivery channel configured on a workflow.
type Channel string

const (
	ChannelSSE   Channel = "sse"
	ChannelRedis Channel = "redis"
	ChannelLog   Channel = "log"
)

// Event names a request lifecycle event.
type Event string

const (
	EventRequestCreated    Event = "request.created"
	EventRevisionSubmitted Event = "revision.submitted"
	EventDecisionRecorded  Event = "decision.recorded"
	EventStepEntered       Event = "step.entered"
	EventRequestApproved   Event = "request.approved"
	EventRequestRejected   Event = "request.rejected"
	EventChangesRequested  Event = "request.needs_changes"
	EventRequestWithdrawn  Event = "request.withdrawn"
	EventRequestEscalated  Event = "request.escalated"
	EventStepTimeout       Event = "step.timeout"
	EventCommentAdded      Event = "comment.added"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClientNotFound    = errors.New("SSE client not found")
	ErrChannelFull       = errors.New("SSE message channel full")
	ErrCannotRetry       = errors.New("cannot retry notification")
	ErrUnknownChannel    = errors.New("no sink for channel")
)

// Notification is one event addressed to a set of recipients on one channel.
type Notification struct {
	NotificationID uuid.UUID       `json:"notificationId"`
	Event          Event           `json:"event"`
	RequestID      uuid.UUID       `json:"requestId"`
	StepID         string          `json:"stepId,omitempty"`
	Channel        Channel         `json:"channel"`
	Recipients     []string        `json:"recipients,omitempty"`
	Title          string          `json:"title"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	RetryCount     int             `json:"retryCount"`
	MaxRetries     int             `json:"maxRetries"`
	LastError      *string         `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	FailedAt       *time.Time      `json:"failedAt,omitempty"`
}

// NewNotification creates a new notification
func NewNotification(event Event, requestID uuid.UUID, channel Channel, recipients []string, title string, payload json.RawMessage) *Notification {
	return &Notification{
		NotificationID: uuid.New(),
		Event:          event,
		RequestID:      requestID,
		Channel:        channel,
		Recipients:     recipients,
		Title:          title,
		Payload:        payload,
		Status:         StatusPending,
		MaxRetries:     3,
		CreatedAt:      time.Now().UTC(),
	}
}

// CanTransitionTo checks if a transition to the target status is valid
func (n *Notification) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {StatusSent, StatusFailed},
		StatusSent:    {},
		StatusFailed:  {StatusPending, StatusDropped},
		StatusDropped: {},
	}

	for _, s := range transitions[n.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// MarkSent marks the notification as sent
func (n *Notification) MarkSent() error {
	if !n.CanTransitionTo(StatusSent) {
		return ErrInvalidTransition
	}
	n.Status = StatusSent
	now := time.Now().UTC()
	n.SentAt = &now
	return nil
}

// MarkFailed marks the notification as failed
func (n *Notification) MarkFailed(errMsg string) error {
	if !n.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	n.Status = StatusFailed
	now := time.Now().UTC()
	n.FailedAt = &now
	n.LastError = &errMsg
	n.RetryCount++
	return nil
}

// CanRetry checks if the notification can be retried
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries
}

// ResetForRetry resets the notification for retry
func (n *Notification) ResetForRetry() error {
	if !n.CanRetry() {
		return ErrCannotRetry
	}
	n.Status = StatusPending
	n.FailedAt = nil
	return nil
}

// Drop gives up on a failed notification.
func (n *Notification) Drop() error {
	if !n.CanTransitionTo(StatusDropped) {
		return ErrInvalidTransition
	}
	n.Status = StatusDropped
	return nil
}

// IsTerminal returns true if the notification is in a terminal state
func (n *Notification) IsTerminal() bool {
	return n.Status == StatusSent || n.Status == StatusDropped
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      *string
	Groups      []string
	ConnectedAt time.Time
	LastEventAt *time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string, groups []string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		Groups:      groups,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Retry     *int            `json:"retry,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

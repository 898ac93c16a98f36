package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/domain/identity"
	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Envelope describes one lifecycle event before it is fanned out to
// channels and recipients.
type Envelope struct {
	Event     notification.Event
	RequestID uuid.UUID
	StepID    string
	Title     string
	// Recipients are concrete identity ids.
	Recipients []string
	// Assignees are expanded through the identity resolver.
	Assignees []workflow.Assignee
	Settings  workflow.NotificationSettings
	Payload   map[string]interface{}
}

// Observer receives delivery outcomes.
type Observer interface {
	ObserveNotification(channel notification.Channel, outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveNotification(notification.Channel, string) {}

// Config sizes the dispatcher.
type Config struct {
	Workers      int
	QueueSize    int
	RetryBackoff time.Duration
	// DefaultChannels is used when a workflow configures none.
	DefaultChannels []notification.Channel
}

// Dispatcher delivers notifications asynchronously. Publish never blocks;
// a full queue drops the notification with a warning.
type Dispatcher struct {
	sinks    map[notification.Channel]notification.Sink
	resolver identity.Resolver
	cfg      Config
	observer Observer
	queue    chan *notification.Notification
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sinks []notification.Sink, resolver identity.Resolver, cfg Config, observer Observer, logger zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if len(cfg.DefaultChannels) == 0 {
		cfg.DefaultChannels = []notification.Channel{notification.ChannelSSE}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	bySink := make(map[notification.Channel]notification.Sink, len(sinks))
	for _, s := range sinks {
		bySink[s.Channel()] = s
	}
	return &Dispatcher{
		sinks:    bySink,
		resolver: resolver,
		cfg:      cfg,
		observer: observer,
		queue:    make(chan *notification.Notification, cfg.QueueSize),
		logger:   logger.With().Str("service", "notification").Logger(),
	}
}

// Start launches the delivery workers. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-d.queue:
					d.deliver(ctx, n)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Publish fans an envelope out to its channels.
func (d *Dispatcher) Publish(ctx context.Context, env Envelope) {
	if !wants(env.Settings, env.Event) {
		return
	}
	recipients := d.recipients(ctx, env)
	payload := map[string]interface{}{
		"event":     env.Event,
		"requestId": env.RequestID,
	}
	if env.StepID != "" {
		payload["stepId"] = env.StepID
	}
	for k, v := range env.Payload {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", string(env.Event)).Msg("failed to encode notification payload")
		return
	}

	for _, ch := range d.channels(env.Settings) {
		n := notification.NewNotification(env.Event, env.RequestID, ch, recipients, env.Title, data)
		n.StepID = env.StepID
		select {
		case d.queue <- n:
		default:
			d.observer.ObserveNotification(ch, "dropped")
			d.logger.Warn().
				Str("event", string(env.Event)).
				Str("channel", string(ch)).
				Str("request_id", env.RequestID.String()).
				Msg("notification queue full; dropping")
		}
	}
}

func (d *Dispatcher) recipients(ctx context.Context, env Envelope) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(env.Recipients...)
	add(env.Settings.Recipients...)
	if len(env.Assignees) > 0 && d.resolver != nil {
		ids, err := d.resolver.Expand(ctx, env.Assignees)
		if err != nil {
			d.logger.Warn().Err(err).Str("request_id", env.RequestID.String()).Msg("failed to expand assignees")
		}
		add(ids...)
	}
	return out
}

func (d *Dispatcher) channels(settings workflow.NotificationSettings) []notification.Channel {
	if len(settings.Channels) == 0 {
		return d.cfg.DefaultChannels
	}
	out := make([]notification.Channel, 0, len(settings.Channels))
	for _, c := range settings.Channels {
		out = append(out, notification.Channel(c))
	}
	return out
}

func wants(settings workflow.NotificationSettings, ev notification.Event) bool {
	if len(settings.Events) == 0 {
		return true
	}
	for _, e := range settings.Events {
		if e == string(ev) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, n *notification.Notification) {
	sink, ok := d.sinks[n.Channel]
	if !ok {
		d.observer.ObserveNotification(n.Channel, "unknown_channel")
		d.logger.Warn().Str("channel", string(n.Channel)).Err(notification.ErrUnknownChannel).Msg("notification not delivered")
		return
	}

	op := func() error {
		err := sink.Deliver(ctx, n)
		if err == nil {
			return n.MarkSent()
		}
		_ = n.MarkFailed(err.Error())
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if resetErr := n.ResetForRetry(); resetErr != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(d.cfg.RetryBackoff), ctx)
	if err := backoff.Retry(op, b); err != nil {
		_ = n.Drop()
		d.observer.ObserveNotification(n.Channel, "failed")
		d.logger.Error().Err(err).
			Str("notification_id", n.NotificationID.String()).
			Str("channel", string(n.Channel)).
			Int("attempts", n.RetryCount).
			Msg("notification delivery failed")
		return
	}
	d.observer.ObserveNotification(n.Channel, "sent")
}

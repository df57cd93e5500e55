package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Logger mirrors the zap sugared logging seam used throughout the platform
// packages.
type Logger func(msg string, keysAndValues ...any)

// PubSubOrderEventPublisher emits order lifecycle events to a Pub/Sub topic.
// Publishing is best effort; failures are logged and never surfaced to the
// request path.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	logger  Logger
	clock   func() time.Time
	marshal func(any) ([]byte, error)
	timeout time.Duration
}

// PubSubOrderEventPublisherOption customises the publisher.
type PubSubOrderEventPublisherOption func(*PubSubOrderEventPublisher)

// WithPublishLogger sets the logger used for publish failures.
func WithPublishLogger(logger Logger) PubSubOrderEventPublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublishClock overrides the timestamp source.
func WithPublishClock(clock func() time.Time) PubSubOrderEventPublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPublishTimeout bounds how long a publish may block once the request
// context is already done.
func WithPublishTimeout(timeout time.Duration) PubSubOrderEventPublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, opts ...PubSubOrderEventPublisherOption) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	publisher := &PubSubOrderEventPublisher{
		topic:   topic,
		logger:  func(string, ...any) {},
		clock:   time.Now,
		marshal: json.Marshal,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(publisher)
		}
	}
	return publisher, nil
}

type orderEventEnvelope struct {
	Event      string         `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publish emits one event message with the event name as a message attribute.
func (p *PubSubOrderEventPublisher) Publish(ctx context.Context, event string, payload map[string]any) {
	if p == nil || p.topic == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return
	}

	data, err := p.marshal(orderEventEnvelope{
		Event:      event,
		OccurredAt: p.clock().UTC(),
		Payload:    payload,
	})
	if err != nil {
		p.logger("jobs.order_events.marshal_failed", "event", event, "error", err.Error())
		return
	}

	attrs := map[string]string{"event": event}
	if orderID, ok := payload["orderId"].(string); ok && orderID != "" {
		attrs["orderId"] = orderID
	}

	// Detach from the request context so a cancelled request cannot drop the
	// event, but keep the wait bounded.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	result := p.topic.Publish(publishCtx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(publishCtx); err != nil {
		p.logger("jobs.order_events.publish_failed", "event", event, "error", err.Error())
	}
}

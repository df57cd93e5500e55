package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic, srv
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	topic, srv := newTestTopic(t)

	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	publisher, err := NewPubSubOrderEventPublisher(topic,
		WithPublishClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	publisher.Publish(context.Background(), "order.created", map[string]any{
		"orderId": "ord_1",
		"total":   103000,
	})

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var envelope orderEventEnvelope
	if err := json.Unmarshal(messages[0].Data, &envelope); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if envelope.Event != "order.created" {
		t.Fatalf("unexpected event %q", envelope.Event)
	}
	if !envelope.OccurredAt.Equal(now) {
		t.Fatalf("unexpected timestamp %s", envelope.OccurredAt)
	}
	if envelope.Payload["orderId"] != "ord_1" {
		t.Fatalf("unexpected payload %#v", envelope.Payload)
	}
	if attr := messages[0].Attributes["event"]; attr != "order.created" {
		t.Fatalf("expected event attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_1" {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
}

func TestPubSubOrderEventPublisherLogsFailures(t *testing.T) {
	topic, _ := newTestTopic(t)
	topic.Stop()

	var logged []string
	publisher, err := NewPubSubOrderEventPublisher(topic,
		WithPublishLogger(func(msg string, keysAndValues ...any) {
			logged = append(logged, msg)
		}),
		WithPublishTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	publisher.Publish(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})

	if len(logged) != 1 || logged[0] != "jobs.order_events.publish_failed" {
		t.Fatalf("expected publish failure to be logged, got %#v", logged)
	}
}

func TestPubSubOrderEventPublisherIgnoresEmptyEvent(t *testing.T) {
	topic, srv := newTestTopic(t)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	publisher.Publish(context.Background(), "  ", nil)

	if got := len(srv.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}

func TestPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

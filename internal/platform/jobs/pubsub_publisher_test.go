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

	"github.com/pagecraft/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:          "order.submitted",
		Provider:      "printful",
		OrderID:       "pf-1001",
		ProjectID:     "proj-1",
		CurrentStatus: "submitted",
		OccurredAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
		Metadata:      map[string]string{"batch": " b-1 ", "": "dropped"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Type != event.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["provider"]; attr != "printful" {
		t.Fatalf("expected provider attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["status"]; attr != "submitted" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["batch"]; attr != "b-1" {
		t.Fatalf("expected trimmed metadata attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes[""]; ok {
		t.Fatal("empty metadata keys must be dropped")
	}
}

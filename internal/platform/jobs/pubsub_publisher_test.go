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

	"github.com/hanko-field/fulfillment/internal/services"
)

func TestPubSubNotifierPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}

	msg := services.Notification{
		Kind:           services.NotificationRefund,
		OrderID:        "01HZX",
		OrderNumber:    "ORD-20250506-4821",
		Email:          "buyer@example.com",
		Currency:       "NGN",
		Amount:         500000,
		Reason:         "damaged",
		IdempotencyKey: "order.refund:01HZX",
		QueuedAt:       time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if err := notifier.Notify(ctx, msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.Notification
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != msg.OrderNumber || payload.Amount != msg.Amount || payload.Kind != msg.Kind {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["kind"]; attr != string(services.NotificationRefund) {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["reason"]; ok {
		t.Fatalf("reason must stay in the payload only")
	}
}

func TestNewPubSubNotifierRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotifier(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}

package eventbus

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRabbitMQPublisherConfirmsEvent(t *testing.T) {
	url := os.Getenv("PEKSEG_TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("set PEKSEG_TEST_RABBITMQ_URL to run rabbitmq integration test")
	}

	p, err := NewRabbitMQPublisher(url, "pekseg.events.test")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Publish(ctx, NewEvent(TopicSaleSettled, "main-bakery", "sale-it", map[string]int{"lines": 1})); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestNoopPublisherAcceptsEverything(t *testing.T) {
	if err := (NoopPublisher{}).Publish(context.Background(), NewEvent(TopicLedgerWarning, "x", "y", nil)); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

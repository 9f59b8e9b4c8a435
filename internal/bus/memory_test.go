package bus

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/beatmart/chatsync/internal/models"
)

func TestMemoryBusDelivers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var got []*models.Event
	sub, err := b.Subscribe(context.Background(), func(event *models.Event) {
		got = append(got, event)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	event := &models.Event{
		Type:           models.EventMessageInsert,
		ConversationID: uuid.New(),
	}
	if err := b.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 1 || got[0] != event {
		t.Fatalf("expected 1 delivered event, got %d", len(got))
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	count := 0
	sub, err := b.Subscribe(context.Background(), func(*models.Event) { count++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Publish(context.Background(), &models.Event{Type: models.EventMessageInsert})
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	b.Publish(context.Background(), &models.Event{Type: models.EventMessageInsert})

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	a, bCount := 0, 0
	b.Subscribe(context.Background(), func(*models.Event) { a++ })
	b.Subscribe(context.Background(), func(*models.Event) { bCount++ })

	b.Publish(context.Background(), &models.Event{Type: models.EventMessageInsert})

	if a != 1 || bCount != 1 {
		t.Fatalf("expected both subscribers delivered, got %d and %d", a, bCount)
	}
}

func TestMemoryBusCloseDropsSubscribers(t *testing.T) {
	b := NewMemoryBus()

	count := 0
	b.Subscribe(context.Background(), func(*models.Event) { count++ })
	b.Close()
	b.Publish(context.Background(), &models.Event{Type: models.EventMessageInsert})

	if count != 0 {
		t.Fatalf("expected no delivery after close, got %d", count)
	}
}

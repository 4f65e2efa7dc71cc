package broker

import (
	"context"
	"encoding/json"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageFor(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesOrderCreated(t *testing.T) {
	eh := NewEventHandler()

	var got *models.OrderCreatedEvent
	eh.OnOrderCreated(func(_ context.Context, event *models.OrderCreatedEvent) error {
		got = event
		return nil
	})

	event := &models.OrderCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   42,
		ClientID:  7,
	}
	err := eh.HandleMessage(context.Background(), messageFor(t, event))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, int64(7), got.ClientID)
}

func TestHandleMessageRoutesReadyForPickup(t *testing.T) {
	eh := NewEventHandler()

	var got *models.OrderReadyForPickupEvent
	eh.OnOrderReadyForPickup(func(_ context.Context, event *models.OrderReadyForPickupEvent) error {
		got = event
		return nil
	})

	event := &models.OrderReadyForPickupEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderReadyForPickup),
		OrderID:     42,
		WarehouseID: 10,
	}
	err := eh.HandleMessage(context.Background(), messageFor(t, event))

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.WarehouseID)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	eh := NewEventHandler()
	eh.OnOrderCreated(func(context.Context, *models.OrderCreatedEvent) error {
		t.Fatal("should not be called")
		return nil
	})

	event := &models.OrderCancelledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   42,
	}
	err := eh.HandleMessage(context.Background(), messageFor(t, event))
	assert.NoError(t, err)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()
	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}

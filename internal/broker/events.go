package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"fulfillment-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes order.created
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderReadyForPickup publishes order.ready_for_pickup
func (ep *EventPublisher) PublishOrderReadyForPickup(ctx context.Context, event *models.OrderReadyForPickupEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderAssignedPicker publishes order.assigned_picker
func (ep *EventPublisher) PublishOrderAssignedPicker(ctx context.Context, event *models.OrderAssignedPickerEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderAssignedCourier publishes order.assigned_courier
func (ep *EventPublisher) PublishOrderAssignedCourier(ctx context.Context, event *models.OrderAssignedCourierEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishReservationOutcome publishes reservation.released / reservation.expired
func (ep *EventPublisher) PublishReservationOutcome(ctx context.Context, event *models.ReservationOutcomeEvent) error {
	return ep.producer.PublishEvent(ctx, event.EventType, event)
}

// EventHandler routes incoming dispatch events
type EventHandler struct {
	onOrderCreated        func(context.Context, *models.OrderCreatedEvent) error
	onOrderReadyForPickup func(context.Context, *models.OrderReadyForPickupEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCreated registers a handler for order.created events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderReadyForPickup registers a handler for order.ready_for_pickup events
func (eh *EventHandler) OnOrderReadyForPickup(handler func(context.Context, *models.OrderReadyForPickupEvent) error) {
	eh.onOrderReadyForPickup = handler
}

// HandleMessage routes messages to the registered handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order.created event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderReadyForPickup:
		if eh.onOrderReadyForPickup != nil {
			var event models.OrderReadyForPickupEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order.ready_for_pickup event: %w", err)
			}
			return eh.onOrderReadyForPickup(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}

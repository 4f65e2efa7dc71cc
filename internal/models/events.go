package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated         = "order.created"
	EventTypeOrderReadyForPickup  = "order.ready_for_pickup"
	EventTypeOrderAssignedPicker  = "order.assigned_picker"
	EventTypeOrderAssignedCourier = "order.assigned_courier"
	EventTypeOrderCancelled       = "order.cancelled"
	EventTypeReservationReleased  = "reservation.released"
	EventTypeReservationExpired   = "reservation.expired"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent fills in the common event fields
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent published once checkout succeeds; triggers picker dispatch
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	ClientID    int64           `json:"client_id"`
	WarehouseID int64           `json:"warehouse_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderReadyForPickupEvent published when the picker finishes collecting items;
// triggers courier dispatch
type OrderReadyForPickupEvent struct {
	BaseEvent
	OrderID     int64 `json:"order_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// OrderAssignedPickerEvent published once a picker is bound to the order
type OrderAssignedPickerEvent struct {
	BaseEvent
	OrderID  int64 `json:"order_id"`
	PickerID int64 `json:"picker_id"`
}

// OrderAssignedCourierEvent published once a courier is bound to the order
type OrderAssignedCourierEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	CourierID int64 `json:"courier_id"`
}

// OrderCancelledEvent published when a checkout is compensated
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// ReservationOutcomeEvent published when holds are released or expired
type ReservationOutcomeEvent struct {
	BaseEvent
	ReservationIDs []int64 `json:"reservation_ids,omitempty"`
	Count          int64   `json:"count"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

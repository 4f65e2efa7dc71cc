package models

import (
	"database/sql"
	"time"
)

// Product represents a sellable product
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StockRecord represents durable stock counters for one (product, warehouse) pair.
// Invariant: available - reserved >= 0; reserved only changes inside
// reservation-owned transactions.
type StockRecord struct {
	ProductID   int64     `db:"product_id" json:"product_id"`
	WarehouseID int64     `db:"warehouse_id" json:"warehouse_id"`
	Available   int       `db:"available" json:"available"`
	Reserved    int       `db:"reserved" json:"reserved"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Reservation represents a TTL-bounded hold on stock
type Reservation struct {
	ID          int64         `db:"id" json:"id"`
	ProductID   int64         `db:"product_id" json:"product_id"`
	WarehouseID int64         `db:"warehouse_id" json:"warehouse_id"`
	UserID      int64         `db:"user_id" json:"user_id"`
	OrderID     sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	Quantity    int           `db:"quantity" json:"quantity"`
	Status      string        `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expires_at"`
}

// Order represents a customer order
type Order struct {
	ID             int64         `db:"id" json:"id"`
	ClientID       int64         `db:"client_id" json:"client_id"`
	WarehouseID    sql.NullInt64 `db:"warehouse_id" json:"warehouse_id,omitempty"`
	PickerID       sql.NullInt64 `db:"picker_id" json:"picker_id,omitempty"`
	CourierID      sql.NullInt64 `db:"courier_id" json:"courier_id,omitempty"`
	Status         string        `db:"status" json:"status"`
	TotalAmount    int64         `db:"total_amount" json:"total_amount"`
	Address        string        `db:"address" json:"address"`
	IdempotencyKey string        `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem represents one line of an order
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Warehouse represents a fulfillment location
type Warehouse struct {
	ID             int64   `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	Latitude       float64 `db:"latitude" json:"latitude"`
	Longitude      float64 `db:"longitude" json:"longitude"`
	DeliveryRadius float64 `db:"delivery_radius_km" json:"delivery_radius_km"`
	Active         bool    `db:"active" json:"active"`
}

// Picker represents a warehouse worker who collects order items.
// A picker holds at most one in-flight order via CurrentOrderID.
type Picker struct {
	ID             int64         `db:"id" json:"id"`
	WarehouseID    int64         `db:"warehouse_id" json:"warehouse_id"`
	Name           string        `db:"name" json:"name"`
	Rating         float64       `db:"rating" json:"rating"`
	Active         bool          `db:"active" json:"active"`
	CurrentOrderID sql.NullInt64 `db:"current_order_id" json:"current_order_id,omitempty"`
}

// Courier represents a delivery worker
type Courier struct {
	ID             int64         `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	Active         bool          `db:"active" json:"active"`
	CurrentOrderID sql.NullInt64 `db:"current_order_id" json:"current_order_id,omitempty"`
}

// Order statuses
const (
	OrderStatusPending         = "pending"
	OrderStatusConfirmed       = "confirmed"
	OrderStatusAssignedPicker  = "assigned_picker"
	OrderStatusAssignedCourier = "assigned_courier"
	OrderStatusDelivering      = "delivering"
	OrderStatusDelivered       = "delivered"
	OrderStatusCancelled       = "cancelled"
)

// Reservation statuses; completed, cancelled and expired are terminal
const (
	ReservationStatusActive    = "active"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusExpired   = "expired"
)

// Unavailable-item kinds reported by Reserve
const (
	UnavailableKindNotFound     = "not_found_in_store"
	UnavailableKindInsufficient = "insufficient_stock"
)

// ItemRequest is one requested line of a reservation or checkout
type ItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// UnavailableItem describes why one requested item could not be held.
// Kind distinguishes a missing stock record from a short one so callers
// can offer "remove item" vs "suggest substitute".
type UnavailableItem struct {
	ProductID int64  `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Kind      string `json:"kind"`
}

// PickerCandidate is a picker together with its current workload,
// produced by the worker registry for assignment ranking
type PickerCandidate struct {
	Picker
	InProgressOrders int `db:"in_progress_orders" json:"in_progress_orders"`
}

package resolver

import (
	"context"
	"fmt"
	"sort"

	"fulfillment-service/internal/geo"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// WarehouseRegistry lists warehouses accepting orders
type WarehouseRegistry interface {
	ListActiveWarehouses(ctx context.Context) ([]models.Warehouse, error)
}

// WorkerRegistry is the picker/courier surface of the durable store. Bind
// methods are compare-and-swap: they return false when a concurrent
// assignment grabbed the worker first.
type WorkerRegistry interface {
	ListPickerCandidates(ctx context.Context, warehouseID int64) ([]models.PickerCandidate, error)
	ListAvailableCouriers(ctx context.Context) ([]models.Courier, error)
	BindPicker(ctx context.Context, pickerID, orderID int64) (bool, error)
	BindCourier(ctx context.Context, courierID, orderID int64) (bool, error)
	UnbindPicker(ctx context.Context, pickerID int64) error
	UnbindCourier(ctx context.Context, courierID int64) error
}

// OrderStore is the order surface the resolver needs
type OrderStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
}

// PositionCache serves last-reported courier locations with a staleness
// bound; a courier without a fresh position is skipped
type PositionCache interface {
	GetCourierPosition(ctx context.Context, courierID int64) (geo.Point, bool, error)
}

// EventPublisher emits assignment and readiness events
type EventPublisher interface {
	PublishOrderAssignedPicker(ctx context.Context, event *models.OrderAssignedPickerEvent) error
	PublishOrderAssignedCourier(ctx context.Context, event *models.OrderAssignedCourierEvent) error
	PublishOrderReadyForPickup(ctx context.Context, event *models.OrderReadyForPickupEvent) error
}

// WarehouseCandidate is the transient result of warehouse resolution,
// consumed once by the checkout saga
type WarehouseCandidate struct {
	Warehouse    models.Warehouse `json:"warehouse"`
	DistanceKm   float64          `json:"distance_km"`
	WithinRadius bool             `json:"within_radius"`
	Warning      string           `json:"warning,omitempty"`
}

// Resolver assigns a warehouse, then a picker, then a courier to orders
type Resolver struct {
	warehouses    WarehouseRegistry
	workers       WorkerRegistry
	orders        OrderStore
	positions     PositionCache
	publisher     EventPublisher
	maxDistanceKm float64
	logger        *zap.Logger
}

// NewResolver creates a fulfillment resolver. publisher may be nil when no
// event transport is wired.
func NewResolver(
	warehouses WarehouseRegistry,
	workers WorkerRegistry,
	orders OrderStore,
	positions PositionCache,
	publisher EventPublisher,
	maxDistanceKm float64,
) *Resolver {
	return &Resolver{
		warehouses:    warehouses,
		workers:       workers,
		orders:        orders,
		positions:     positions,
		publisher:     publisher,
		maxDistanceKm: maxDistanceKm,
		logger:        util.GetLogger(),
	}
}

// ResolveWarehouse picks the nearest active warehouse for a client point.
// Inside the warehouse's own radius it is a normal match; between the radius
// and the global limit the same warehouse is returned with a degraded-service
// warning; beyond the limit the request is rejected.
func (r *Resolver) ResolveWarehouse(ctx context.Context, client geo.Point) (*WarehouseCandidate, error) {
	ctx, span := util.StartSpan(ctx, "Resolver.ResolveWarehouse")
	defer span.End()

	warehouses, err := r.warehouses.ListActiveWarehouses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	if len(warehouses) == 0 {
		util.WarehouseResolutionsTotal.WithLabelValues("no_warehouses").Inc()
		return nil, ErrNoWarehouses
	}

	nearest := warehouses[0]
	nearestDist := geo.Haversine(client, geo.Point{Lat: nearest.Latitude, Lon: nearest.Longitude})
	for _, w := range warehouses[1:] {
		if d := geo.Haversine(client, geo.Point{Lat: w.Latitude, Lon: w.Longitude}); d < nearestDist {
			nearest, nearestDist = w, d
		}
	}

	candidate := &WarehouseCandidate{Warehouse: nearest, DistanceKm: nearestDist}

	switch {
	case nearestDist <= nearest.DeliveryRadius:
		candidate.WithinRadius = true
		util.WarehouseResolutionsTotal.WithLabelValues("match").Inc()
	case nearestDist <= r.maxDistanceKm:
		candidate.Warning = fmt.Sprintf(
			"address is %.1f km from warehouse %q (radius %.1f km); delivery may be slow",
			nearestDist, nearest.Name, nearest.DeliveryRadius)
		util.WarehouseResolutionsTotal.WithLabelValues("warning").Inc()
		r.logger.Warn("Client outside warehouse radius, serving anyway",
			zap.Int64("warehouse_id", nearest.ID),
			zap.Float64("distance_km", nearestDist))
	default:
		util.WarehouseResolutionsTotal.WithLabelValues("out_of_area").Inc()
		return nil, &OutOfServiceAreaError{DistanceKm: nearestDist, LimitKm: r.maxDistanceKm}
	}

	return candidate, nil
}

// AssignPicker binds the least-loaded active picker at the order's warehouse,
// tie-broken by highest rating. The bind and the order status advance happen
// in one store transaction. Delivery of order events is at-least-once, so an
// order that already moved past confirmation is refused with
// ErrAlreadyAssigned instead of binding a second picker.
func (r *Resolver) AssignPicker(ctx context.Context, orderID int64) (*models.Picker, error) {
	ctx, span := util.StartSpan(ctx, "Resolver.AssignPicker")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusConfirmed {
		return nil, fmt.Errorf("%w: order %d is %s", ErrAlreadyAssigned, orderID, order.Status)
	}
	if !order.WarehouseID.Valid {
		return nil, fmt.Errorf("order %d has no resolved warehouse", orderID)
	}

	candidates, err := r.workers.ListPickerCandidates(ctx, order.WarehouseID.Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to list pickers: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].InProgressOrders != candidates[j].InProgressOrders {
			return candidates[i].InProgressOrders < candidates[j].InProgressOrders
		}
		return candidates[i].Rating > candidates[j].Rating
	})

	for _, c := range candidates {
		bound, err := r.workers.BindPicker(ctx, c.ID, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to bind picker: %w", err)
		}
		if !bound {
			continue
		}

		util.AssignmentsTotal.WithLabelValues("picker", "assigned").Inc()
		r.logger.Info("Picker assigned",
			zap.Int64("order_id", orderID),
			zap.Int64("picker_id", c.ID))

		r.publishPickerAssigned(ctx, orderID, c.ID)
		picker := c.Picker
		return &picker, nil
	}

	util.AssignmentsTotal.WithLabelValues("picker", "unavailable").Inc()
	return nil, ErrNoPickerAvailable
}

// AssignCourier binds the courier nearest to the warehouse among active,
// unbound couriers with a fresh last-reported position. Callers invoke it
// once the order is physically ready for pickup; a redelivered readiness
// event finds the order already past assigned_picker and is refused with
// ErrAlreadyAssigned.
func (r *Resolver) AssignCourier(ctx context.Context, orderID int64, warehouse geo.Point) (*models.Courier, error) {
	ctx, span := util.StartSpan(ctx, "Resolver.AssignCourier")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusAssignedPicker {
		return nil, fmt.Errorf("%w: order %d is %s", ErrAlreadyAssigned, orderID, order.Status)
	}

	couriers, err := r.workers.ListAvailableCouriers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list couriers: %w", err)
	}

	type ranked struct {
		courier  models.Courier
		distance float64
	}
	located := make([]ranked, 0, len(couriers))
	for _, c := range couriers {
		pos, known, err := r.positions.GetCourierPosition(ctx, c.ID)
		if err != nil {
			r.logger.Warn("Failed to read courier position",
				zap.Int64("courier_id", c.ID), zap.Error(err))
			continue
		}
		if !known {
			continue
		}
		located = append(located, ranked{courier: c, distance: geo.Haversine(warehouse, pos)})
	}

	sort.SliceStable(located, func(i, j int) bool {
		return located[i].distance < located[j].distance
	})

	for _, rc := range located {
		bound, err := r.workers.BindCourier(ctx, rc.courier.ID, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to bind courier: %w", err)
		}
		if !bound {
			continue
		}

		util.AssignmentsTotal.WithLabelValues("courier", "assigned").Inc()
		r.logger.Info("Courier assigned",
			zap.Int64("order_id", orderID),
			zap.Int64("courier_id", rc.courier.ID),
			zap.Float64("distance_km", rc.distance))

		r.publishCourierAssigned(ctx, orderID, rc.courier.ID)
		courier := rc.courier
		return &courier, nil
	}

	util.AssignmentsTotal.WithLabelValues("courier", "unavailable").Inc()
	return nil, ErrNoCourierAvailable
}

// MarkReadyForPickup records that the picker finished collecting the order:
// the picker is unbound and a readiness event triggers courier dispatch.
func (r *Resolver) MarkReadyForPickup(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "Resolver.MarkReadyForPickup")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusAssignedPicker {
		return fmt.Errorf("order %d is %s, not awaiting pickup readiness", orderID, order.Status)
	}

	if order.PickerID.Valid {
		if err := r.workers.UnbindPicker(ctx, order.PickerID.Int64); err != nil {
			return fmt.Errorf("failed to unbind picker: %w", err)
		}
	}

	if r.publisher != nil && order.WarehouseID.Valid {
		event := &models.OrderReadyForPickupEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeOrderReadyForPickup),
			OrderID:     orderID,
			WarehouseID: order.WarehouseID.Int64,
		}
		if err := r.publisher.PublishOrderReadyForPickup(ctx, event); err != nil {
			r.logger.Error("Failed to publish ready-for-pickup event", zap.Error(err))
		}
	}
	return nil
}

// MarkPickedUp records that the courier collected the order at the warehouse
// and started the delivery run
func (r *Resolver) MarkPickedUp(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "Resolver.MarkPickedUp")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusAssignedCourier {
		return fmt.Errorf("order %d is %s, not awaiting courier pickup", orderID, order.Status)
	}

	if err := r.orders.UpdateOrderStatus(ctx, orderID, models.OrderStatusDelivering); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// MarkDelivered completes the courier's part: the order becomes delivered and
// the courier is freed for the next assignment
func (r *Resolver) MarkDelivered(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "Resolver.MarkDelivered")
	defer span.End()

	order, err := r.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusDelivering {
		return fmt.Errorf("order %d is %s, not out for delivery", orderID, order.Status)
	}

	if err := r.orders.UpdateOrderStatus(ctx, orderID, models.OrderStatusDelivered); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if order.CourierID.Valid {
		if err := r.workers.UnbindCourier(ctx, order.CourierID.Int64); err != nil {
			return fmt.Errorf("failed to unbind courier: %w", err)
		}
	}
	return nil
}

func (r *Resolver) publishPickerAssigned(ctx context.Context, orderID, pickerID int64) {
	if r.publisher == nil {
		return
	}
	event := &models.OrderAssignedPickerEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderAssignedPicker),
		OrderID:   orderID,
		PickerID:  pickerID,
	}
	if err := r.publisher.PublishOrderAssignedPicker(ctx, event); err != nil {
		r.logger.Error("Failed to publish picker assignment event", zap.Error(err))
	}
}

func (r *Resolver) publishCourierAssigned(ctx context.Context, orderID, courierID int64) {
	if r.publisher == nil {
		return
	}
	event := &models.OrderAssignedCourierEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderAssignedCourier),
		OrderID:   orderID,
		CourierID: courierID,
	}
	if err := r.publisher.PublishOrderAssignedCourier(ctx, event); err != nil {
		r.logger.Error("Failed to publish courier assignment event", zap.Error(err))
	}
}

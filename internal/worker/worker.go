package worker

import (
	"context"
	"errors"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/geo"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resolver"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Assigner is the resolver surface the dispatch worker drives
type Assigner interface {
	AssignPicker(ctx context.Context, orderID int64) (*models.Picker, error)
	AssignCourier(ctx context.Context, orderID int64, warehouse geo.Point) (*models.Courier, error)
}

// WarehouseGetter looks up warehouse coordinates for courier dispatch
type WarehouseGetter interface {
	GetWarehouseByID(ctx context.Context, id int64) (*models.Warehouse, error)
}

// DispatchWorker drives asynchronous worker assignment off the order event
// stream: order.created gets a picker, order.ready_for_pickup gets a courier.
// Offsets commit after handling, so events arrive at-least-once; a redelivered
// event finds the order already advanced, is refused with ErrAlreadyAssigned
// and commits without binding a second worker.
type DispatchWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	resolver     Assigner
	warehouses   WarehouseGetter
	logger       *zap.Logger
}

// NewDispatchWorker creates a dispatch worker
func NewDispatchWorker(
	consumer *broker.Consumer,
	res Assigner,
	warehouses WarehouseGetter,
) *DispatchWorker {
	w := &DispatchWorker{
		consumer:   consumer,
		resolver:   res,
		warehouses: warehouses,
		logger:     util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(w.handleOrderCreated)
	eventHandler.OnOrderReadyForPickup(w.handleOrderReady)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *DispatchWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting dispatch worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DispatchWorker) Stop() error {
	w.logger.Info("Stopping dispatch worker")
	return w.consumer.Close()
}

func (w *DispatchWorker) handleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	_, err := w.resolver.AssignPicker(ctx, event.OrderID)
	switch {
	case errors.Is(err, resolver.ErrAlreadyAssigned):
		// redelivery: the first delivery already bound a picker
		w.logger.Info("Order already dispatched, skipping",
			zap.Int64("order_id", event.OrderID))
		return nil
	case errors.Is(err, resolver.ErrNoPickerAvailable):
		// Recoverable: the order stays in its current status and the retry
		// scheduler picks it up later. The message is committed.
		w.logger.Warn("No picker available, leaving order for retry",
			zap.Int64("order_id", event.OrderID))
		return nil
	}
	return err
}

func (w *DispatchWorker) handleOrderReady(ctx context.Context, event *models.OrderReadyForPickupEvent) error {
	warehouse, err := w.warehouses.GetWarehouseByID(ctx, event.WarehouseID)
	if err != nil {
		return err
	}

	_, err = w.resolver.AssignCourier(ctx, event.OrderID,
		geo.Point{Lat: warehouse.Latitude, Lon: warehouse.Longitude})
	switch {
	case errors.Is(err, resolver.ErrAlreadyAssigned):
		w.logger.Info("Order already dispatched, skipping",
			zap.Int64("order_id", event.OrderID))
		return nil
	case errors.Is(err, resolver.ErrNoCourierAvailable):
		w.logger.Warn("No courier available, leaving order for retry",
			zap.Int64("order_id", event.OrderID))
		return nil
	}
	return err
}

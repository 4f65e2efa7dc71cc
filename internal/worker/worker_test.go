package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fulfillment-service/internal/geo"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAssigner mirrors the resolver's redelivery behavior: the first
// assignment for an order binds a worker, every later one is refused
type fakeAssigner struct {
	pickerBound  map[int64]int64
	courierBound map[int64]int64
	nextWorkerID int64
	pickerErr    error
	courierErr   error
}

func newFakeAssigner() *fakeAssigner {
	return &fakeAssigner{
		pickerBound:  map[int64]int64{},
		courierBound: map[int64]int64{},
	}
}

func (f *fakeAssigner) AssignPicker(_ context.Context, orderID int64) (*models.Picker, error) {
	if f.pickerErr != nil {
		return nil, f.pickerErr
	}
	if _, ok := f.pickerBound[orderID]; ok {
		return nil, fmt.Errorf("%w: order %d", resolver.ErrAlreadyAssigned, orderID)
	}
	f.nextWorkerID++
	f.pickerBound[orderID] = f.nextWorkerID
	return &models.Picker{ID: f.nextWorkerID}, nil
}

func (f *fakeAssigner) AssignCourier(_ context.Context, orderID int64, _ geo.Point) (*models.Courier, error) {
	if f.courierErr != nil {
		return nil, f.courierErr
	}
	if _, ok := f.courierBound[orderID]; ok {
		return nil, fmt.Errorf("%w: order %d", resolver.ErrAlreadyAssigned, orderID)
	}
	f.nextWorkerID++
	f.courierBound[orderID] = f.nextWorkerID
	return &models.Courier{ID: f.nextWorkerID}, nil
}

type fakeWarehouseGetter struct{}

func (fakeWarehouseGetter) GetWarehouseByID(_ context.Context, id int64) (*models.Warehouse, error) {
	return &models.Warehouse{ID: id, Latitude: 55.75, Longitude: 37.61}, nil
}

func orderCreated(orderID int64) *models.OrderCreatedEvent {
	return &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     orderID,
		WarehouseID: 10,
	}
}

func orderReady(orderID int64) *models.OrderReadyForPickupEvent {
	return &models.OrderReadyForPickupEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderReadyForPickup),
		OrderID:     orderID,
		WarehouseID: 10,
	}
}

func TestRedeliveredOrderCreatedBindsOnePicker(t *testing.T) {
	assigner := newFakeAssigner()
	w := NewDispatchWorker(nil, assigner, fakeWarehouseGetter{})

	require.NoError(t, w.handleOrderCreated(context.Background(), orderCreated(100)))

	// the same event again: handled without error so the offset commits,
	// and no second picker is bound
	require.NoError(t, w.handleOrderCreated(context.Background(), orderCreated(100)))
	assert.Len(t, assigner.pickerBound, 1)
}

func TestRedeliveredOrderReadyBindsOneCourier(t *testing.T) {
	assigner := newFakeAssigner()
	w := NewDispatchWorker(nil, assigner, fakeWarehouseGetter{})

	require.NoError(t, w.handleOrderReady(context.Background(), orderReady(100)))
	require.NoError(t, w.handleOrderReady(context.Background(), orderReady(100)))
	assert.Len(t, assigner.courierBound, 1)
}

func TestNoCapacityCommitsForRetry(t *testing.T) {
	assigner := newFakeAssigner()
	assigner.pickerErr = resolver.ErrNoPickerAvailable
	assigner.courierErr = resolver.ErrNoCourierAvailable
	w := NewDispatchWorker(nil, assigner, fakeWarehouseGetter{})

	assert.NoError(t, w.handleOrderCreated(context.Background(), orderCreated(100)))
	assert.NoError(t, w.handleOrderReady(context.Background(), orderReady(100)))
}

func TestInfrastructureErrorPropagates(t *testing.T) {
	assigner := newFakeAssigner()
	assigner.pickerErr = errors.New("store unreachable")
	w := NewDispatchWorker(nil, assigner, fakeWarehouseGetter{})

	assert.Error(t, w.handleOrderCreated(context.Background(), orderCreated(100)))
}

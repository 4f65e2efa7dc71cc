package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable Clock for TTL tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stockKey struct {
	productID   int64
	warehouseID int64
}

// memoryStockStore implements StockStore with the same transactional
// semantics the SQL store provides: each call runs under one lock, so
// availability checks and counter updates are linearized.
type memoryStockStore struct {
	mu           sync.Mutex
	stock        map[stockKey]*models.StockRecord
	reservations map[int64]*models.Reservation
	nextID       int64
}

func newMemoryStockStore() *memoryStockStore {
	return &memoryStockStore{
		stock:        make(map[stockKey]*models.StockRecord),
		reservations: make(map[int64]*models.Reservation),
	}
}

func (s *memoryStockStore) setStock(productID, warehouseID int64, available, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[stockKey{productID, warehouseID}] = &models.StockRecord{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Available:   available,
		Reserved:    reserved,
	}
}

func (s *memoryStockStore) getStock(productID, warehouseID int64) models.StockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stock[stockKey{productID, warehouseID}]
}

func (s *memoryStockStore) getReservation(id int64) models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reservations[id]
}

func (s *memoryStockStore) ReserveItems(_ context.Context, warehouseID, userID int64, items []models.ItemRequest, expiresAt time.Time) ([]int64, []models.UnavailableItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unavailable []models.UnavailableItem
	for _, item := range items {
		rec, ok := s.stock[stockKey{item.ProductID, warehouseID}]
		if !ok {
			unavailable = append(unavailable, models.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Kind:      models.UnavailableKindNotFound,
			})
			continue
		}
		if free := rec.Available - rec.Reserved; free < item.Quantity {
			unavailable = append(unavailable, models.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: free,
				Kind:      models.UnavailableKindInsufficient,
			})
		}
	}
	if len(unavailable) > 0 {
		return nil, unavailable, nil
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		s.stock[stockKey{item.ProductID, warehouseID}].Reserved += item.Quantity
		s.nextID++
		s.reservations[s.nextID] = &models.Reservation{
			ID:          s.nextID,
			ProductID:   item.ProductID,
			WarehouseID: warehouseID,
			UserID:      userID,
			Quantity:    item.Quantity,
			Status:      models.ReservationStatusActive,
			ExpiresAt:   expiresAt,
		}
		ids = append(ids, s.nextID)
	}
	return ids, nil, nil
}

func (s *memoryStockStore) ConfirmReservations(_ context.Context, ids []int64, orderID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var confirmed int64
	for _, id := range ids {
		r, ok := s.reservations[id]
		if !ok || r.Status != models.ReservationStatusActive {
			continue
		}
		r.Status = models.ReservationStatusCompleted
		r.OrderID.Int64 = orderID
		r.OrderID.Valid = true
		confirmed++
	}
	return confirmed, nil
}

func (s *memoryStockStore) ReleaseReservations(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, id := range ids {
		released += s.releaseLocked(id, models.ReservationStatusCancelled)
	}
	return released, nil
}

func (s *memoryStockStore) ExpireDueReservations(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for id, r := range s.reservations {
		if r.Status == models.ReservationStatusActive && !r.ExpiresAt.After(now) {
			expired += s.releaseLocked(id, models.ReservationStatusExpired)
		}
	}
	return expired, nil
}

func (s *memoryStockStore) releaseLocked(id int64, terminal string) int64 {
	r, ok := s.reservations[id]
	if !ok || r.Status != models.ReservationStatusActive {
		return 0
	}
	r.Status = terminal
	s.stock[stockKey{r.ProductID, r.WarehouseID}].Reserved -= r.Quantity
	return 1
}

func newTestManager(store StockStore, clock Clock) *Manager {
	return NewManager(store, clock, nil, DefaultTTL)
}

func TestReserveAndConfirm(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := newTestManager(store, nil)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, res.ReservationIDs, 1)
	assert.Equal(t, 3, store.getStock(1, 10).Reserved)

	confirmed, err := m.Confirm(context.Background(), res.ReservationIDs, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed)

	r := store.getReservation(res.ReservationIDs[0])
	assert.Equal(t, models.ReservationStatusCompleted, r.Status)
	assert.Equal(t, int64(42), r.OrderID.Int64)
	// confirming never touches the counters: the hold already accounts for it
	assert.Equal(t, 3, store.getStock(1, 10).Reserved)
}

func TestReserveAllOrNothing(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	store.setStock(2, 10, 1, 0)
	m := newTestManager(store, nil)

	_, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items: []models.ItemRequest{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 5},
			{ProductID: 3, Quantity: 1},
		},
	})

	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Len(t, insufficientErr.Unavailable, 2)

	byProduct := map[int64]models.UnavailableItem{}
	for _, u := range insufficientErr.Unavailable {
		byProduct[u.ProductID] = u
	}
	assert.Equal(t, models.UnavailableKindInsufficient, byProduct[2].Kind)
	assert.Equal(t, 1, byProduct[2].Available)
	assert.Equal(t, 5, byProduct[2].Requested)
	assert.Equal(t, models.UnavailableKindNotFound, byProduct[3].Kind)

	// nothing was held, not even the item that had stock
	assert.Equal(t, 0, store.getStock(1, 10).Reserved)
}

func TestReserveRejectsInvalidQuantity(t *testing.T) {
	m := newTestManager(newMemoryStockStore(), nil)

	_, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 0}},
	})
	assert.Error(t, err)

	_, err = m.Reserve(context.Background(), ReserveRequest{UserID: 7, WarehouseID: 10})
	assert.Error(t, err)
}

func TestReleaseIdempotent(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := newTestManager(store, nil)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, store.getStock(1, 10).Reserved)

	released, err := m.Release(context.Background(), res.ReservationIDs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.Equal(t, 0, store.getStock(1, 10).Reserved)

	// second release is a no-op, never a double decrement
	released, err = m.Release(context.Background(), res.ReservationIDs)
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)
	assert.Equal(t, 0, store.getStock(1, 10).Reserved)
	assert.Equal(t, models.ReservationStatusCancelled, store.getReservation(res.ReservationIDs[0]).Status)
}

func TestConfirmSkipsTerminalReservations(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := newTestManager(store, nil)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = m.Release(context.Background(), res.ReservationIDs)
	require.NoError(t, err)

	confirmed, err := m.Confirm(context.Background(), res.ReservationIDs, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), confirmed)
	assert.Equal(t, models.ReservationStatusCancelled, store.getReservation(res.ReservationIDs[0]).Status)

	// unknown ids are skipped too
	confirmed, err = m.Confirm(context.Background(), []int64{9999}, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), confirmed)
}

func TestConcurrentReserveNoOverbooking(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 5, 0)
	m := newTestManager(store, nil)

	const attempts = 20
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := m.Reserve(context.Background(), ReserveRequest{
				UserID:      user,
				WarehouseID: 10,
				Items:       []models.ItemRequest{{ProductID: 1, Quantity: 4}},
			})
			results <- err
		}(int64(i))
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficientErr *InsufficientStockError
		require.ErrorAs(t, err, &insufficientErr)
		rejected++
	}

	// only one 4-unit hold fits into 5 available units
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 4, store.getStock(1, 10).Reserved)
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 5, 0)
	m := newTestManager(store, nil)

	// two lines for the same product must be checked as their sum: 3+3 > 5
	_, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items: []models.ItemRequest{
			{ProductID: 1, Quantity: 3},
			{ProductID: 1, Quantity: 3},
		},
	})

	var insufficientErr *InsufficientStockError
	require.ErrorAs(t, err, &insufficientErr)
	require.Len(t, insufficientErr.Unavailable, 1)
	assert.Equal(t, 6, insufficientErr.Unavailable[0].Requested)
	assert.Equal(t, 5, insufficientErr.Unavailable[0].Available)
	assert.Equal(t, 0, store.getStock(1, 10).Reserved)

	// when the sum fits it is held as one combined reservation
	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items: []models.ItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 1, Quantity: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.ReservationIDs, 1)
	assert.Equal(t, 5, store.getReservation(res.ReservationIDs[0]).Quantity)
	assert.Equal(t, 5, store.getStock(1, 10).Reserved)
}

func TestConcurrentReserveOverlappingCarts(t *testing.T) {
	store := newMemoryStockStore()
	store.setStock(1, 10, 6, 0)
	store.setStock(2, 10, 6, 0)
	m := newTestManager(store, nil)

	// overlapping two-product carts submitted in both item orders; each hold
	// takes 3 of each product, so exactly two fit into 6 units
	const attempts = 10
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			items := []models.ItemRequest{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 3}}
			if n%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			_, err := m.Reserve(context.Background(), ReserveRequest{
				UserID:      n,
				WarehouseID: 10,
				Items:       items,
			})
			results <- err
		}(int64(i))
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficientErr *InsufficientStockError
		require.ErrorAs(t, err, &insufficientErr)
	}

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 6, store.getStock(1, 10).Reserved)
	assert.Equal(t, 6, store.getStock(2, 10).Reserved)
}

func TestTTLExpiry(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := NewManager(store, clock, nil, DefaultTTL)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 3}},
		TTL:         60 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, start.Add(60*time.Second), res.ExpiresAt)

	// not yet due
	clock.Advance(59 * time.Second)
	expired, err := m.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)
	assert.Equal(t, 3, store.getStock(1, 10).Reserved)

	clock.Advance(2 * time.Second)
	expired, err = m.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, 0, store.getStock(1, 10).Reserved)
	assert.Equal(t, models.ReservationStatusExpired, store.getReservation(res.ReservationIDs[0]).Status)
}

func TestSweepSkipsConfirmedReservation(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := NewManager(store, clock, nil, DefaultTTL)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 3}},
		TTL:         60 * time.Second,
	})
	require.NoError(t, err)

	// confirmed just before the sweep fires: the sweep only touches rows
	// still active inside its own transaction
	_, err = m.Confirm(context.Background(), res.ReservationIDs, 42)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	expired, err := m.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)
	assert.Equal(t, models.ReservationStatusCompleted, store.getReservation(res.ReservationIDs[0]).Status)
	assert.Equal(t, 3, store.getStock(1, 10).Reserved)
}

func TestReserveDefaultTTL(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	store := newMemoryStockStore()
	store.setStock(1, 10, 10, 0)
	m := NewManager(store, clock, nil, 0)

	res, err := m.Reserve(context.Background(), ReserveRequest{
		UserID:      7,
		WarehouseID: 10,
		Items:       []models.ItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, start.Add(DefaultTTL), res.ExpiresAt)
}

package reservation

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// DefaultTTL bounds a checkout hold when the caller does not override it
const DefaultTTL = 900 * time.Second

// Clock abstracts time for TTL computation and sweep testing
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }

// StockStore is the durable-store surface the manager needs. All methods are
// transactional on the store side: the availability check and the counter
// updates for one call are linearized against concurrent reservers there,
// never by in-process locks.
type StockStore interface {
	ReserveItems(ctx context.Context, warehouseID, userID int64, items []models.ItemRequest, expiresAt time.Time) ([]int64, []models.UnavailableItem, error)
	ConfirmReservations(ctx context.Context, ids []int64, orderID int64) (int64, error)
	ReleaseReservations(ctx context.Context, ids []int64) (int64, error)
	ExpireDueReservations(ctx context.Context, now time.Time) (int64, error)
}

// OutcomePublisher emits reservation-outcome events for tracking systems
type OutcomePublisher interface {
	PublishReservationOutcome(ctx context.Context, event *models.ReservationOutcomeEvent) error
}

// Manager owns the reservation lifecycle: holds, confirmation, release and
// TTL expiry
type Manager struct {
	store      StockStore
	clock      Clock
	publisher  OutcomePublisher
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewManager creates a reservation manager. publisher may be nil when no
// event transport is wired.
func NewManager(store StockStore, clock Clock, publisher OutcomePublisher, defaultTTL time.Duration) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		store:      store,
		clock:      clock,
		publisher:  publisher,
		defaultTTL: defaultTTL,
		logger:     util.GetLogger(),
	}
}

// ReserveRequest asks for holds on a set of items at one warehouse
type ReserveRequest struct {
	UserID      int64
	WarehouseID int64
	Items       []models.ItemRequest
	TTL         time.Duration
}

// ReserveResult reports the created holds and their shared deadline
type ReserveResult struct {
	ReservationIDs []int64   `json:"reservation_ids"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Reserve places holds for every item in the request or none of them.
// Duplicate lines for the same product are merged before the availability
// check. A shortfall on any item returns *InsufficientStockError listing
// all unavailable items.
func (m *Manager) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Reserve")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("reserve requires at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %d", item.Quantity, item.ProductID)
		}
	}

	items := mergeItems(req.Items)

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	expiresAt := m.clock.Now().Add(ttl)

	ids, unavailable, err := m.store.ReserveItems(ctx, req.WarehouseID, req.UserID, items, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve items: %w", err)
	}
	if len(unavailable) > 0 {
		util.ReservationsRejectedTotal.Inc()
		return nil, &InsufficientStockError{Unavailable: unavailable}
	}

	util.ReservationsCreatedTotal.Add(float64(len(ids)))
	m.logger.Info("Stock reserved",
		zap.Int64("user_id", req.UserID),
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64s("reservation_ids", ids),
		zap.Time("expires_at", expiresAt))

	return &ReserveResult{ReservationIDs: ids, ExpiresAt: expiresAt}, nil
}

// mergeItems collapses duplicate lines for the same product into one, so the
// availability check always sees the combined quantity. Two separate lines
// would each pass against the same free stock and overbook it.
func mergeItems(items []models.ItemRequest) []models.ItemRequest {
	quantities := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, item := range items {
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	merged := make([]models.ItemRequest, 0, len(order))
	for _, id := range order {
		merged = append(merged, models.ItemRequest{ProductID: id, Quantity: quantities[id]})
	}
	return merged
}

// Confirm finalizes active reservations and binds them to an order. Ids that
// are missing or already terminal are skipped, not errors. Stock counters
// are untouched: the hold already accounts for the reserved units.
func (m *Manager) Confirm(ctx context.Context, ids []int64, orderID int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Confirm")
	defer span.End()

	confirmed, err := m.store.ConfirmReservations(ctx, ids, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm reservations: %w", err)
	}

	m.logger.Info("Reservations confirmed",
		zap.Int64("order_id", orderID),
		zap.Int64("confirmed", confirmed),
		zap.Int("requested", len(ids)))
	return confirmed, nil
}

// Release cancels reservations and returns their holds to stock. Idempotent:
// releasing an already-terminal reservation is a no-op.
func (m *Manager) Release(ctx context.Context, ids []int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Release")
	defer span.End()

	released, err := m.store.ReleaseReservations(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to release reservations: %w", err)
	}

	if released > 0 {
		util.ReservationsReleasedTotal.Add(float64(released))
		m.publishOutcome(ctx, models.EventTypeReservationReleased, ids, released)
	}

	m.logger.Info("Reservations released",
		zap.Int64s("reservation_ids", ids),
		zap.Int64("released", released))
	return released, nil
}

// ExpireDue releases every active reservation past its deadline
func (m *Manager) ExpireDue(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ExpireDue")
	defer span.End()

	expired, err := m.store.ExpireDueReservations(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}

	if expired > 0 {
		util.ReservationsExpiredTotal.Add(float64(expired))
		m.publishOutcome(ctx, models.EventTypeReservationExpired, nil, expired)
		m.logger.Info("Expired overdue reservations", zap.Int64("count", expired))
	}
	return expired, nil
}

func (m *Manager) publishOutcome(ctx context.Context, eventType string, ids []int64, count int64) {
	if m.publisher == nil {
		return
	}
	event := &models.ReservationOutcomeEvent{
		BaseEvent:      models.NewBaseEvent(eventType),
		ReservationIDs: ids,
		Count:          count,
	}
	if err := m.publisher.PublishReservationOutcome(ctx, event); err != nil {
		m.logger.Error("Failed to publish reservation outcome", zap.Error(err))
	}
}

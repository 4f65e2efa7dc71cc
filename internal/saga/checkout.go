package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/geo"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/reservation"
	"fulfillment-service/internal/resolver"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reserver is the reservation-manager surface the saga drives
type Reserver interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (*reservation.ReserveResult, error)
	Confirm(ctx context.Context, ids []int64, orderID int64) (int64, error)
	Release(ctx context.Context, ids []int64) (int64, error)
}

// WarehouseResolver picks a warehouse for a client point
type WarehouseResolver interface {
	ResolveWarehouse(ctx context.Context, client geo.Point) (*resolver.WarehouseCandidate, error)
}

// OrderStore persists orders for the saga
type OrderStore interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
}

// ProductCatalog serves authoritative prices
type ProductCatalog interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// EventPublisher emits the order.created event that triggers dispatch
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
}

// IdempotencyCache short-circuits duplicate checkouts before the durable
// store is consulted. Best effort: a miss or a cache failure falls through
// to the store's idempotency lookup, which stays authoritative.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
}

// CheckoutSaga sequences reserve → resolve → price → persist → confirm →
// dispatch, releasing every hold it created whenever a later step fails.
type CheckoutSaga struct {
	reserver    Reserver
	resolver    WarehouseResolver
	orders      OrderStore
	catalog     ProductCatalog
	publisher   EventPublisher
	cache       IdempotencyCache
	checkoutTTL time.Duration
	stepTimeout time.Duration
	logger      *zap.Logger
}

// NewCheckoutSaga creates the checkout orchestrator. publisher and cache may
// be nil when no event transport or cache is wired.
func NewCheckoutSaga(
	reserver Reserver,
	warehouseResolver WarehouseResolver,
	orders OrderStore,
	catalog ProductCatalog,
	publisher EventPublisher,
	cache IdempotencyCache,
	checkoutTTL time.Duration,
	stepTimeout time.Duration,
) *CheckoutSaga {
	if stepTimeout <= 0 {
		stepTimeout = 5 * time.Second
	}
	return &CheckoutSaga{
		reserver:    reserver,
		resolver:    warehouseResolver,
		orders:      orders,
		catalog:     catalog,
		publisher:   publisher,
		cache:       cache,
		checkoutTTL: checkoutTTL,
		stepTimeout: stepTimeout,
		logger:      util.GetLogger(),
	}
}

// CheckoutRequest carries the cart and the delivery point
type CheckoutRequest struct {
	UserID         int64                `json:"user_id" binding:"required"`
	Items          []models.ItemRequest `json:"items" binding:"required,min=1"`
	Address        string               `json:"address" binding:"required"`
	Lat            float64              `json:"lat"`
	Lon            float64              `json:"lon"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// CheckoutResult reports a finished checkout
type CheckoutResult struct {
	OrderID        int64     `json:"order_id"`
	Status         string    `json:"status"`
	TotalAmount    int64     `json:"total_amount"`
	ReservationIDs []int64   `json:"reservation_ids,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	Warning        string    `json:"warning,omitempty"`
}

// Checkout runs the saga. Failures before the reserve step abort cheaply;
// from the reserve step on, every exit path that is not success releases the
// holds created by this call, including step timeouts and unknown confirm
// outcomes.
func (s *CheckoutSaga) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutSaga.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if cached := s.cachedResult(ctx, req.IdempotencyKey); cached != nil {
		s.logger.Info("Duplicate checkout request served from cache",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", cached.OrderID))
		return cached, nil
	}

	existing, err := s.getExistingOrder(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate checkout request",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return &CheckoutResult{
			OrderID:     existing.ID,
			Status:      existing.Status,
			TotalAmount: existing.TotalAmount,
		}, nil
	}

	// Step 1: resolve the warehouse. Rejection here is the cheapest failure:
	// no reservation exists yet.
	candidate, err := s.resolveWarehouse(ctx, geo.Point{Lat: req.Lat, Lon: req.Lon})
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("resolve_rejected").Inc()
		return nil, err
	}
	warehouseID := candidate.Warehouse.ID

	// Step 2: hold all items at the resolved warehouse
	res, err := s.reserve(ctx, req, warehouseID)
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, err
	}

	// A reservation now exists: every failure below must release it
	result, err := s.completeCheckout(ctx, req, candidate, res)
	if err != nil {
		util.CheckoutsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	s.rememberResult(ctx, req.IdempotencyKey, result)
	util.CheckoutsTotal.WithLabelValues("success").Inc()
	return result, nil
}

// cachedResult serves a duplicate request from the idempotency cache. A
// cache failure or a corrupt entry is logged and treated as a miss.
func (s *CheckoutSaga) cachedResult(ctx context.Context, key string) *CheckoutResult {
	if s.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	payload, found, err := s.cache.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency cache read failed", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	var result CheckoutResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		s.logger.Warn("Corrupt idempotency cache entry",
			zap.String("idempotency_key", key), zap.Error(err))
		return nil
	}
	return &result
}

// rememberResult caches a finished checkout for the duration of the
// idempotency window. Best effort.
func (s *CheckoutSaga) rememberResult(ctx context.Context, key string, result *CheckoutResult) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	if err := s.cache.SetIdempotencyKey(ctx, key, string(payload), s.checkoutTTL); err != nil {
		s.logger.Warn("Failed to cache checkout result",
			zap.String("idempotency_key", key), zap.Error(err))
	}
}

func (s *CheckoutSaga) completeCheckout(
	ctx context.Context,
	req *CheckoutRequest,
	candidate *resolver.WarehouseCandidate,
	res *reservation.ReserveResult,
) (*CheckoutResult, error) {
	warehouseID := candidate.Warehouse.ID

	// Step 3: recompute the authoritative total from current prices. Client
	// totals are never trusted.
	total, items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, s.compensate(ctx, res.ReservationIDs, 0, err)
	}

	// Step 4: persist the order and its lines in one transaction
	order := &models.Order{
		ClientID:       req.UserID,
		WarehouseID:    sql.NullInt64{Int64: warehouseID, Valid: true},
		Status:         models.OrderStatusPending,
		TotalAmount:    total,
		Address:        req.Address,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := s.persistOrder(ctx, order, items); err != nil {
		return nil, s.compensate(ctx, res.ReservationIDs, 0, fmt.Errorf("failed to persist order: %w", err))
	}

	// Step 5: bind the holds to the order. An unknown outcome (timeout) is
	// treated as failure; Release safely skips any reservation the confirm
	// already flipped.
	if err := s.confirmReservations(ctx, res.ReservationIDs, order.ID); err != nil {
		return nil, s.compensate(ctx, res.ReservationIDs, order.ID, fmt.Errorf("failed to confirm reservations: %w", err))
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusConfirmed); err != nil {
		return nil, s.compensate(ctx, res.ReservationIDs, order.ID, fmt.Errorf("failed to confirm order: %w", err))
	}

	s.logger.Info("Checkout completed",
		zap.Int64("order_id", order.ID),
		zap.Int64("client_id", req.UserID),
		zap.Int64("total_amount", total))

	// Step 6: trigger asynchronous picker dispatch. Best effort: the checkout
	// succeeds regardless of this event's fate.
	s.publishOrderCreated(ctx, order, items)

	return &CheckoutResult{
		OrderID:        order.ID,
		Status:         models.OrderStatusConfirmed,
		TotalAmount:    total,
		ReservationIDs: res.ReservationIDs,
		ExpiresAt:      res.ExpiresAt,
		Warning:        candidate.Warning,
	}, nil
}

func (s *CheckoutSaga) getExistingOrder(ctx context.Context, key string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.orders.GetOrderByIdempotencyKey(ctx, key)
}

func (s *CheckoutSaga) resolveWarehouse(ctx context.Context, client geo.Point) (*resolver.WarehouseCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.resolver.ResolveWarehouse(ctx, client)
}

func (s *CheckoutSaga) reserve(ctx context.Context, req *CheckoutRequest, warehouseID int64) (*reservation.ReserveResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.reserver.Reserve(ctx, reservation.ReserveRequest{
		UserID:      req.UserID,
		WarehouseID: warehouseID,
		Items:       req.Items,
		TTL:         s.checkoutTTL,
	})
}

func (s *CheckoutSaga) priceItems(ctx context.Context, items []models.ItemRequest) (int64, []models.OrderItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load products for pricing: %w", err)
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	var total int64
	orderItems := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return 0, nil, &PricingError{ProductID: item.ProductID, Reason: "product no longer exists"}
		}
		if !product.Active {
			return 0, nil, &PricingError{ProductID: item.ProductID, Reason: "product is no longer sold"}
		}

		total += product.Price * int64(item.Quantity)
		orderItems = append(orderItems, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
	}

	return total, orderItems, nil
}

func (s *CheckoutSaga) persistOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	return s.orders.CreateOrderWithItems(ctx, order, items)
}

func (s *CheckoutSaga) confirmReservations(ctx context.Context, ids []int64, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	_, err := s.reserver.Confirm(ctx, ids, orderID)
	return err
}

// compensate releases the holds of a failed checkout and returns the error
// the caller should surface. It runs on a fresh context so a cancelled
// request cannot skip compensation. If the release itself fails the result
// is a ReconciliationRequiredError carrying the ids for manual cleanup.
func (s *CheckoutSaga) compensate(_ context.Context, reservationIDs []int64, orderID int64, cause error) error {
	rctx, cancel := context.WithTimeout(context.Background(), s.stepTimeout)
	defer cancel()

	released, err := s.reserver.Release(rctx, reservationIDs)
	if err != nil {
		util.ReconciliationsRequiredTotal.Inc()
		recon := &ReconciliationRequiredError{
			ReservationIDs: reservationIDs,
			OrderID:        orderID,
			Cause:          cause,
			ReleaseErr:     err,
		}
		s.logger.Error("Compensation failed, manual reconciliation required",
			zap.Int64s("reservation_ids", reservationIDs),
			zap.Int64("order_id", orderID),
			zap.NamedError("release_error", err),
			zap.Error(cause))
		return recon
	}

	if orderID != 0 {
		if err := s.orders.UpdateOrderStatus(rctx, orderID, models.OrderStatusCancelled); err != nil {
			s.logger.Error("Failed to mark order cancelled during compensation",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	util.CompensationsTotal.Inc()
	s.logger.Warn("Checkout compensated",
		zap.Int64s("reservation_ids", reservationIDs),
		zap.Int64("released", released),
		zap.Int64("order_id", orderID),
		zap.Error(cause))
	return cause
}

func (s *CheckoutSaga) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.publisher == nil {
		return
	}

	eventItems := make([]models.OrderItemData, len(items))
	for i, item := range items {
		eventItems[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		ClientID:    order.ClientID,
		WarehouseID: order.WarehouseID.Int64,
		TotalAmount: order.TotalAmount,
		Items:       eventItems,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish order.created event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

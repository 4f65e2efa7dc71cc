package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/geo"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/resolver"
	"fulfillment-service/internal/reservation"
	"fulfillment-service/internal/saga"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout *saga.CheckoutSaga
	resolver *resolver.Resolver
	store    *store.Store
	redis    *redisclient.Client
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *saga.CheckoutSaga, res *resolver.Resolver, st *store.Store, redis *redisclient.Client) *Handler {
	return &Handler{
		checkout: checkout,
		resolver: res,
		store:    st,
		redis:    redis,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.doCheckout)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/ready", h.markOrderReady)
		v1.POST("/orders/:id/pickup", h.markOrderPickedUp)
		v1.POST("/orders/:id/delivered", h.markOrderDelivered)
		v1.POST("/couriers/:id/position", h.reportCourierPosition)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// doCheckout runs the checkout saga and maps its error taxonomy onto
// user-facing actions: try_again, change_items, change_address or
// contact_support.
func (h *Handler) doCheckout(c *gin.Context) {
	var req saga.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.renderCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) renderCheckoutError(c *gin.Context, err error) {
	var insufficientStock *reservation.InsufficientStockError
	var outOfArea *resolver.OutOfServiceAreaError
	var pricing *saga.PricingError
	var reconciliation *saga.ReconciliationRequiredError

	switch {
	case errors.As(err, &insufficientStock):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "Insufficient stock",
			"action":      "change_items",
			"unavailable": insufficientStock.Unavailable,
		})
	case errors.As(err, &outOfArea):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "Address is outside the service area",
			"action":      "change_address",
			"distance_km": outOfArea.DistanceKm,
			"limit_km":    outOfArea.LimitKm,
		})
	case errors.Is(err, resolver.ErrNoWarehouses):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "No warehouses are currently serving orders",
			"action": "try_again",
		})
	case errors.As(err, &pricing):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "An item can no longer be purchased",
			"action":     "change_items",
			"product_id": pricing.ProductID,
			"details":    pricing.Reason,
		})
	case errors.As(err, &reconciliation):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Checkout failed",
			"action": "contact_support",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Checkout failed",
			"action": "try_again",
		})
	}
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.store.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	items, err := h.store.GetOrderItemsByOrderID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load order items",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// markOrderReady is called by the picker once items are collected; it frees
// the picker and kicks off courier dispatch
func (h *Handler) markOrderReady(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.resolver.MarkReadyForPickup(c.Request.Context(), orderID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Cannot mark order ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready_for_pickup"})
}

// markOrderPickedUp is called by the courier on collecting the order at the
// warehouse; the order goes out for delivery
func (h *Handler) markOrderPickedUp(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.resolver.MarkPickedUp(c.Request.Context(), orderID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Cannot mark order picked up",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "delivering"})
}

func (h *Handler) markOrderDelivered(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.resolver.MarkDelivered(c.Request.Context(), orderID); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Cannot mark order delivered",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

// reportCourierPosition refreshes a courier's last-known location in the
// position cache
func (h *Handler) reportCourierPosition(c *gin.Context) {
	courierID, ok := pathID(c)
	if !ok {
		return
	}

	var pos geo.Point
	if err := c.ShouldBindJSON(&pos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid position",
			"details": err.Error(),
		})
		return
	}

	if err := h.redis.SetCourierPosition(c.Request.Context(), courierID, pos); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store position",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

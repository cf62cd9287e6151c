package handlers

import (
	"context"
	"database/sql"
	"math"
	"net/http"

	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/notify"
	"storefront-svc/ratelimit"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	createOrderLimit  = 5
	confirmationLimit = 10
)

// StockNotifier dispatches a low stock summary to operations.
type StockNotifier interface {
	Notify(ctx context.Context, items []models.LowStockItem) (string, error)
}

type OrderHandler struct {
	db       *sql.DB
	producer sarama.SyncProducer
	limiter  *ratelimit.Limiter
	notifier StockNotifier
	logger   *zap.Logger
}

func NewOrderHandler(
	db *sql.DB,
	producer sarama.SyncProducer,
	limiter *ratelimit.Limiter,
	notifier StockNotifier,
	logger *zap.Logger,
) *OrderHandler {
	return &OrderHandler{
		db:       db,
		producer: producer,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
	}
}

// clientKey derives the rate-limit identity from forwarded-IP headers via
// gin, falling back to a shared sentinel bucket.
func clientKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	if !h.limiter.Allow(ctx, "create-order:"+clientKey(c), createOrderLimit) {
		middleware.RecordRateLimited("/create-order")
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "Too many requests, please try again later",
		})
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	if missing := firstMissingField(req); missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing required field: " + missing,
		})
		return
	}

	span.SetAttributes(
		attribute.Int("cart.items", len(req.Items)),
		attribute.String("payment.method", req.PaymentMethod),
	)

	ids := distinctProductIDs(req.Items)
	priced, err := h.fetchProducts(ctx, ids)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load products for cart",
			zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	if len(priced) != len(ids) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "One or more products in the cart could not be found",
		})
		return
	}

	// The persisted total is always recomputed from catalog prices. The
	// client-reported figure is only compared for drift.
	var subtotal float64
	for _, item := range req.Items {
		subtotal += priced[item.ID].price * float64(item.Quantity)
	}
	total := subtotal + req.Shipping

	if math.Abs(total-req.Total) > 0.005 {
		middleware.RecordTotalDrift()
		h.logger.Warn("Client-reported total disagrees with computed total",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Float64("client_total", req.Total),
			zap.Float64("computed_total", total),
		)
	}

	orderID := uuid.NewString()
	span.SetAttributes(attribute.String("order.id", orderID))

	var userID any
	if req.UserID != "" {
		userID = req.UserID
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, email, phone, shipping_first_name, shipping_last_name, shipping_address, shipping_city, shipping_zip, total, status, payment_status, payment_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		orderID, userID, req.Email, req.Phone,
		req.ShippingAddress.FirstName, req.ShippingAddress.LastName,
		req.ShippingAddress.Address, req.ShippingAddress.City, req.ShippingAddress.Zip,
		total, models.OrderStatusPending, models.PaymentStatusPending, req.PaymentMethod,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create order",
			zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create order"})
		return
	}

	for _, item := range req.Items {
		p := priced[item.ID]
		_, err = h.db.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			orderID, item.ID, p.name, p.price, item.Quantity,
		)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to save order items, rolling back order",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("order_id", orderID), zap.Error(err))
			// No cross-table transaction spans both writes here; compensate
			// so no order exists without its items.
			if _, delErr := h.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); delErr != nil {
				h.logger.Error("Compensating delete failed",
					zap.String("order_id", orderID), zap.Error(delErr))
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save order items"})
			return
		}
	}

	middleware.RecordOrderCreated()

	// Everything past the commit is best-effort and must never fail the order.
	h.checkLowStock(ctx, ids, priced)
	h.publishCreated(ctx, orderID, req.Email, total)

	h.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", orderID),
		zap.Float64("total", total),
	)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"order_id": orderID,
		"message":  "Order created successfully",
	})
}

type pricedProduct struct {
	name  string
	price float64
}

func (h *OrderHandler) fetchProducts(ctx context.Context, ids []string) (map[string]pricedProduct, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, name, price FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	priced := make(map[string]pricedProduct, len(ids))
	for rows.Next() {
		var id string
		var p pricedProduct
		if err := rows.Scan(&id, &p.name, &p.price); err != nil {
			return nil, err
		}
		priced[id] = p
	}
	return priced, rows.Err()
}

func (h *OrderHandler) checkLowStock(ctx context.Context, ids []string, priced map[string]pricedProduct) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT product_id, color, model, stock_quantity FROM product_variants WHERE product_id = ANY($1) AND stock_quantity <= $2",
		pq.Array(ids), notify.Threshold)
	if err != nil {
		h.logger.Warn("Low stock check failed", zap.Error(err))
		return
	}
	defer rows.Close()

	var depleted []models.LowStockItem
	for rows.Next() {
		var item models.LowStockItem
		var color, model sql.NullString
		if err := rows.Scan(&item.ProductID, &color, &model, &item.CurrentStock); err != nil {
			h.logger.Warn("Low stock check failed", zap.Error(err))
			return
		}
		item.Color = color.String
		item.Model = model.String
		item.ProductName = priced[item.ProductID].name
		depleted = append(depleted, item)
	}
	if err := rows.Err(); err != nil {
		h.logger.Warn("Low stock check failed", zap.Error(err))
		return
	}
	if len(depleted) == 0 {
		return
	}

	if _, err := h.notifier.Notify(ctx, depleted); err != nil {
		h.logger.Warn("Low stock notification failed", zap.Error(err))
		return
	}
	middleware.RecordLowStockAlert()
}

func (h *OrderHandler) publishCreated(ctx context.Context, orderID, email string, total float64) {
	if h.producer == nil {
		return
	}
	event := models.OrderEvent{
		OrderID:       orderID,
		Email:         email,
		Total:         total,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		EventType:     "order_created",
	}
	if err := kafka.PublishOrderEvent(ctx, h.producer, event, h.logger); err != nil {
		h.logger.Warn("Failed to publish order_created event", zap.Error(err))
	}
}

// firstMissingField names the first missing required field category, or ""
// when the request is complete.
func firstMissingField(req models.CreateOrderRequest) string {
	if len(req.Items) == 0 {
		return "items"
	}
	for _, item := range req.Items {
		if item.ID == "" || item.Quantity <= 0 {
			return "items"
		}
	}
	if req.Email == "" {
		return "email"
	}
	addr := req.ShippingAddress
	if addr.FirstName == "" || addr.LastName == "" || addr.Address == "" || addr.City == "" || addr.Zip == "" {
		return "shipping address"
	}
	return ""
}

func distinctProductIDs(items []models.CartItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		ids = append(ids, item.ID)
	}
	return ids
}

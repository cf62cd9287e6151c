package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/ratelimit"
	"storefront-svc/token"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ConfirmationHandler struct {
	db      *sql.DB
	limiter *ratelimit.Limiter
	secret  string
	logger  *zap.Logger
}

func NewConfirmationHandler(db *sql.DB, limiter *ratelimit.Limiter, secret string, logger *zap.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		db:      db,
		limiter: limiter,
		secret:  secret,
		logger:  logger,
	}
}

// GetOrderConfirmation verifies the HMAC link token for an order and, on
// success, returns the redacted status snapshot shown on the confirmation
// page. Token mismatch is reported independently of order existence.
func (h *ConfirmationHandler) GetOrderConfirmation(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "GetOrderConfirmation")
	defer span.End()

	if !h.limiter.Allow(ctx, "order-confirmation:"+clientKey(c), confirmationLimit) {
		middleware.RecordRateLimited("/get-order-confirmation")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
		return
	}

	var req models.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and token are required"})
		return
	}

	span.SetAttributes(attribute.String("order.id", req.OrderID))

	if h.secret == "" {
		h.logger.Error("ORDER_LINK_SECRET is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
		return
	}

	if !token.Verify(req.OrderID, req.Token, h.secret) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid confirmation token"})
		return
	}

	var view models.ConfirmationView
	var email string
	err := h.db.QueryRowContext(ctx,
		"SELECT id, status, payment_status, total, created_at, payment_method, email FROM orders WHERE id = $1",
		req.OrderID,
	).Scan(&view.ID, &view.Status, &view.PaymentStatus, &view.Total, &view.CreatedAt, &view.PaymentMethod, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load order for confirmation",
			zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	view.MaskedEmail = maskEmail(email)
	c.JSON(http.StatusOK, gin.H{"order": view})
}

// maskEmail redacts the local part to its first three characters.
func maskEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "***"
	}
	local := parts[0]
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***@" + parts[1]
}

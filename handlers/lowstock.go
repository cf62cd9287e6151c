package handlers

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type LowStockHandler struct {
	db           *sql.DB
	notifier     StockNotifier
	serviceToken string
	jwtSecret    []byte
	logger       *zap.Logger
}

func NewLowStockHandler(db *sql.DB, notifier StockNotifier, serviceToken, jwtSecret string, logger *zap.Logger) *LowStockHandler {
	return &LowStockHandler{
		db:           db,
		notifier:     notifier,
		serviceToken: serviceToken,
		jwtSecret:    []byte(jwtSecret),
		logger:       logger,
	}
}

var errNotAdmin = errors.New("user is not an admin")

// SendLowStockEmail dispatches a stock alert to operations. Callers either
// present the deployment's service token or an end-user JWT that resolves to
// the admin role.
func (h *LowStockHandler) SendLowStockEmail(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "SendLowStockEmail")
	defer span.End()

	credential, ok := bearerCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
		return
	}

	if !h.isServiceCall(credential) {
		if err := h.authorizeUser(ctx, credential); err != nil {
			if errors.Is(err, errNotAdmin) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
	}

	var req models.LowStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	span.SetAttributes(attribute.Int("lowstock.items", len(req.Items)))

	if len(req.Items) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "No low stock items to report"})
		return
	}

	messageID, err := h.notifier.Notify(ctx, req.Items)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to send low stock email",
			zap.String("trace_id", middleware.GetTraceID(ctx)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send notification email"})
		return
	}

	middleware.RecordLowStockAlert()
	c.JSON(http.StatusOK, gin.H{"success": true, "emailResult": messageID})
}

func bearerCredential(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	credential := strings.TrimPrefix(header, "Bearer ")
	if header == "" || credential == header || credential == "" {
		return "", false
	}
	return credential, true
}

func (h *LowStockHandler) isServiceCall(credential string) bool {
	if h.serviceToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(h.serviceToken)) == 1
}

// authorizeUser parses the credential as an HS256 JWT and resolves the
// subject's role. Only admins may trigger stock alerts.
func (h *LowStockHandler) authorizeUser(ctx context.Context, credential string) error {
	parsed, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid token claims")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return errors.New("token has no user_id claim")
	}

	var role string
	err = h.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = $1", userID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("unknown user")
		}
		return fmt.Errorf("failed to resolve user role: %w", err)
	}
	if role != "admin" {
		return errNotAdmin
	}
	return nil
}

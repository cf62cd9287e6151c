package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-svc/models"
	"storefront-svc/ratelimit"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// httptest requests carry RemoteAddr 192.0.2.1, which is what gin's
// ClientIP() resolves to in these tests.
const testClientIP = "192.0.2.1"

type mockNotifier struct {
	err   error
	calls int
	items []models.LowStockItem
}

func (m *mockNotifier) Notify(ctx context.Context, items []models.LowStockItem) (string, error) {
	m.calls++
	m.items = items
	return "msg-1", m.err
}

func setupOrderTest(t *testing.T) (*OrderHandler, sqlmock.Sqlmock, *gin.Engine, *mockNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	limiter := ratelimit.New(60*time.Second, nil, logger)
	t.Cleanup(limiter.Stop)

	notifier := &mockNotifier{}
	handler := NewOrderHandler(db, nil, limiter, notifier, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/create-order", handler.CreateOrder)

	return handler, mock, router, notifier
}

func validOrderBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{{"id": "p1", "quantity": 2}},
		"email": "maria@example.com",
		"phone": "+5511999999999",
		"shipping_address": map[string]any{
			"firstName": "Maria",
			"lastName":  "Silva",
			"address":   "Rua das Ondas 42",
			"city":      "Florianópolis",
			"zip":       "88000-000",
		},
		"total":          50.0,
		"shipping":       10.0,
		"payment_method": "pix",
	}
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrder_RecomputesTotalFromCatalog(t *testing.T) {
	_, mock, router, notifier := setupOrderTest(t)

	mock.ExpectQuery("SELECT id, name, price FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow("p1", "Canga Maré", 100.0))

	// The client sent total 50; the persisted total must be 2*100 + 10.
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(sqlmock.AnyArg(), nil, "maria@example.com", "+5511999999999",
			"Maria", "Silva", "Rua das Ondas 42", "Florianópolis", "88000-000",
			210.0, "pending", "pending", "pix").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(sqlmock.AnyArg(), "p1", "Canga Maré", 100.0, 2).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery("SELECT product_id, color, model, stock_quantity FROM product_variants").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "model", "stock_quantity"}))

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d (%s)", http.StatusOK, w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if success, _ := resp["success"].(bool); !success {
		t.Error("Expected success true")
	}
	if id, _ := resp["order_id"].(string); id == "" {
		t.Error("Expected a non-empty order_id")
	}
	if notifier.calls != 0 {
		t.Errorf("Expected no low stock notification, got %d", notifier.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCreateOrder_UnknownProductWritesNothing(t *testing.T) {
	_, mock, router, _ := setupOrderTest(t)

	mock.ExpectQuery("SELECT id, name, price FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}))

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	// No INSERT was expected; any write would fail the expectation check.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestCreateOrder_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body map[string]any)
		want   string
	}{
		{"empty cart", func(b map[string]any) { b["items"] = []map[string]any{} }, "items"},
		{"zero quantity", func(b map[string]any) { b["items"] = []map[string]any{{"id": "p1", "quantity": 0}} }, "items"},
		{"no email", func(b map[string]any) { b["email"] = "" }, "email"},
		{"no city", func(b map[string]any) {
			addr := b["shipping_address"].(map[string]any)
			addr["city"] = ""
		}, "shipping address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, router, _ := setupOrderTest(t)

			body := validOrderBody()
			tt.mutate(body)
			w := postJSON(router, "/create-order", body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if !bytes.Contains(w.Body.Bytes(), []byte(tt.want)) {
				t.Errorf("Expected error naming %q, got %s", tt.want, w.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Database expectations were not met: %v", err)
			}
		})
	}
}

func TestCreateOrder_RateLimited(t *testing.T) {
	handler, _, router, _ := setupOrderTest(t)

	for i := 0; i < createOrderLimit; i++ {
		handler.limiter.Allow(context.Background(), "create-order:"+testClientIP, createOrderLimit)
	}

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
}

func TestCreateOrder_ItemFailureDeletesOrder(t *testing.T) {
	_, mock, router, _ := setupOrderTest(t)

	mock.ExpectQuery("SELECT id, name, price FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow("p1", "Canga Maré", 100.0))

	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("INSERT INTO order_items").
		WillReturnError(errors.New("connection reset"))

	mock.ExpectExec("DELETE FROM orders WHERE id").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Expected compensating delete for the orphaned order: %v", err)
	}
}

func TestCreateOrder_LowStockTriggersNotifier(t *testing.T) {
	_, mock, router, notifier := setupOrderTest(t)

	mock.ExpectQuery("SELECT id, name, price FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow("p1", "Canga Maré", 100.0))
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT product_id, color, model, stock_quantity FROM product_variants").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "model", "stock_quantity"}).
			AddRow("p1", "Azul", nil, 3))

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if notifier.calls != 1 {
		t.Fatalf("Expected one low stock notification, got %d", notifier.calls)
	}
	if len(notifier.items) != 1 || notifier.items[0].ProductName != "Canga Maré" {
		t.Errorf("Expected depleted variant with snapshotted name, got %+v", notifier.items)
	}
	if notifier.items[0].CurrentStock != 3 {
		t.Errorf("Expected stock 3, got %d", notifier.items[0].CurrentStock)
	}
}

func TestCreateOrder_NotifierFailureDoesNotFailOrder(t *testing.T) {
	_, mock, router, notifier := setupOrderTest(t)
	notifier.err = errors.New("provider down")

	mock.ExpectQuery("SELECT id, name, price FROM products WHERE id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow("p1", "Canga Maré", 100.0))
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT product_id, color, model, stock_quantity FROM product_variants").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "color", "model", "stock_quantity"}).
			AddRow("p1", "Azul", nil, 1))

	w := postJSON(router, "/create-order", validOrderBody())

	if w.Code != http.StatusOK {
		t.Errorf("Expected notifier failure to be swallowed, got status %d", w.Code)
	}
	if notifier.calls != 1 {
		t.Errorf("Expected the notification to have been attempted, got %d calls", notifier.calls)
	}
}

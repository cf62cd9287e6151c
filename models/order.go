package models

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type Order struct {
	ID            string        `json:"id"`
	UserID        *string       `json:"user_id,omitempty"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone,omitempty"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Address       string        `json:"address"`
	City          string        `json:"city"`
	Zip           string        `json:"zip"`
	Total         float64       `json:"total"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method"`
	CreatedAt     time.Time     `json:"created_at"`
}

type OrderItem struct {
	ID          int     `json:"id"`
	OrderID     string  `json:"order_id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
}

type ShippingAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
}

type CartItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest carries the client's proposed cart. Total and Shipping
// are client-reported figures kept only for drift detection; the persisted
// total is always recomputed from the catalog.
type CreateOrderRequest struct {
	Items           []CartItem      `json:"items"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	UserID          string          `json:"user_id"`
	Total           float64         `json:"total"`
	Shipping        float64         `json:"shipping"`
	PaymentMethod   string          `json:"payment_method"`
}

type ConfirmationRequest struct {
	OrderID string `json:"order_id"`
	Token   string `json:"token"`
}

// ConfirmationView is the privacy-redacted projection returned to holders of
// a valid confirmation link: no shipping address, no line items.
type ConfirmationView struct {
	ID            string        `json:"id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         float64       `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`
	PaymentMethod string        `json:"payment_method"`
	MaskedEmail   string        `json:"masked_email"`
}

type LowStockItem struct {
	ProductName  string `json:"productName"`
	ProductID    string `json:"productId"`
	Color        string `json:"color,omitempty"`
	Model        string `json:"model,omitempty"`
	CurrentStock int    `json:"currentStock"`
}

type LowStockRequest struct {
	Items []LowStockItem `json:"items"`
}

type OrderEvent struct {
	OrderID       string        `json:"order_id"`
	Email         string        `json:"email"`
	Total         float64       `json:"total"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	EventType     string        `json:"event_type"` // order_created
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product представляет товар каталога
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	Active    bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderItem неизменяемая копия позиции корзины на момент оформления
type OrderItem struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Order сущность заказа
type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          int64           `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OwnedBy reports whether the identity may see or cancel the order.
func (o Order) OwnedBy(id Identity) bool {
	return id.Staff || (id.UserID != 0 && id.UserID == o.UserID)
}

// Payment расчёт по заказу, один на заказ
type Payment struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CapturedAt     *time.Time      `json:"captured_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransactionKind тип записи журнала платежа
type TransactionKind string

const (
	TransactionCapture      TransactionKind = "capture"
	TransactionFailure      TransactionKind = "failure"
	TransactionRefund       TransactionKind = "refund"
	TransactionCancellation TransactionKind = "cancellation"
	TransactionWebhook      TransactionKind = "webhook"
)

// PaymentTransaction запись журнала платежа, только добавление
type PaymentTransaction struct {
	ID          int64            `json:"id"`
	PaymentID   int64            `json:"payment_id"`
	Kind        TransactionKind  `json:"kind"`
	Success     bool             `json:"success"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	RawResponse json.RawMessage  `json:"raw_response,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// OutboxEvent событие, записанное в той же транзакции, что и изменение состояния
type OutboxEvent struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// OrderStats агрегаты по заказам
type OrderStats struct {
	TotalOrders int64                 `json:"total_orders"`
	TotalSales  decimal.Decimal       `json:"total_sales"`
	ByStatus    map[OrderStatus]int64 `json:"by_status"`
}

// PaymentStats агрегаты по платежам
type PaymentStats struct {
	TotalPayments int64                   `json:"total_payments"`
	TotalAmount   decimal.Decimal         `json:"total_amount"`
	ByStatus      map[PaymentStatus]int64 `json:"by_status"`
	SuccessRate   float64                 `json:"success_rate"`
}

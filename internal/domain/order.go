package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const orderNumberPrefix = "ORD-"

// NewOrderNumber returns "ORD-" followed by 12 random upper-case hex chars.
func NewOrderNumber() string {
	u := uuid.New()
	return orderNumberPrefix + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:12])
}

// NewOrderFromCart снимок корзины в виде заказа в статусе pending
func NewOrderFromCart(c Cart, userID int64, shippingAddress, number string, now time.Time) Order {
	items := make([]OrderItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	return Order{
		OrderNumber:     number,
		UserID:          userID,
		Status:          OrderStatusPending,
		TotalAmount:     c.TotalAmount(),
		ShippingAddress: shippingAddress,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

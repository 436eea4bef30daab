package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventPaymentRefunded    = "payment.refunded"
	EventPaymentCancelled   = "payment.cancelled"
)

// Event конверт, который уходит в брокер
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// NewOutboxEvent упаковывает payload в конверт для записи в outbox
func NewOutboxEvent(topic, key, eventType string, payload map[string]any, now time.Time) (OutboxEvent, error) {
	ev := Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		CreatedAt: now,
		Payload:   payload,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return OutboxEvent{
		EventID:   ev.EventID,
		Topic:     topic,
		Key:       key,
		EventType: eventType,
		Payload:   data,
		CreatedAt: now,
	}, nil
}

// OrderEventPayload fields shared by order events.
func OrderEventPayload(o Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"product_id": it.ProductID,
			"quantity":   it.Quantity,
			"unit_price": it.UnitPrice.StringFixed(2),
		})
	}
	return map[string]any{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"user_id":      o.UserID,
		"status":       o.Status,
		"total_amount": o.TotalAmount.StringFixed(2),
		"items":        items,
	}
}

func PaymentEventPayload(p Payment) map[string]any {
	return map[string]any{
		"payment_id":      p.ID,
		"order_id":        p.OrderID,
		"status":          p.Status,
		"amount":          p.Amount.StringFixed(2),
		"refunded_amount": p.RefundedAmount.StringFixed(2),
		"currency":        p.Currency,
		"transaction_id":  p.TransactionID,
	}
}

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

// NewPayment создаёт платёж в статусе pending для заказа
func NewPayment(o Order, amount decimal.Decimal, currency string, now time.Time) (Payment, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if len(currency) != 3 {
		return Payment{}, Validationf("currency must be an ISO-4217 code, got %q", currency)
	}
	if !amount.Equal(o.TotalAmount) {
		return Payment{}, Validationf("payment amount must match order total %s", o.TotalAmount.StringFixed(2))
	}
	if o.Status == OrderStatusCancelled {
		return Payment{}, Validationf("order %s is cancelled", o.OrderNumber)
	}
	return Payment{
		OrderID:        o.ID,
		Amount:         amount,
		Currency:       currency,
		Status:         PaymentStatusPending,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsRefundable: captured, not fully refunded yet.
func (p Payment) IsRefundable() bool {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return false
	}
	return p.RefundedAmount.LessThan(p.Amount)
}

func (p Payment) RemainingRefundable() decimal.Decimal {
	if !p.IsRefundable() {
		return decimal.Zero
	}
	return p.Amount.Sub(p.RefundedAmount)
}

func (p *Payment) transition(next PaymentStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return transitionError("payment", p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// MarkSucceeded фиксирует успешное списание и возвращает запись журнала
func (p *Payment) MarkSucceeded(transactionID string, raw json.RawMessage, now time.Time) (PaymentTransaction, error) {
	if err := p.transition(PaymentStatusSucceeded, now); err != nil {
		return PaymentTransaction{}, err
	}
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	captured := now
	p.CapturedAt = &captured
	if raw == nil {
		raw = rawJSON(map[string]any{
			"status":         "success",
			"transaction_id": p.TransactionID,
			"amount":         p.Amount.StringFixed(2),
			"currency":       p.Currency,
		})
	}
	amount := p.Amount
	return PaymentTransaction{
		PaymentID:   p.ID,
		Kind:        TransactionCapture,
		Success:     true,
		Amount:      &amount,
		RawResponse: raw,
		CreatedAt:   now,
	}, nil
}

// MarkFailed фиксирует неуспешную попытку оплаты
func (p *Payment) MarkFailed(reason string, raw json.RawMessage, now time.Time) (PaymentTransaction, error) {
	if err := p.transition(PaymentStatusFailed, now); err != nil {
		return PaymentTransaction{}, err
	}
	if reason == "" {
		reason = "Payment failed"
	}
	if raw == nil {
		raw = rawJSON(map[string]any{"error": reason})
	}
	return PaymentTransaction{
		PaymentID:   p.ID,
		Kind:        TransactionFailure,
		Success:     false,
		RawResponse: raw,
		CreatedAt:   now,
	}, nil
}

// Cancel отменяет ещё не проведённый платёж
func (p *Payment) Cancel(reason string, now time.Time) (PaymentTransaction, error) {
	if err := p.transition(PaymentStatusCancelled, now); err != nil {
		return PaymentTransaction{}, err
	}
	return PaymentTransaction{
		PaymentID:   p.ID,
		Kind:        TransactionCancellation,
		Success:     true,
		RawResponse: rawJSON(map[string]any{"type": "cancellation", "reason": reason}),
		CreatedAt:   now,
	}, nil
}

// Refund возвращает amount (nil = весь остаток) и возвращает запись журнала
func (p *Payment) Refund(amount *decimal.Decimal, reason string, now time.Time) (PaymentTransaction, error) {
	if !p.IsRefundable() {
		return PaymentTransaction{}, fmt.Errorf("%w: status %s, refunded %s of %s",
			ErrNotRefundable, p.Status, p.RefundedAmount.StringFixed(2), p.Amount.StringFixed(2))
	}
	remaining := p.RemainingRefundable()
	requested := remaining
	if amount != nil {
		if !amount.IsPositive() {
			return PaymentTransaction{}, Validationf("refund amount must be greater than 0")
		}
		// amounts are stored with cent precision
		if !amount.Equal(amount.Round(2)) {
			return PaymentTransaction{}, Validationf("refund amount must have at most 2 decimal places")
		}
		requested = *amount
	}
	if requested.GreaterThan(remaining) {
		return PaymentTransaction{}, fmt.Errorf("%w: requested %s, remaining %s",
			ErrRefundExceedsAvailable, requested.StringFixed(2), remaining.StringFixed(2))
	}

	next := PaymentStatusPartiallyRefunded
	if p.RefundedAmount.Add(requested).Equal(p.Amount) {
		next = PaymentStatusRefunded
	}
	if err := p.transition(next, now); err != nil {
		return PaymentTransaction{}, err
	}
	p.RefundedAmount = p.RefundedAmount.Add(requested)

	if reason == "" {
		reason = "Refund requested"
	}
	return PaymentTransaction{
		PaymentID: p.ID,
		Kind:      TransactionRefund,
		Success:   true,
		Amount:    &requested,
		RawResponse: rawJSON(map[string]any{
			"type":                 "refund",
			"amount":               requested.StringFixed(2),
			"reason":               reason,
			"original_transaction": p.TransactionID,
		}),
		CreatedAt: now,
	}, nil
}

// WebhookEntry records a provider notification that changes nothing.
func (p Payment) WebhookEntry(raw json.RawMessage, success bool, now time.Time) PaymentTransaction {
	return PaymentTransaction{
		PaymentID:   p.ID,
		Kind:        TransactionWebhook,
		Success:     success,
		RawResponse: raw,
		CreatedAt:   now,
	}
}

func rawJSON(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// Статусы, которые присылает платёжный провайдер в webhook
const (
	WebhookSucceeded = "succeeded"
	WebhookFailed    = "failed"
)

// PaymentService жизненный цикл платежа: создание, проведение, возвраты, webhook
type PaymentService struct {
	store    *repository.Store
	orders   *OrderService
	log      *slog.Logger
	metrics  Recorder
	currency string
	now      func() time.Time
}

func NewPaymentService(d Deps, orders *OrderService) *PaymentService {
	d = d.withDefaults()
	return &PaymentService{
		store:    d.Store,
		orders:   orders,
		log:      d.Log,
		metrics:  d.Metrics,
		currency: d.DefaultCurrency,
		now:      d.Now,
	}
}

// Create заводит платёж на полную сумму заказа; один платёж на заказ
func (s *PaymentService) Create(ctx context.Context, id domain.Identity, orderID int64, amount decimal.Decimal, currency string) (*domain.Payment, error) {
	if currency == "" {
		currency = s.currency
	}
	var created *domain.Payment
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.OwnedBy(id) {
			return domain.ErrNotFound
		}
		_, err = s.store.Payments.GetByOrderID(ctx, o.ID)
		switch {
		case err == nil:
			return domain.Validationf("order %s already has a payment", o.OrderNumber)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		p, err := domain.NewPayment(*o, amount, currency, s.now())
		if err != nil {
			return err
		}
		if err := s.store.Payments.Create(ctx, &p); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.Validationf("order %s already has a payment", o.OrderNumber)
			}
			return err
		}
		created = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentTransition(string(domain.PaymentStatusPending))
	s.log.InfoContext(ctx, "payment created", slog.Int64("payment_id", created.ID), slog.Int64("order_id", orderID))
	return created, nil
}

// Get возвращает платёж владельцу заказа или сотруднику
func (s *PaymentService) Get(ctx context.Context, id domain.Identity, paymentID int64) (*domain.Payment, error) {
	p, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, id, p.OrderID); err != nil {
		return nil, err
	}
	return p, nil
}

// Transactions журнал платежа в порядке записи
func (s *PaymentService) Transactions(ctx context.Context, id domain.Identity, paymentID int64) ([]domain.PaymentTransaction, error) {
	if _, err := s.Get(ctx, id, paymentID); err != nil {
		return nil, err
	}
	return s.store.Payments.ListTransactions(ctx, paymentID)
}

func (s *PaymentService) checkOwner(ctx context.Context, id domain.Identity, orderID int64) error {
	o, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.OwnedBy(id) {
		return domain.ErrNotFound
	}
	return nil
}

// ProcessRequest результат попытки оплаты от клиента
type ProcessRequest struct {
	Success       bool
	TransactionID string
	Reason        string
}

// Process проводит или отклоняет платёж в статусе pending
func (s *PaymentService) Process(ctx context.Context, id domain.Identity, paymentID int64, req ProcessRequest) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.store.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := s.checkOwner(ctx, id, p.OrderID); err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusPending {
			return fmt.Errorf("%w: payment is not in pending status", domain.ErrInvalidTransition)
		}
		if req.Success {
			txID := req.TransactionID
			if txID == "" {
				txID = "TXN-" + strconv.FormatInt(p.ID, 10)
			}
			err = s.succeed(ctx, p, txID, nil)
		} else {
			err = s.fail(ctx, p, req.Reason, nil)
		}
		if err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PaymentTransition(string(payment.Status))
	s.log.InfoContext(ctx, "payment processed",
		slog.Int64("payment_id", payment.ID), slog.String("status", string(payment.Status)))
	return payment, nil
}

// succeed marks the payment captured and moves a pending order to processing.
func (s *PaymentService) succeed(ctx context.Context, p *domain.Payment, txID string, raw json.RawMessage) error {
	entry, err := p.MarkSucceeded(txID, raw, s.now())
	if err != nil {
		return err
	}
	o, err := s.store.Orders.GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case domain.OrderStatusPending:
		o.Status = domain.OrderStatusProcessing
		if err := s.store.Orders.UpdateStatus(ctx, o); err != nil {
			return err
		}
		if err := s.orders.orderEvent(ctx, *o, domain.EventOrderStatusChanged); err != nil {
			return err
		}
	case domain.OrderStatusProcessing:
	default:
		return domain.OrderTransitionError(o.Status, domain.OrderStatusProcessing)
	}
	return s.orders.savePayment(ctx, p, &entry, domain.EventPaymentSucceeded)
}

func (s *PaymentService) fail(ctx context.Context, p *domain.Payment, reason string, raw json.RawMessage) error {
	entry, err := p.MarkFailed(reason, raw, s.now())
	if err != nil {
		return err
	}
	return s.orders.savePayment(ctx, p, &entry, domain.EventPaymentFailed)
}

// Refund возвращает сумму (nil = остаток); полный возврат отменяет заказ, если это ещё возможно
func (s *PaymentService) Refund(ctx context.Context, id domain.Identity, paymentID int64, amount *decimal.Decimal, reason string) (*domain.Payment, decimal.Decimal, error) {
	if !id.Staff {
		return nil, decimal.Zero, fmt.Errorf("%w: refunds are staff only", domain.ErrPermissionDenied)
	}
	var (
		payment  *domain.Payment
		refunded decimal.Decimal
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.store.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		entry, err := p.Refund(amount, reason, s.now())
		if err != nil {
			return err
		}
		if err := s.orders.savePayment(ctx, p, &entry, domain.EventPaymentRefunded); err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusRefunded {
			o, err := s.store.Orders.GetForUpdate(ctx, p.OrderID)
			if err != nil {
				return err
			}
			if o.Status.Cancellable() {
				if _, err := s.orders.cancelLocked(ctx, o, "payment refunded"); err != nil {
					return err
				}
			}
		}
		payment, refunded = p, *entry.Amount
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	s.metrics.PaymentTransition(string(payment.Status))
	s.metrics.RefundedAmount(payment.Currency, refunded)
	s.log.InfoContext(ctx, "payment refunded",
		slog.Int64("payment_id", payment.ID), slog.String("amount", refunded.StringFixed(2)),
		slog.String("status", string(payment.Status)))
	return payment, refunded, nil
}

// WebhookNotification уведомление провайдера о результате платежа
type WebhookNotification struct {
	PaymentID     int64
	Status        string
	TransactionID string
	FailureReason string
	Raw           json.RawMessage
}

// Webhook применяет уведомление провайдера; повторная доставка того же исхода ничего не меняет
func (s *PaymentService) Webhook(ctx context.Context, n WebhookNotification) (*domain.Payment, error) {
	if n.Status != WebhookSucceeded && n.Status != WebhookFailed {
		return nil, domain.Validationf("unsupported webhook status %q", n.Status)
	}
	var (
		payment *domain.Payment
		changed bool
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.store.Payments.GetForUpdate(ctx, n.PaymentID)
		if err != nil {
			return err
		}
		payment = p
		success := n.Status == WebhookSucceeded

		if p.Status != domain.PaymentStatusPending {
			redelivered := (success && p.Status.Captured()) || (!success && p.Status == domain.PaymentStatusFailed)
			if !redelivered {
				return fmt.Errorf("%w: payment is %s, webhook reports %s", domain.ErrInvalidTransition, p.Status, n.Status)
			}
			entry := p.WebhookEntry(n.Raw, success, s.now())
			return s.store.Payments.AppendTransaction(ctx, &entry)
		}

		changed = true
		if success {
			return s.succeed(ctx, p, n.TransactionID, n.Raw)
		}
		return s.fail(ctx, p, n.FailureReason, n.Raw)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.PaymentTransition(string(payment.Status))
	}
	s.log.InfoContext(ctx, "payment webhook processed",
		slog.Int64("payment_id", payment.ID), slog.String("status", n.Status), slog.Bool("changed", changed))
	return payment, nil
}

// Stats сводка по платежам для сотрудников
func (s *PaymentService) Stats(ctx context.Context, id domain.Identity) (domain.PaymentStats, error) {
	if !id.Staff {
		return domain.PaymentStats{}, fmt.Errorf("%w: staff only", domain.ErrPermissionDenied)
	}
	return s.store.Payments.Stats(ctx)
}

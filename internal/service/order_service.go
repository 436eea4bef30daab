package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// checkoutAttempts bounds retries on order number collisions.
const checkoutAttempts = 3

// OrderService реализует логику заказов: оформление из корзины, отмена, смена статуса
type OrderService struct {
	store   *repository.Store
	carts   *CartService
	locks   *KeyedMutex
	log     *slog.Logger
	metrics Recorder
	topics  Topics
	now     func() time.Time
}

func NewOrderService(d Deps, carts *CartService) *OrderService {
	d = d.withDefaults()
	return &OrderService{
		store:   d.Store,
		carts:   carts,
		locks:   d.Locks,
		log:     d.Log,
		metrics: d.Metrics,
		topics:  d.Topics,
		now:     d.Now,
	}
}

// errOrderNumberTaken: сгенерированный номер заказа уже занят, попытку можно повторить
var errOrderNumberTaken = errors.New("order number already taken")

// CreateFromCart переносит корзину пользователя в новый заказ и списывает остатки атомарно
func (s *OrderService) CreateFromCart(ctx context.Context, id domain.Identity, shippingAddress string) (*domain.Order, error) {
	if id.Anonymous() {
		return nil, fmt.Errorf("%w: checkout requires an authenticated user", domain.ErrPermissionDenied)
	}
	shippingAddress = strings.TrimSpace(shippingAddress)
	if shippingAddress == "" {
		return nil, domain.Validationf("shipping address is required")
	}

	unlock := s.locks.Lock(identityKeys(id)...)
	defer unlock()

	var (
		order *domain.Order
		stale []int64
		err   error
	)
	for attempt := 1; attempt <= checkoutAttempts; attempt++ {
		order, stale, err = s.checkout(ctx, id, shippingAddress)
		if !errors.Is(err, errOrderNumberTaken) {
			break
		}
		s.log.WarnContext(ctx, "order number collision, retrying", slog.Int("attempt", attempt))
	}
	s.metrics.CheckoutResult(checkoutResult(err))
	switch {
	case errors.Is(err, errOrderNumberTaken):
		return nil, fmt.Errorf("%w: could not allocate order number", domain.ErrConflict)
	case errors.Is(err, repository.ErrDuplicate):
		return nil, fmt.Errorf("%w: concurrent cart update, try again", domain.ErrConflict)
	case err != nil:
		return nil, err
	}
	s.carts.invalidate(stale...)
	s.log.InfoContext(ctx, "order created",
		slog.Int64("order_id", order.ID), slog.String("order_number", order.OrderNumber),
		slog.Int64("user_id", order.UserID), slog.String("total", order.TotalAmount.StringFixed(2)))
	return order, nil
}

func (s *OrderService) checkout(ctx context.Context, id domain.Identity, shippingAddress string) (*domain.Order, []int64, error) {
	var (
		created *domain.Order
		stale   []int64
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		cart, touched, err := s.carts.resolve(ctx, id)
		if err != nil {
			return err
		}
		items, err := s.store.Carts.Items(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return domain.ErrEmptyCart
		}
		// fixed lock order across concurrent checkouts
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			p, err := s.store.Products.GetForUpdate(ctx, it.ProductID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: product %d no longer exists", domain.ErrInvalidProduct, it.ProductID)
			}
			if err != nil {
				return err
			}
			if !p.Active {
				return fmt.Errorf("%w: %q is no longer available", domain.ErrInvalidProduct, p.Name)
			}
			if it.Quantity > p.Stock {
				return domain.InsufficientStock(*p, it.Quantity)
			}
		}

		cart.Items = items
		o := domain.NewOrderFromCart(*cart, id.UserID, shippingAddress, domain.NewOrderNumber(), s.now())
		if err := s.store.Orders.Create(ctx, &o); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: %s", errOrderNumberTaken, o.OrderNumber)
			}
			return err
		}
		for _, it := range items {
			if err := s.store.Products.AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
				return err
			}
		}
		if err := s.store.Carts.ClearItems(ctx, cart.ID); err != nil {
			return err
		}
		if err := s.orderEvent(ctx, o, domain.EventOrderCreated); err != nil {
			return err
		}
		created, stale = &o, append(touched, cart.ID)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, stale, nil
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidProduct):
		return "invalid_product"
	}
	return "error"
}

// Get возвращает заказ владельцу или сотруднику; чужой заказ не существует для вызывающего
func (s *OrderService) Get(ctx context.Context, id domain.Identity, orderID int64) (*domain.Order, error) {
	o, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(id) {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

// List: сотрудник видит все заказы, пользователь только свои
func (s *OrderService) List(ctx context.Context, id domain.Identity) ([]domain.Order, error) {
	switch {
	case id.Staff:
		return s.store.Orders.List(ctx, repository.OrderFilter{})
	case id.Anonymous():
		return nil, fmt.Errorf("%w: orders require an authenticated user", domain.ErrPermissionDenied)
	}
	return s.store.Orders.List(ctx, repository.OrderFilter{UserID: id.UserID})
}

// Cancel отменяет заказ в статусе pending/processing и возвращает товар на склад
func (s *OrderService) Cancel(ctx context.Context, id domain.Identity, orderID int64) (*domain.Order, error) {
	return s.cancel(ctx, id, orderID, false)
}

func (s *OrderService) cancel(ctx context.Context, id domain.Identity, orderID int64, pendingOnly bool) (*domain.Order, error) {
	var (
		order      *domain.Order
		paymentCxl bool
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.OwnedBy(id) {
			return domain.ErrNotFound
		}
		if pendingOnly && o.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled", domain.ErrInvalidTransition)
		}
		if paymentCxl, err = s.cancelLocked(ctx, o, "order cancelled"); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if paymentCxl {
		s.metrics.PaymentTransition(string(domain.PaymentStatusCancelled))
	}
	s.log.InfoContext(ctx, "order cancelled", slog.Int64("order_id", order.ID), slog.String("order_number", order.OrderNumber))
	return order, nil
}

// cancelLocked restores stock, cancels a pending payment and records the events.
// It must run inside a transaction holding the order row.
func (s *OrderService) cancelLocked(ctx context.Context, o *domain.Order, reason string) (paymentCancelled bool, err error) {
	if !o.Status.Cancellable() {
		return false, domain.OrderTransitionError(o.Status, domain.OrderStatusCancelled)
	}
	items := append([]domain.OrderItem(nil), o.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	for _, it := range items {
		if err := s.store.Products.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
			return false, fmt.Errorf("restore stock for product %d: %w", it.ProductID, err)
		}
	}
	o.Status = domain.OrderStatusCancelled
	if err := s.store.Orders.UpdateStatus(ctx, o); err != nil {
		return false, err
	}

	p, err := s.store.Payments.GetByOrderID(ctx, o.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return false, err
	case p.Status == domain.PaymentStatusPending:
		entry, err := p.Cancel(reason, s.now())
		if err != nil {
			return false, err
		}
		if err := s.savePayment(ctx, p, &entry, domain.EventPaymentCancelled); err != nil {
			return false, err
		}
		paymentCancelled = true
	}
	return paymentCancelled, s.orderEvent(ctx, *o, domain.EventOrderCancelled)
}

// UpdateStatus переводит заказ по таблице переходов. Сотрудник может любой
// допустимый переход, владелец только отменить заказ в статусе pending
func (s *OrderService) UpdateStatus(ctx context.Context, id domain.Identity, orderID int64, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, domain.Validationf("unknown order status %q", next)
	}
	if !id.Staff {
		if id.Anonymous() || next != domain.OrderStatusCancelled {
			return nil, fmt.Errorf("%w: customers can only cancel pending orders", domain.ErrPermissionDenied)
		}
		return s.cancel(ctx, id, orderID, true)
	}
	if next == domain.OrderStatusCancelled {
		return s.Cancel(ctx, id, orderID)
	}

	var order *domain.Order
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.CanTransitionTo(next) {
			return domain.OrderTransitionError(o.Status, next)
		}
		o.Status = next
		if err := s.store.Orders.UpdateStatus(ctx, o); err != nil {
			return err
		}
		if err := s.orderEvent(ctx, *o, domain.EventOrderStatusChanged); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Stats сводка по заказам для сотрудников
func (s *OrderService) Stats(ctx context.Context, id domain.Identity) (domain.OrderStats, error) {
	if !id.Staff {
		return domain.OrderStats{}, fmt.Errorf("%w: staff only", domain.ErrPermissionDenied)
	}
	return s.store.Orders.Stats(ctx)
}

func (s *OrderService) orderEvent(ctx context.Context, o domain.Order, eventType string) error {
	return appendEvent(ctx, s.store.Outbox, s.topics.Orders, strconv.FormatInt(o.ID, 10), eventType,
		domain.OrderEventPayload(o), s.now())
}

// savePayment persists a payment transition with its audit entry and event.
func (s *OrderService) savePayment(ctx context.Context, p *domain.Payment, entry *domain.PaymentTransaction, eventType string) error {
	if err := s.store.Payments.Update(ctx, p); err != nil {
		return err
	}
	if err := s.store.Payments.AppendTransaction(ctx, entry); err != nil {
		return err
	}
	return appendEvent(ctx, s.store.Outbox, s.topics.Payments, strconv.FormatInt(p.ID, 10), eventType,
		domain.PaymentEventPayload(*p), s.now())
}

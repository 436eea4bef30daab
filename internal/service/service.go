package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

// Recorder бизнес-метрики; *metrics.Metrics удовлетворяет интерфейсу
type Recorder interface {
	CheckoutResult(result string)
	PaymentTransition(status string)
	RefundedAmount(currency string, amount decimal.Decimal)
}

type nopRecorder struct{}

func (nopRecorder) CheckoutResult(string)                   {}
func (nopRecorder) PaymentTransition(string)                {}
func (nopRecorder) RefundedAmount(string, decimal.Decimal) {}

// Topics топики outbox-событий
type Topics struct {
	Orders   string
	Payments string
}

// Deps общие зависимости сервисов
type Deps struct {
	Store           *repository.Store
	Cache           cache.CartCache
	Locks           *KeyedMutex
	Log             *slog.Logger
	Metrics         Recorder
	Topics          Topics
	DefaultCurrency string
	Now             func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = cache.NopCache{}
	}
	if d.Locks == nil {
		d.Locks = NewKeyedMutex()
	}
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Topics.Orders == "" {
		d.Topics.Orders = "storefront.orders"
	}
	if d.Topics.Payments == "" {
		d.Topics.Payments = "storefront.payments"
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = domain.DefaultCurrency
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// Services все сервисы приложения поверх одного набора зависимостей
type Services struct {
	Products *ProductService
	Carts    *CartService
	Orders   *OrderService
	Payments *PaymentService
}

func New(d Deps) *Services {
	d = d.withDefaults()
	carts := NewCartService(d)
	orders := NewOrderService(d, carts)
	return &Services{
		Products: NewProductService(d.Store.Products),
		Carts:    carts,
		Orders:   orders,
		Payments: NewPaymentService(d, orders),
	}
}

// identityKeys lock keys for an identity, user first.
func identityKeys(id domain.Identity) []string {
	keys := make([]string, 0, 2)
	if id.UserID != 0 {
		keys = append(keys, domain.UserOwner(id.UserID).LockKey())
	}
	if id.SessionKey != "" {
		keys = append(keys, domain.SessionOwner(id.SessionKey).LockKey())
	}
	return keys
}

func appendEvent(ctx context.Context, outbox repository.OutboxRepository, topic, key, eventType string,
	payload map[string]any, now time.Time) error {
	ev, err := domain.NewOutboxEvent(topic, key, eventType, payload, now)
	if err != nil {
		return err
	}
	return outbox.Append(ctx, &ev)
}

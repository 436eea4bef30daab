package repository

import (
	"context"
	"errors"

	"storefront/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = domain.ErrNotFound

// ErrDuplicate возвращается при нарушении уникальности
var ErrDuplicate = errors.New("duplicate")

// ProductFilter параметры выборки товаров
type ProductFilter struct {
	ActiveOnly bool
}

// ProductRepository интерфейс репозитория товаров
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	List(ctx context.Context, f ProductFilter) ([]domain.Product, error)
	// AdjustStock adds delta to stock; it fails with domain.ErrInsufficientStock
	// instead of letting stock go negative.
	AdjustStock(ctx context.Context, id int64, delta int64) error
}

// CartRepository интерфейс репозитория корзин. Find/Lock return the cart without items.
type CartRepository interface {
	FindActive(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	Create(ctx context.Context, c *domain.Cart) error
	Lock(ctx context.Context, id int64) (*domain.Cart, error)
	Update(ctx context.Context, c *domain.Cart) error
	Items(ctx context.Context, cartID int64) ([]domain.CartItem, error)
	SaveItem(ctx context.Context, it *domain.CartItem) error
	DeleteItem(ctx context.Context, cartID, productID int64) error
	ClearItems(ctx context.Context, cartID int64) error
}

// OrderFilter ограничивает список заказов одним пользователем
type OrderFilter struct {
	UserID int64
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	// Create stores the order with its items; ErrDuplicate on order number clash.
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	List(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, o *domain.Order) error
	Stats(ctx context.Context) (domain.OrderStats, error)
}

// PaymentRepository интерфейс репозитория платежей и их журнала
type PaymentRepository interface {
	// Create fails with ErrDuplicate when the order already has a payment.
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
	AppendTransaction(ctx context.Context, t *domain.PaymentTransaction) error
	ListTransactions(ctx context.Context, paymentID int64) ([]domain.PaymentTransaction, error)
	Stats(ctx context.Context) (domain.PaymentStats, error)
}

// OutboxRepository очередь исходящих событий
type OutboxRepository interface {
	Append(ctx context.Context, ev *domain.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
}

// TxManager абстракция транзакции. Вложенный вызов присоединяется к внешней транзакции.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store набор репозиториев одного хранилища
type Store struct {
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Payments PaymentRepository
	Outbox   OutboxRepository
	Tx       TxManager

	close func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

// runStoreContract проверяет одинаковое поведение всех реализаций Store
func runStoreContract(t *testing.T, newStore func(t *testing.T) *Store) {
	t.Run("products", func(t *testing.T) { contractProducts(t, newStore(t)) })
	t.Run("carts", func(t *testing.T) { contractCarts(t, newStore(t)) })
	t.Run("orders", func(t *testing.T) { contractOrders(t, newStore(t)) })
	t.Run("payments", func(t *testing.T) { contractPayments(t, newStore(t)) })
	t.Run("outbox", func(t *testing.T) { contractOutbox(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { contractRollback(t, newStore(t)) })
}

func seedProduct(t *testing.T, s *Store, sku string, price string, stock int64) domain.Product {
	t.Helper()
	p := domain.Product{SKU: sku, Name: "Product " + sku, Price: decimal.RequireFromString(price), Stock: stock, Active: true}
	require.NoError(t, s.Products.Create(context.Background(), &p))
	return p
}

func contractProducts(t *testing.T, s *Store) {
	ctx := context.Background()
	a := seedProduct(t, s, "A", "10.50", 3)
	b := seedProduct(t, s, "B", "1.00", 0)

	got, err := s.Products.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.SKU)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("10.5")))

	_, err = s.Products.GetByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)

	dup := domain.Product{SKU: "A", Name: "dup", Price: decimal.NewFromInt(1)}
	assert.ErrorIs(t, s.Products.Create(ctx, &dup), ErrDuplicate)

	require.NoError(t, s.Products.AdjustStock(ctx, a.ID, -3))
	err = s.Products.AdjustStock(ctx, a.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	got, _ = s.Products.GetByID(ctx, a.ID)
	assert.Equal(t, int64(0), got.Stock)
	assert.ErrorIs(t, s.Products.AdjustStock(ctx, 4242, 1), ErrNotFound)

	b.Active = false
	require.NoError(t, s.Products.Update(ctx, &b))
	all, err := s.Products.List(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	active, err := s.Products.List(ctx, ProductFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func contractCarts(t *testing.T, s *Store) {
	ctx := context.Background()
	p := seedProduct(t, s, "A", "2.50", 10)

	_, err := s.Carts.FindActive(ctx, domain.UserOwner(1))
	assert.ErrorIs(t, err, ErrNotFound)

	c := domain.Cart{Owner: domain.UserOwner(1), Active: true}
	require.NoError(t, s.Carts.Create(ctx, &c))
	assert.NotZero(t, c.ID)

	second := domain.Cart{Owner: domain.UserOwner(1), Active: true}
	assert.ErrorIs(t, s.Carts.Create(ctx, &second), ErrDuplicate)

	anon := domain.Cart{Owner: domain.SessionOwner("sess-1"), Active: true}
	require.NoError(t, s.Carts.Create(ctx, &anon))

	found, err := s.Carts.FindActive(ctx, domain.UserOwner(1))
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	it := domain.CartItem{CartID: c.ID, ProductID: p.ID, UnitPrice: p.Price}
	it.SetQuantity(2)
	require.NoError(t, s.Carts.SaveItem(ctx, &it))
	assert.NotZero(t, it.ID)

	again := domain.CartItem{CartID: c.ID, ProductID: p.ID, UnitPrice: p.Price}
	again.SetQuantity(1)
	assert.ErrorIs(t, s.Carts.SaveItem(ctx, &again), ErrDuplicate)

	it.SetQuantity(4)
	require.NoError(t, s.Carts.SaveItem(ctx, &it))
	items, err := s.Carts.Items(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(4), items[0].Quantity)
	assert.True(t, items[0].Subtotal.Equal(decimal.NewFromInt(10)))

	assert.ErrorIs(t, s.Carts.DeleteItem(ctx, c.ID, 4242), ErrNotFound)
	require.NoError(t, s.Carts.DeleteItem(ctx, c.ID, p.ID))
	items, _ = s.Carts.Items(ctx, c.ID)
	assert.Empty(t, items)

	// deactivated carts free the owner slot
	anon.Active = false
	require.NoError(t, s.Carts.Update(ctx, &anon))
	_, err = s.Carts.FindActive(ctx, domain.SessionOwner("sess-1"))
	assert.ErrorIs(t, err, ErrNotFound)
	fresh := domain.Cart{Owner: domain.SessionOwner("sess-1"), Active: true}
	require.NoError(t, s.Carts.Create(ctx, &fresh))

	locked, err := s.Carts.Lock(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, locked.Active)
	assert.Equal(t, "sess-1", locked.Owner.SessionKey)

	it2 := domain.CartItem{CartID: fresh.ID, ProductID: p.ID, UnitPrice: p.Price}
	it2.SetQuantity(1)
	require.NoError(t, s.Carts.SaveItem(ctx, &it2))
	require.NoError(t, s.Carts.ClearItems(ctx, fresh.ID))
	items, _ = s.Carts.Items(ctx, fresh.ID)
	assert.Empty(t, items)
}

func newOrder(number string, userID int64, p domain.Product, qty int64) domain.Order {
	sub := p.Price.Mul(decimal.NewFromInt(qty))
	return domain.Order{
		OrderNumber:     number,
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     sub,
		ShippingAddress: "Main st 1",
		Items:           []domain.OrderItem{{ProductID: p.ID, Quantity: qty, UnitPrice: p.Price, Subtotal: sub}},
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}

func contractOrders(t *testing.T, s *Store) {
	ctx := context.Background()
	p := seedProduct(t, s, "A", "5.00", 10)

	o1 := newOrder("ORD-000000000001", 1, p, 2)
	require.NoError(t, s.Orders.Create(ctx, &o1))
	assert.NotZero(t, o1.ID)
	o2 := newOrder("ORD-000000000002", 2, p, 1)
	require.NoError(t, s.Orders.Create(ctx, &o2))

	dup := newOrder("ORD-000000000001", 3, p, 1)
	assert.ErrorIs(t, s.Orders.Create(ctx, &dup), ErrDuplicate)

	got, err := s.Orders.GetByID(ctx, o1.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(2), got.Items[0].Quantity)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(10)))

	mine, err := s.Orders.List(ctx, OrderFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, o1.ID, mine[0].ID)
	all, _ := s.Orders.List(ctx, OrderFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, o2.ID, all[0].ID)

	got.Status = domain.OrderStatusProcessing
	require.NoError(t, s.Orders.UpdateStatus(ctx, got))
	got, _ = s.Orders.GetForUpdate(ctx, o1.ID)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)

	st, err := s.Orders.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalOrders)
	assert.True(t, st.TotalSales.Equal(decimal.NewFromInt(15)), st.TotalSales.String())
	assert.Equal(t, int64(1), st.ByStatus[domain.OrderStatusProcessing])
	assert.Equal(t, int64(1), st.ByStatus[domain.OrderStatusPending])
}

func contractPayments(t *testing.T, s *Store) {
	ctx := context.Background()
	p := seedProduct(t, s, "A", "5.00", 10)
	o := newOrder("ORD-00000000000A", 1, p, 2)
	require.NoError(t, s.Orders.Create(ctx, &o))

	pay, err := domain.NewPayment(o, o.TotalAmount, "usd", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Payments.Create(ctx, &pay))
	assert.NotZero(t, pay.ID)

	second, _ := domain.NewPayment(o, o.TotalAmount, "usd", time.Now().UTC())
	assert.ErrorIs(t, s.Payments.Create(ctx, &second), ErrDuplicate)

	entry, err := pay.MarkSucceeded("TXN-1", nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Payments.Update(ctx, &pay))
	require.NoError(t, s.Payments.AppendTransaction(ctx, &entry))

	refund, err := pay.Refund(nil, "", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Payments.Update(ctx, &pay))
	require.NoError(t, s.Payments.AppendTransaction(ctx, &refund))

	got, err := s.Payments.GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, got.Status)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "TXN-1", got.TransactionID)
	assert.True(t, got.RefundedAmount.Equal(decimal.NewFromInt(10)))
	assert.NotNil(t, got.CapturedAt)

	log, err := s.Payments.ListTransactions(ctx, pay.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, domain.TransactionCapture, log[0].Kind)
	assert.Equal(t, domain.TransactionRefund, log[1].Kind)
	require.NotNil(t, log[1].Amount)
	assert.True(t, log[1].Amount.Equal(decimal.NewFromInt(10)))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(log[1].RawResponse, &raw))
	assert.Equal(t, "refund", raw["type"])

	st, err := s.Payments.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalPayments)
	assert.Equal(t, int64(1), st.ByStatus[domain.PaymentStatusRefunded])
	assert.InDelta(t, 100.0, st.SuccessRate, 0.001)

	_, err = s.Payments.GetByID(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func contractOutbox(t *testing.T, s *Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev := domain.OutboxEvent{EventID: "ev-" + string(rune('a'+i)), Topic: "shop.orders", Key: "1",
			EventType: "order.created", Payload: json.RawMessage(`{"order_id":1}`)}
		require.NoError(t, s.Outbox.Append(ctx, &ev))
	}
	pending, err := s.Outbox.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ev-a", pending[0].EventID)
	assert.JSONEq(t, `{"order_id":1}`, string(pending[0].Payload))

	require.NoError(t, s.Outbox.MarkSent(ctx, pending[0].ID))
	pending, _ = s.Outbox.FetchPending(ctx, 10)
	require.Len(t, pending, 2)
	assert.Equal(t, "ev-b", pending[0].EventID)
}

func contractRollback(t *testing.T, s *Store) {
	ctx := context.Background()
	p := seedProduct(t, s, "A", "1.00", 2)

	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.Products.AdjustStock(ctx, p.ID, -2); err != nil {
			return err
		}
		// second decrement must fail and undo the first
		return s.Products.AdjustStock(ctx, p.ID, -1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	got, _ := s.Products.GetByID(ctx, p.ID)
	assert.Equal(t, int64(2), got.Stock)
}

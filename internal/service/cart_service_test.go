package service

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

func TestCart_AddItem(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := seedProduct(t, svc, "SKU1", "10.00", 5)

	it, err := svc.Carts.AddItem(ctx, alice, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), it.Quantity)
	assert.True(t, it.Subtotal.Equal(decimal.RequireFromString("20.00")))

	// price change does not touch the snapshot
	p.Price = decimal.RequireFromString("12.00")
	_, err = svc.Products.Update(ctx, staff, *p)
	require.NoError(t, err)

	it, err = svc.Carts.AddItem(ctx, alice, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), it.Quantity)
	assert.True(t, it.UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, it.Subtotal.Equal(decimal.RequireFromString("30.00")))

	c, err := svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	require.Len(t, c.Items, 1, "same product must stay one line")
	assert.Equal(t, int64(3), c.TotalItems())
	assert.True(t, c.TotalAmount().Equal(decimal.RequireFromString("30.00")))
}

func TestCart_AddItem_Rejections(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p := seedProduct(t, svc, "SKU1", "10.00", 3)
	off := seedProduct(t, svc, "SKU2", "1.00", 3)
	off.Active = false
	_, err := svc.Products.Update(ctx, staff, *off)
	require.NoError(t, err)

	_, err = svc.Carts.AddItem(ctx, alice, p.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Carts.AddItem(ctx, alice, 404, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)

	_, err = svc.Carts.AddItem(ctx, alice, off.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)

	_, err = svc.Carts.AddItem(ctx, alice, p.ID, 2)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, alice, p.ID, 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	c, err := svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(2), c.Items[0].Quantity, "failed add must not change the cart")
}

func TestCart_UpdateRemoveClear(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	p1 := seedProduct(t, svc, "SKU1", "4.00", 10)
	p2 := seedProduct(t, svc, "SKU2", "1.50", 10)
	_, err := svc.Carts.AddItem(ctx, alice, p1.ID, 1)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, alice, p2.ID, 2)
	require.NoError(t, err)

	c, err := svc.Carts.UpdateItem(ctx, alice, p1.ID, 5)
	require.NoError(t, err)
	assert.True(t, c.TotalAmount().Equal(decimal.RequireFromString("23.00")))

	_, err = svc.Carts.UpdateItem(ctx, alice, p1.ID, 11)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	_, err = svc.Carts.UpdateItem(ctx, alice, p1.ID, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Carts.UpdateItem(ctx, bob, p1.ID, 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	c, err = svc.Carts.UpdateItem(ctx, alice, p2.ID, 0)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, p1.ID, c.Items[0].ProductID)

	_, err = svc.Carts.RemoveItem(ctx, alice, p2.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err = svc.Carts.RemoveItem(ctx, alice, p1.ID)
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	_, err = svc.Carts.AddItem(ctx, alice, p2.ID, 3)
	require.NoError(t, err)
	cleared, err := svc.Carts.Clear(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, cleared.Items)
	assert.True(t, cleared.Active)
	assert.Equal(t, c.ID, cleared.ID, "clear keeps the same cart")
}

func TestCart_Identity(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	_, err := svc.Carts.Current(ctx, domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Carts.Current(ctx, domain.Identity{SessionKey: strings.Repeat("k", domain.MaxSessionKeyLen+1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	guest, err := svc.Carts.Current(ctx, domain.Identity{SessionKey: "sess"})
	require.NoError(t, err)
	again, err := svc.Carts.Current(ctx, domain.Identity{SessionKey: "sess"})
	require.NoError(t, err)
	assert.Equal(t, guest.ID, again.ID)
	assert.Equal(t, "sess", guest.Owner.SessionKey)

	mine, err := svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	assert.NotEqual(t, guest.ID, mine.ID)
}

func TestCart_PromoteAnonymous(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	p := seedProduct(t, svc, "SKU1", "2.00", 5)
	guest := domain.Identity{SessionKey: "sess"}
	_, err := svc.Carts.AddItem(ctx, guest, p.ID, 2)
	require.NoError(t, err)
	anon, err := svc.Carts.Current(ctx, guest)
	require.NoError(t, err)

	c, err := svc.Carts.Current(ctx, domain.Identity{UserID: alice.UserID, SessionKey: guest.SessionKey})
	require.NoError(t, err)
	assert.Equal(t, anon.ID, c.ID, "anonymous cart is re-owned")
	assert.Equal(t, alice.UserID, c.Owner.UserID)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(2), c.Items[0].Quantity)

	_, err = store.Carts.FindActive(ctx, domain.SessionOwner(guest.SessionKey))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCart_MergeAnonymous(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	p1 := seedProduct(t, svc, "SKU1", "2.00", 4)
	p2 := seedProduct(t, svc, "SKU2", "3.00", 5)
	p3 := seedProduct(t, svc, "SKU3", "7.00", 5)
	guest := domain.Identity{SessionKey: "sess"}

	_, err := svc.Carts.AddItem(ctx, alice, p1.ID, 3)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, guest, p1.ID, 3)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, guest, p2.ID, 2)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, guest, p3.ID, 1)
	require.NoError(t, err)
	anon, err := svc.Carts.Current(ctx, guest)
	require.NoError(t, err)

	// sold out items are dropped on merge
	p3.Stock = 0
	_, err = svc.Products.Update(ctx, staff, *p3)
	require.NoError(t, err)

	c, err := svc.Carts.Current(ctx, domain.Identity{UserID: alice.UserID, SessionKey: guest.SessionKey})
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	line1, _ := c.Item(p1.ID)
	assert.Equal(t, int64(4), line1.Quantity, "quantities summed and capped at stock")
	line2, _ := c.Item(p2.ID)
	assert.Equal(t, int64(2), line2.Quantity)
	_, ok := c.Item(p3.ID)
	assert.False(t, ok)

	items, err := store.Carts.Items(ctx, anon.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = store.Carts.FindActive(ctx, domain.SessionOwner(guest.SessionKey))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCart_CurrentUsesCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rc := cache.NewRedisCache(client, time.Minute)

	svc, _ := setupWith(t, repository.NewMemory(), Deps{Cache: rc})
	p := seedProduct(t, svc, "SKU1", "5.00", 5)
	_, err := svc.Carts.AddItem(ctx, alice, p.ID, 1)
	require.NoError(t, err)

	c, err := svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	cached, err := rc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, cached.Items, 1)

	// mutation drops the cached view
	_, err = svc.Carts.AddItem(ctx, alice, p.ID, 1)
	require.NoError(t, err)
	_, err = rc.Get(ctx, c.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	c, err = svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Items[0].Quantity)

	// a broken cache never fails reads
	mr.Close()
	c, err = svc.Carts.Current(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Items[0].Quantity)
}

// gatedCarts holds Items until released and honours ctx cancellation afterwards.
type gatedCarts struct {
	repository.CartRepository
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCarts) Items(ctx context.Context, cartID int64) ([]domain.CartItem, error) {
	if g.block.Load() {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return g.CartRepository.Items(ctx, cartID)
}

func TestCart_CurrentSharedFillSurvivesCancelledCaller(t *testing.T) {
	store := repository.NewMemory()
	gated := &gatedCarts{CartRepository: store.Carts, entered: make(chan struct{}, 1), release: make(chan struct{})}
	store.Carts = gated
	svc, _ := setupWith(t, store, Deps{})
	p := seedProduct(t, svc, "SKU1", "5.00", 10)
	_, err := svc.Carts.AddItem(context.Background(), alice, p.ID, 2)
	require.NoError(t, err)

	gated.block.Store(true)
	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Carts.Current(first, alice)
		firstErr <- err
	}()
	<-gated.entered
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		cart *domain.Cart
		err  error
	}
	second := make(chan result, 1)
	go func() {
		c, err := svc.Carts.Current(context.Background(), alice)
		second <- result{c, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(gated.release)

	res := <-second
	require.NoError(t, res.err)
	require.Len(t, res.cart.Items, 1)
	assert.Equal(t, int64(2), res.cart.Items[0].Quantity)
}

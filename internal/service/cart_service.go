package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

const viewFillTimeout = 5 * time.Second

// CartService корзина пользователя или анонимной сессии
type CartService struct {
	store *repository.Store
	cache cache.CartCache
	locks *KeyedMutex
	log   *slog.Logger
	now   func() time.Time
	sfg   singleflight.Group // one cache fill per cart
}

func NewCartService(d Deps) *CartService {
	d = d.withDefaults()
	return &CartService{
		store: d.Store,
		cache: d.Cache,
		locks: d.Locks,
		log:   d.Log,
		now:   d.Now,
	}
}

// AddItem добавляет товар или увеличивает количество существующей позиции
func (s *CartService) AddItem(ctx context.Context, id domain.Identity, productID, quantity int64) (*domain.CartItem, error) {
	if quantity < 1 {
		return nil, domain.Validationf("quantity must be at least 1")
	}
	var added domain.CartItem
	_, err := s.mutate(ctx, id, func(ctx context.Context, c *domain.Cart, items []domain.CartItem) error {
		p, err := s.activeProduct(ctx, productID)
		if err != nil {
			return err
		}
		it, exists := (domain.Cart{Items: items}).Item(productID)
		if !exists {
			// price snapshot is taken once, on first add
			it = domain.CartItem{CartID: c.ID, ProductID: productID, UnitPrice: p.Price}
		}
		next := it.Quantity + quantity
		if next > p.Stock {
			return domain.InsufficientStock(*p, next)
		}
		it.SetQuantity(next)
		if err := s.store.Carts.SaveItem(ctx, &it); err != nil {
			return err
		}
		added = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// RemoveItem удаляет позицию
func (s *CartService) RemoveItem(ctx context.Context, id domain.Identity, productID int64) (*domain.Cart, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *domain.Cart, _ []domain.CartItem) error {
		err := s.store.Carts.DeleteItem(ctx, c.ID, productID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrItemNotFound
		}
		return err
	})
}

// UpdateItem задаёт количество; 0 удаляет позицию
func (s *CartService) UpdateItem(ctx context.Context, id domain.Identity, productID, quantity int64) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, domain.Validationf("quantity must not be negative")
	}
	return s.mutate(ctx, id, func(ctx context.Context, c *domain.Cart, items []domain.CartItem) error {
		it, ok := (domain.Cart{Items: items}).Item(productID)
		if !ok {
			return domain.ErrItemNotFound
		}
		if quantity == 0 {
			return s.store.Carts.DeleteItem(ctx, c.ID, productID)
		}
		p, err := s.store.Products.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		if quantity > p.Stock {
			return domain.InsufficientStock(*p, quantity)
		}
		it.SetQuantity(quantity)
		return s.store.Carts.SaveItem(ctx, &it)
	})
}

// Clear удаляет все позиции; корзина остаётся активной
func (s *CartService) Clear(ctx context.Context, id domain.Identity) (*domain.Cart, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *domain.Cart, _ []domain.CartItem) error {
		return s.store.Carts.ClearItems(ctx, c.ID)
	})
}

// Current возвращает корзину с позициями; позиции читаются через кэш
func (s *CartService) Current(ctx context.Context, id domain.Identity) (*domain.Cart, error) {
	unlock := s.locks.Lock(identityKeys(id)...)
	defer unlock()

	var (
		cart  *domain.Cart
		stale []int64
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, touched, err := s.resolve(ctx, id)
		if err != nil {
			return err
		}
		cart, stale = c, touched
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		s.invalidate(stale...)
	}
	return s.view(ctx, cart)
}

func (s *CartService) view(ctx context.Context, header *domain.Cart) (*domain.Cart, error) {
	ch := s.sfg.DoChan(strconv.FormatInt(header.ID, 10), func() (any, error) {
		// the fill is shared by all waiters and must outlive the first caller
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewFillTimeout)
		defer cancel()
		cached, err := s.cache.Get(ctx, header.ID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", slog.Int64("cart_id", header.ID), slog.Any("error", err))
		}

		items, err := s.store.Carts.Items(ctx, header.ID)
		if err != nil {
			return nil, err
		}
		fresh := *header
		fresh.Items = items
		if err := s.cache.Set(ctx, &fresh); err != nil {
			s.log.WarnContext(ctx, "cart cache set failed", slog.Int64("cart_id", header.ID), slog.Any("error", err))
		}
		return &fresh, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.(*domain.Cart)
	out := *shared
	out.Items = append([]domain.CartItem(nil), shared.Items...)
	return &out, nil
}

// mutate runs fn on the resolved cart under the identity lock and one transaction,
// then returns the cart with fresh items.
func (s *CartService) mutate(ctx context.Context, id domain.Identity,
	fn func(ctx context.Context, c *domain.Cart, items []domain.CartItem) error) (*domain.Cart, error) {
	unlock := s.locks.Lock(identityKeys(id)...)
	defer unlock()

	var (
		cart  *domain.Cart
		stale []int64
	)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		c, touched, err := s.resolve(ctx, id)
		if err != nil {
			return err
		}
		items, err := s.store.Carts.Items(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := fn(ctx, c, items); err != nil {
			return err
		}
		if c.Items, err = s.store.Carts.Items(ctx, c.ID); err != nil {
			return err
		}
		cart, stale = c, append(touched, c.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(stale...)
	return cart, nil
}

func (s *CartService) activeProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	p, err := s.store.Products.GetByID(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %d does not exist", domain.ErrInvalidProduct, productID)
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %q is not available", domain.ErrInvalidProduct, p.Name)
	}
	return p, nil
}

// resolve maps an identity onto its active cart, creating, promoting or merging
// carts as needed. Must run inside a transaction under the identity lock.
// The second result lists carts whose cached view became stale.
func (s *CartService) resolve(ctx context.Context, id domain.Identity) (*domain.Cart, []int64, error) {
	if id.Empty() {
		return nil, nil, domain.Validationf("missing identity")
	}
	if len(id.SessionKey) > domain.MaxSessionKeyLen {
		return nil, nil, domain.Validationf("session key longer than %d characters", domain.MaxSessionKeyLen)
	}
	if id.Anonymous() {
		c, err := s.findOrCreate(ctx, domain.SessionOwner(id.SessionKey))
		return c, nil, err
	}

	owner := domain.UserOwner(id.UserID)
	if id.SessionKey != "" {
		anon, err := s.store.Carts.FindActive(ctx, domain.SessionOwner(id.SessionKey))
		switch {
		case err == nil:
			return s.adopt(ctx, owner, anon)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, nil, err
		}
	}
	c, err := s.findOrCreate(ctx, owner)
	return c, nil, err
}

func (s *CartService) findOrCreate(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	c, err := s.store.Carts.FindActive(ctx, owner)
	if err == nil {
		return s.store.Carts.Lock(ctx, c.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	c = &domain.Cart{Owner: owner, Active: true}
	if err := s.store.Carts.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: cart for %s created concurrently", domain.ErrConflict, owner.LockKey())
		}
		return nil, err
	}
	return c, nil
}

// adopt promotes the anonymous cart to the user, or merges it into the user's cart.
func (s *CartService) adopt(ctx context.Context, owner domain.CartOwner, anon *domain.Cart) (*domain.Cart, []int64, error) {
	anon, err := s.store.Carts.Lock(ctx, anon.ID)
	if err != nil {
		return nil, nil, err
	}
	userCart, err := s.store.Carts.FindActive(ctx, owner)
	if errors.Is(err, repository.ErrNotFound) {
		anon.Owner = owner
		if err := s.store.Carts.Update(ctx, anon); err != nil {
			return nil, nil, err
		}
		s.log.InfoContext(ctx, "anonymous cart promoted", slog.Int64("cart_id", anon.ID), slog.Int64("user_id", owner.UserID))
		return anon, []int64{anon.ID}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if userCart, err = s.store.Carts.Lock(ctx, userCart.ID); err != nil {
		return nil, nil, err
	}
	if err := s.merge(ctx, userCart, anon); err != nil {
		return nil, nil, err
	}
	return userCart, []int64{anon.ID, userCart.ID}, nil
}

func (s *CartService) merge(ctx context.Context, into, from *domain.Cart) error {
	fromItems, err := s.store.Carts.Items(ctx, from.ID)
	if err != nil {
		return err
	}
	intoItems, err := s.store.Carts.Items(ctx, into.ID)
	if err != nil {
		return err
	}
	target := domain.Cart{Items: intoItems}

	for _, src := range fromItems {
		p, err := s.store.Products.GetByID(ctx, src.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !p.Active || p.Stock == 0 {
			continue
		}
		it, exists := target.Item(src.ProductID)
		if !exists {
			it = domain.CartItem{CartID: into.ID, ProductID: src.ProductID, UnitPrice: src.UnitPrice}
		}
		qty := it.Quantity + src.Quantity
		if qty > p.Stock {
			qty = p.Stock
		}
		if qty <= it.Quantity {
			continue
		}
		it.SetQuantity(qty)
		if err := s.store.Carts.SaveItem(ctx, &it); err != nil {
			return err
		}
	}

	if err := s.store.Carts.ClearItems(ctx, from.ID); err != nil {
		return err
	}
	from.Active = false
	if err := s.store.Carts.Update(ctx, from); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "anonymous cart merged",
		slog.Int64("cart_id", into.ID), slog.Int64("merged_cart_id", from.ID), slog.Int("items", len(fromItems)))
	return nil
}

// invalidate drops cached views after commit; cache errors are logged only.
func (s *CartService) invalidate(cartIDs ...int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, cartIDs...); err != nil {
		s.log.Warn("cart cache invalidate failed", slog.Any("cart_ids", cartIDs), slog.Any("error", err))
	}
}

package cache

import (
	"context"
	"errors"

	"storefront/internal/domain"
)

// CartCache кэш представления корзины (с позициями) по ID корзины
type CartCache interface {
	Get(ctx context.Context, cartID int64) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, cartIDs ...int64) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache всегда промахивается; используется без REDIS_ADDR
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *domain.Cart) error          { return nil }
func (NopCache) Delete(context.Context, ...int64) error           { return nil }

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/domain"
)

// SQLCarts CartRepository на database/sql
type SQLCarts struct{ s *SQLStore }

const cartColumns = `id, user_id, session_key, is_active, created_at, updated_at`

func scanCart(r rowScanner) (*domain.Cart, error) {
	var (
		c       domain.Cart
		userID  sql.NullInt64
		session sql.NullString
	)
	if err := r.Scan(&c.ID, &userID, &session, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	c.Owner = domain.CartOwner{UserID: userID.Int64, SessionKey: session.String}
	return &c, nil
}

func ownerArgs(o domain.CartOwner) (any, any) {
	var userID, session any
	if o.UserID != 0 {
		userID = o.UserID
	}
	if o.SessionKey != "" {
		session = o.SessionKey
	}
	return userID, session
}

func (r *SQLCarts) FindActive(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	var row *sql.Row
	if owner.UserID != 0 {
		row = r.s.q(ctx).QueryRowContext(ctx,
			`SELECT `+cartColumns+` FROM carts WHERE is_active = TRUE AND user_id = $1`, owner.UserID)
	} else {
		row = r.s.q(ctx).QueryRowContext(ctx,
			`SELECT `+cartColumns+` FROM carts WHERE is_active = TRUE AND session_key = $1`, owner.SessionKey)
	}
	return scanCart(row)
}

func (r *SQLCarts) Create(ctx context.Context, c *domain.Cart) error {
	ts := time.Now().UTC()
	userID, session := ownerArgs(c.Owner)
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO carts (user_id, session_key, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		userID, session, c.Active, ts, ts).Scan(&c.ID)
	if err != nil {
		return classify(fmt.Errorf("insert cart: %w", err))
	}
	c.CreatedAt, c.UpdatedAt = ts, ts
	return nil
}

func (r *SQLCarts) Lock(ctx context.Context, id int64) (*domain.Cart, error) {
	return scanCart(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`+r.s.forUpdate(), id))
}

func (r *SQLCarts) Update(ctx context.Context, c *domain.Cart) error {
	ts := time.Now().UTC()
	userID, session := ownerArgs(c.Owner)
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE carts SET user_id = $1, session_key = $2, is_active = $3, updated_at = $4 WHERE id = $5`,
		userID, session, c.Active, ts, c.ID)
	if err != nil {
		return classify(fmt.Errorf("update cart: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	c.UpdatedAt = ts
	return nil
}

func (r *SQLCarts) Items(ctx context.Context, cartID int64) ([]domain.CartItem, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT id, cart_id, product_id, quantity, unit_price, subtotal, added_at, updated_at
		 FROM cart_items WHERE cart_id = $1 ORDER BY id`, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CartItem, 0)
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal,
			&it.AddedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *SQLCarts) SaveItem(ctx context.Context, it *domain.CartItem) error {
	ts := time.Now().UTC()
	if it.ID == 0 {
		err := r.s.q(ctx).QueryRowContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity, unit_price, subtotal, added_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			it.CartID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal, ts, ts).Scan(&it.ID)
		if err != nil {
			return classify(fmt.Errorf("insert cart item: %w", err))
		}
		it.AddedAt, it.UpdatedAt = ts, ts
		return nil
	}
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, unit_price = $2, subtotal = $3, updated_at = $4 WHERE id = $5`,
		it.Quantity, it.UnitPrice, it.Subtotal, ts, it.ID)
	if err != nil {
		return classify(fmt.Errorf("update cart item: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	it.UpdatedAt = ts
	return nil
}

func (r *SQLCarts) DeleteItem(ctx context.Context, cartID, productID int64) error {
	res, err := r.s.q(ctx).ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLCarts) ClearItems(ctx context.Context, cartID int64) error {
	if _, err := r.s.q(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

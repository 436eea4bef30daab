package repository

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain"
)

// SQLProducts ProductRepository на database/sql
type SQLProducts struct{ s *SQLStore }

const productColumns = `id, sku, name, price, stock, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(r rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := r.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *SQLProducts) Create(ctx context.Context, p *domain.Product) error {
	ts := time.Now().UTC()
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO products (sku, name, price, stock, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.SKU, p.Name, p.Price, p.Stock, p.Active, ts, ts).Scan(&p.ID)
	if err != nil {
		return classify(fmt.Errorf("insert product: %w", err))
	}
	p.CreatedAt, p.UpdatedAt = ts, ts
	return nil
}

func (r *SQLProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	return scanProduct(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *SQLProducts) GetForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	return scanProduct(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`+r.s.forUpdate(), id))
}

func (r *SQLProducts) Update(ctx context.Context, p *domain.Product) error {
	ts := time.Now().UTC()
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE products SET sku = $1, name = $2, price = $3, stock = $4, is_active = $5, updated_at = $6 WHERE id = $7`,
		p.SKU, p.Name, p.Price, p.Stock, p.Active, ts, p.ID)
	if err != nil {
		return classify(fmt.Errorf("update product: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	p.UpdatedAt = ts
	return nil
}

func (r *SQLProducts) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if f.ActiveOnly {
		query += ` WHERE is_active = TRUE`
	}
	rows, err := r.s.q(ctx).QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AdjustStock is a single guarded UPDATE so stock never goes below zero.
func (r *SQLProducts) AdjustStock(ctx context.Context, id int64, delta int64) error {
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE products SET stock = stock + $1, updated_at = $2 WHERE id = $3 AND stock + $1 >= 0`,
		delta, time.Now().UTC(), id)
	if err != nil {
		return classify(fmt.Errorf("adjust stock: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.InsufficientStock(*p, -delta)
}

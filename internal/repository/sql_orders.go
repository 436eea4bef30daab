package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// SQLOrders OrderRepository на database/sql
type SQLOrders struct{ s *SQLStore }

const orderColumns = `id, order_number, user_id, status, total_amount, shipping_address, created_at, updated_at`

func scanOrder(r rowScanner) (*domain.Order, error) {
	var o domain.Order
	if err := r.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.TotalAmount, &o.ShippingAddress,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *SQLOrders) Create(ctx context.Context, o *domain.Order) error {
	return r.s.WithTransaction(ctx, func(ctx context.Context) error {
		q := r.s.q(ctx)
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
			o.UpdatedAt = o.CreatedAt
		}
		err := q.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, status, total_amount, shipping_address, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			o.OrderNumber, o.UserID, o.Status, o.TotalAmount, o.ShippingAddress, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
		if err != nil {
			return classify(fmt.Errorf("insert order: %w", err))
		}
		for i := range o.Items {
			it := &o.Items[i]
			err := q.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
				 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal).Scan(&it.ID)
			if err != nil {
				return classify(fmt.Errorf("insert order item: %w", err))
			}
		}
		return nil
	})
}

func (r *SQLOrders) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT id, product_id, quantity, unit_price, subtotal FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	o.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *SQLOrders) get(ctx context.Context, id int64, suffix string) (*domain.Order, error) {
	o, err := scanOrder(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *SQLOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r *SQLOrders) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, id, r.s.forUpdate())
}

func (r *SQLOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if f.UserID != 0 {
		query += ` WHERE user_id = $1`
		args = append(args, f.UserID)
	}
	rows, err := r.s.q(ctx).QueryContext(ctx, query+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	// items are loaded after the cursor is closed; sqlite has a single connection
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLOrders) UpdateStatus(ctx context.Context, o *domain.Order) error {
	ts := time.Now().UTC()
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, o.Status, ts, o.ID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	o.UpdatedAt = ts
	return nil
}

func (r *SQLOrders) Stats(ctx context.Context) (domain.OrderStats, error) {
	st := domain.OrderStats{TotalSales: decimal.Zero, ByStatus: make(map[domain.OrderStatus]int64)}
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0) FROM orders GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("query order stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status domain.OrderStatus
			n      int64
			sum    decimal.Decimal
		)
		if err := rows.Scan(&status, &n, &sum); err != nil {
			return st, fmt.Errorf("scan order stats: %w", err)
		}
		st.ByStatus[status] = n
		st.TotalOrders += n
		st.TotalSales = st.TotalSales.Add(sum)
	}
	// sqlite sums TEXT decimals as REAL
	st.TotalSales = st.TotalSales.Round(2)
	return st, rows.Err()
}

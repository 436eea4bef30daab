package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// SQLPayments PaymentRepository на database/sql
type SQLPayments struct{ s *SQLStore }

const paymentColumns = `id, order_id, amount, currency, status, transaction_id, refunded_amount, captured_at, created_at, updated_at`

func scanPayment(r rowScanner) (*domain.Payment, error) {
	var (
		p        domain.Payment
		txID     sql.NullString
		captured sql.NullTime
	)
	if err := r.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status, &txID, &p.RefundedAmount,
		&captured, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p.TransactionID = txID.String
	p.CapturedAt = timePtr(captured)
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *SQLPayments) Create(ctx context.Context, p *domain.Payment) error {
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO payments (order_id, amount, currency, status, transaction_id, refunded_amount, captured_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.OrderID, p.Amount, p.Currency, p.Status, nullString(p.TransactionID), p.RefundedAmount,
		nullTime(p.CapturedAt), p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return classify(fmt.Errorf("insert payment: %w", err))
	}
	return nil
}

func (r *SQLPayments) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *SQLPayments) GetForUpdate(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`+r.s.forUpdate(), id))
}

func (r *SQLPayments) GetByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error) {
	return scanPayment(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`+r.s.forUpdate(), orderID))
}

func (r *SQLPayments) Update(ctx context.Context, p *domain.Payment) error {
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE payments SET status = $1, transaction_id = $2, refunded_amount = $3, captured_at = $4, updated_at = $5
		 WHERE id = $6`,
		p.Status, nullString(p.TransactionID), p.RefundedAmount, nullTime(p.CapturedAt), p.UpdatedAt, p.ID)
	if err != nil {
		return classify(fmt.Errorf("update payment: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLPayments) AppendTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	amount := decimal.NullDecimal{}
	if t.Amount != nil {
		amount = decimal.NewNullDecimal(*t.Amount)
	}
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO payment_transactions (payment_id, kind, success, amount, raw_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.PaymentID, t.Kind, t.Success, amount, nullJSON(t.RawResponse), t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return classify(fmt.Errorf("insert payment transaction: %w", err))
	}
	return nil
}

func (r *SQLPayments) ListTransactions(ctx context.Context, paymentID int64) ([]domain.PaymentTransaction, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT id, payment_id, kind, success, amount, raw_response, created_at
		 FROM payment_transactions WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query payment transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PaymentTransaction, 0)
	for rows.Next() {
		var (
			t      domain.PaymentTransaction
			amount decimal.NullDecimal
			raw    []byte
		)
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.Kind, &t.Success, &amount, &raw, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment transaction: %w", err)
		}
		if amount.Valid {
			v := amount.Decimal
			t.Amount = &v
		}
		if len(raw) > 0 {
			t.RawResponse = raw
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLPayments) Stats(ctx context.Context) (domain.PaymentStats, error) {
	st := domain.PaymentStats{TotalAmount: decimal.Zero, ByStatus: make(map[domain.PaymentStatus]int64)}
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM payments GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("query payment stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status domain.PaymentStatus
			n      int64
			sum    decimal.Decimal
		)
		if err := rows.Scan(&status, &n, &sum); err != nil {
			return st, fmt.Errorf("scan payment stats: %w", err)
		}
		st.ByStatus[status] = n
		st.TotalPayments += n
		st.TotalAmount = st.TotalAmount.Add(sum)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	st.TotalAmount = st.TotalAmount.Round(2)
	st.SuccessRate = successRate(st)
	return st, nil
}

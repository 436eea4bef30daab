package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/domain"
)

// SQLOutbox OutboxRepository на database/sql
type SQLOutbox struct{ s *SQLStore }

func (r *SQLOutbox) Append(ctx context.Context, ev *domain.OutboxEvent) error {
	ev.CreatedAt = time.Now().UTC()
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO outbox (event_id, topic, key, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		ev.EventID, ev.Topic, ev.Key, ev.EventType, string(ev.Payload), ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return classify(fmt.Errorf("insert outbox: %w", err))
	}
	return nil
}

func (r *SQLOutbox) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT id, event_id, topic, key, event_type, payload, created_at, sent_at
		 FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	out := make([]domain.OutboxEvent, 0)
	for rows.Next() {
		var (
			ev      domain.OutboxEvent
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Topic, &ev.Key, &ev.EventType, &payload, &ev.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		ev.Payload = payload
		ev.SentAt = timePtr(sentAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *SQLOutbox) MarkSent(ctx context.Context, id int64) error {
	res, err := r.s.q(ctx).ExecContext(ctx, `UPDATE outbox SET sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Counter считает опубликованные события по типу
type Counter interface {
	EventPublished(eventType string)
}

type OutboxPoller struct {
	repo     repository.OutboxRepository
	writer   MessageWriter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	interval time.Duration
	batch    int
	log      *slog.Logger
	counter  Counter
}

type Option func(*OutboxPoller)

func WithInterval(d time.Duration) Option {
	return func(p *OutboxPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *OutboxPoller) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithCounter(c Counter) Option {
	return func(p *OutboxPoller) { p.counter = c }
}

// WithBreakerSettings overrides the breaker; Name is kept.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(p *OutboxPoller) {
		st.Name = "outbox-publisher"
		p.breaker = gobreaker.NewCircuitBreaker[struct{}](st)
	}
}

func NewOutboxPoller(repo repository.OutboxRepository, writer MessageWriter, log *slog.Logger, opts ...Option) *OutboxPoller {
	p := &OutboxPoller{
		repo:     repo,
		writer:   writer,
		interval: DefaultInterval,
		batch:    DefaultBatchSize,
		log:      log,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("outbox poll failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessOnce публикует одну пачку событий по порядку. На первой ошибке пачка
// прерывается, чтобы события одного ключа не обгоняли друг друга.
func (p *OutboxPoller) ProcessOnce(ctx context.Context) (int, error) {
	events, err := p.repo.FetchPending(ctx, p.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if err := p.publish(ctx, ev); err != nil {
			if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
				p.log.Warn("failed to publish event", slog.Int64("outbox_id", ev.ID), slog.Any("error", err))
			}
			return sent, err
		}
		if err := p.repo.MarkSent(ctx, ev.ID); err != nil {
			p.log.Error("failed to mark event as sent", slog.Int64("outbox_id", ev.ID), slog.Any("error", err))
			return sent, err
		}
		if p.counter != nil {
			p.counter.EventPublished(ev.EventType)
		}
		sent++
	}
	return sent, nil
}

func (p *OutboxPoller) publish(ctx context.Context, ev domain.OutboxEvent) error {
	msg := kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(ev.Key),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "event_id", Value: []byte(ev.EventID)},
		},
		Time: ev.CreatedAt,
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	return err
}

// State текущее состояние предохранителя
func (p *OutboxPoller) State() gobreaker.State {
	return p.breaker.State()
}

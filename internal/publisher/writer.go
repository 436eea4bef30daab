package publisher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// MessageWriter то, что нужно поллеру от kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaWriter пишет в топик, указанный в каждом сообщении
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewWriter returns a kafka writer, or a LogWriter when no brokers are configured.
func NewWriter(brokers []string, log *slog.Logger) MessageWriter {
	if len(brokers) == 0 {
		return &LogWriter{log: log}
	}
	return NewKafkaWriter(brokers)
}

// LogWriter "публикует" события в лог; используется без брокера
type LogWriter struct {
	log *slog.Logger
}

func NewLogWriter(log *slog.Logger) *LogWriter { return &LogWriter{log: log} }

func (w *LogWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		w.log.InfoContext(ctx, "event published",
			slog.String("topic", m.Topic),
			slog.String("key", string(m.Key)),
			slog.String("event_type", header(m, "event_type")),
			slog.String("payload", string(m.Value)))
	}
	return nil
}

func (w *LogWriter) Close() error { return nil }

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

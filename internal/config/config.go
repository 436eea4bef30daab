package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"storefront/internal/domain"
	"storefront/internal/publisher"
	"storefront/internal/repository"
)

// Storage backend names
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config вся конфигурация процесса
type Config struct {
	HTTPAddr        string
	Storage         string
	Postgres        repository.Credentials
	SQLitePath      string
	RedisAddr       string
	CartCacheTTL    time.Duration
	KafkaBrokers    []string
	TopicPrefix     string
	OutboxInterval  time.Duration
	OutboxBatch     int
	DefaultCurrency string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	GinMode         string
}

// OrdersTopic и PaymentsTopic: топики событий заказов и платежей
func (c Config) OrdersTopic() string   { return c.TopicPrefix + ".orders" }
func (c Config) PaymentsTopic() string { return c.TopicPrefix + ".payments" }

// Flags флаги CLI; у каждого есть переменная окружения
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "http-addr", Value: ":9091", EnvVars: []string{"HTTP_ADDR"}, Usage: "listen address"},
		&cli.StringFlag{Name: "storage", Value: StorageMemory, EnvVars: []string{"STORAGE"}, Usage: "memory|postgres|sqlite"},
		&cli.StringFlag{Name: "db-host", Value: "localhost", EnvVars: []string{"DB_HOST"}},
		&cli.IntFlag{Name: "db-port", Value: 5432, EnvVars: []string{"DB_PORT"}},
		&cli.StringFlag{Name: "db-user", Value: "postgres", EnvVars: []string{"DB_USER"}},
		&cli.StringFlag{Name: "db-password", Value: "postgres", EnvVars: []string{"DB_PASSWORD"}},
		&cli.StringFlag{Name: "db-name", Value: "storefront", EnvVars: []string{"DB_NAME"}},
		&cli.StringFlag{Name: "sqlite-path", Value: "storefront.db", EnvVars: []string{"SQLITE_PATH"}},
		&cli.StringFlag{Name: "redis-addr", EnvVars: []string{"REDIS_ADDR"}, Usage: "empty disables the cart cache"},
		&cli.DurationFlag{Name: "cart-cache-ttl", Value: 15 * time.Minute, EnvVars: []string{"CART_CACHE_TTL"}},
		&cli.StringFlag{Name: "kafka-brokers", EnvVars: []string{"KAFKA_BROKERS"}, Usage: "comma separated; empty logs events instead"},
		&cli.StringFlag{Name: "kafka-topic-prefix", Value: "storefront", EnvVars: []string{"KAFKA_TOPIC_PREFIX"}},
		&cli.DurationFlag{Name: "outbox-interval", Value: publisher.DefaultInterval, EnvVars: []string{"OUTBOX_INTERVAL"}},
		&cli.IntFlag{Name: "outbox-batch", Value: publisher.DefaultBatchSize, EnvVars: []string{"OUTBOX_BATCH"}},
		&cli.StringFlag{Name: "default-currency", Value: domain.DefaultCurrency, EnvVars: []string{"DEFAULT_CURRENCY"}},
		&cli.DurationFlag{Name: "request-timeout", Value: 10 * time.Second, EnvVars: []string{"REQUEST_TIMEOUT"}},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: 5 * time.Second, EnvVars: []string{"SHUTDOWN_TIMEOUT"}},
		&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Value: "json", EnvVars: []string{"LOG_FORMAT"}, Usage: "json|text"},
		&cli.StringFlag{Name: "gin-mode", Value: "release", EnvVars: []string{"GIN_MODE"}},
	}
}

// FromContext читает флаги и проверяет значения
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		HTTPAddr: c.String("http-addr"),
		Storage:  strings.ToLower(c.String("storage")),
		Postgres: repository.Credentials{
			Host:     c.String("db-host"),
			Port:     c.Int("db-port"),
			User:     c.String("db-user"),
			Password: c.String("db-password"),
			DBName:   c.String("db-name"),
		},
		SQLitePath:      c.String("sqlite-path"),
		RedisAddr:       c.String("redis-addr"),
		CartCacheTTL:    c.Duration("cart-cache-ttl"),
		KafkaBrokers:    publisher.ParseBrokers(c.String("kafka-brokers")),
		TopicPrefix:     c.String("kafka-topic-prefix"),
		OutboxInterval:  c.Duration("outbox-interval"),
		OutboxBatch:     c.Int("outbox-batch"),
		DefaultCurrency: strings.ToUpper(c.String("default-currency")),
		RequestTimeout:  c.Duration("request-timeout"),
		ShutdownTimeout: c.Duration("shutdown-timeout"),
		LogLevel:        c.String("log-level"),
		LogFormat:       c.String("log-format"),
		GinMode:         c.String("gin-mode"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("default currency must be a 3-letter code, got %q", c.DefaultCurrency)
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("kafka topic prefix must not be empty")
	}
	if c.OutboxBatch <= 0 {
		return fmt.Errorf("outbox batch must be positive")
	}
	return nil
}

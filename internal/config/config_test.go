package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runWith(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var (
		cfg Config
		err error
	)
	app := &cli.App{
		Name:  "test",
		Flags: Flags(),
		Action: func(c *cli.Context) error {
			cfg, err = FromContext(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return cfg, err
}

func TestDefaults(t *testing.T) {
	cfg, err := runWith(t)
	require.NoError(t, err)
	assert.Equal(t, ":9091", cfg.HTTPAddr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "storefront.orders", cfg.OrdersTopic())
	assert.Equal(t, "storefront.payments", cfg.PaymentsTopic())
	assert.Equal(t, 15*time.Minute, cfg.CartCacheTTL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORAGE", "POSTGRES")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("OUTBOX_INTERVAL", "250ms")

	cfg, err := runWith(t)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "EUR", cfg.DefaultCurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxInterval)
}

func TestValidate(t *testing.T) {
	_, err := runWith(t, "--storage", "mongo")
	assert.ErrorContains(t, err, "unknown storage")

	_, err = runWith(t, "--default-currency", "EURO")
	assert.ErrorContains(t, err, "currency")

	_, err = runWith(t, "--outbox-batch", "0")
	assert.ErrorContains(t, err, "outbox batch")
}

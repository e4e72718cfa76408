package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vladislavdragonenkov/ordering/internal/messaging/kafka"
	httpsvc "github.com/vladislavdragonenkov/ordering/internal/service/http"
)

// EnvPrefix — префикс всех переменных окружения сервиса.
const EnvPrefix = "ORDERING_"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки запуска приложения.
// Структура сравнима по значению, поэтому списки (брокеры Kafka) хранятся строкой через запятую.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"`

	StorageDriver       string `env:"STORAGE_DRIVER"`
	PostgresDSN         string `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"POSTGRES_AUTO_MIGRATE"`
	SQLitePath          string `env:"SQLITE_PATH"`

	KafkaBrokers  string `env:"KAFKA_BROKERS"`
	KafkaClientID string `env:"KAFKA_CLIENT_ID"`
	KafkaTopic    string `env:"KAFKA_TOPIC"`
	KafkaDLQTopic string `env:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `env:"OUTBOX_RETRY_DELAY"`
	OutboxMaxPending   int           `env:"OUTBOX_MAX_PENDING"`

	IdempotencyTTL              time.Duration `env:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval  time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `env:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`

	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8000",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SQLitePath:          "ordering.db",

		KafkaClientID: "ordering-service",
		KafkaTopic:    kafka.TopicOrderingEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		MaxBodyBytes:    httpsvc.DefaultMaxBodyBytes,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig накладывает переменные окружения ORDERING_* на DefaultConfig и валидирует результат.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек, включая требования выбранного драйвера.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory, StorageDriverSQLite:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%sPOSTGRES_DSN is required for postgres storage", EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval must be positive"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup batch size must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	return errors.Join(errs...)
}

// kafkaBrokerList разбирает список брокеров, пропуская пустые элементы.
func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

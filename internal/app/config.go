package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/messaging/kafka"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoData        bool

	KafkaBrokers      []string
	KafkaClientID     string
	KafkaOrderTopic   string
	KafkaPricingTopic string
	KafkaDLQTopic     string
	KafkaGroupID      string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	OTLPEndpoint     string
	TraceSampleRatio float64
	ServiceName      string
	Environment      string

	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних систем.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID:     "ledger-service",
		KafkaOrderTopic:   kafka.TopicOrderEvents,
		KafkaPricingTopic: kafka.TopicPricingEvents,
		KafkaDLQTopic:     kafka.TopicDeadLetterQueue,
		KafkaGroupID:      "ledger-pricing",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,

		TraceSampleRatio: 1,
		ServiceName:      "ledger-service",
		Environment:      "development",

		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  30 * time.Second,
	}
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("LEDGER_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("trace sample ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// ConfigFromEnv накладывает переменные LEDGER_* на DefaultConfig.
// getenv обычно os.Getenv; nil означает os.Getenv.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := DefaultConfig()
	p := envParser{getenv: getenv}

	p.str("LEDGER_HTTP_ADDR", &cfg.HTTPAddr)
	p.str("LEDGER_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("LEDGER_METRICS_ADDR", &cfg.MetricsAddr)

	p.str("LEDGER_STORAGE_DRIVER", &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	p.str("LEDGER_POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("LEDGER_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	p.boolean("LEDGER_SEED_DEMO_DATA", &cfg.SeedDemoData)

	if raw := strings.TrimSpace(getenv("LEDGER_KAFKA_BROKERS")); raw != "" {
		cfg.KafkaBrokers = splitList(raw)
	}
	p.str("LEDGER_KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	p.str("LEDGER_KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	p.str("LEDGER_KAFKA_PRICING_TOPIC", &cfg.KafkaPricingTopic)
	p.str("LEDGER_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	p.str("LEDGER_KAFKA_GROUP_ID", &cfg.KafkaGroupID)

	p.duration("LEDGER_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("LEDGER_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.integer("LEDGER_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	p.duration("LEDGER_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	p.str("LEDGER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	p.float("LEDGER_TRACE_SAMPLE_RATIO", &cfg.TraceSampleRatio)
	p.str("LEDGER_SERVICE_NAME", &cfg.ServiceName)
	p.str("LEDGER_ENVIRONMENT", &cfg.Environment)

	p.duration("LEDGER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	p.duration("LEDGER_REQUEST_TIMEOUT", &cfg.RequestTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envParser копит ошибки разбора, чтобы сообщить обо всех сразу.
type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) lookup(key string) (string, bool) {
	raw := strings.TrimSpace(p.getenv(key))
	return raw, raw != ""
}

func (p *envParser) str(key string, dst *string) {
	if raw, ok := p.lookup(key); ok {
		*dst = raw
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	raw, ok := p.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid bool %q", key, raw))
		return
	}
	*dst = v
}

func (p *envParser) integer(key string, dst *int) {
	raw, ok := p.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return
	}
	*dst = v
}

func (p *envParser) float(key string, dst *float64) {
	raw, ok := p.lookup(key)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return
	}
	*dst = v
}

func (p *envParser) duration(key string, dst *time.Duration) {
	raw, ok := p.lookup(key)
	if !ok {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return
	}
	*dst = v
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

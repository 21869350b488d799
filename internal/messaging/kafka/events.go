package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

// Topics по умолчанию.
const (
	TopicOrderEvents     = "ledger.order.events"
	TopicPricingEvents   = "ledger.pricing.events"
	TopicDeadLetterQueue = "ledger.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — формат сообщения, которое outbox publisher кладёт в topic событий заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PriceChangedEvent — внешнее событие изменения цены товара.
type PriceChangedEvent struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	ChangedAt time.Time       `json:"changed_at,omitempty"`
}

// DeadLetter — содержимое сообщения, отправленного consumer в DLQ.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}

// ErrMalformedEvent — тело сообщения не удалось разобрать.
var ErrMalformedEvent = errors.New("malformed event")

// ParseOutboxEnvelope разбирает сообщение topic событий заказов.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OutboxEnvelope{}, fmt.Errorf("%w: outbox envelope: %w", ErrMalformedEvent, err)
	}
	return envelope, nil
}

// ParsePriceChangedEvent разбирает событие изменения цены.
func ParsePriceChangedEvent(message *sarama.ConsumerMessage) (PriceChangedEvent, error) {
	var event PriceChangedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return PriceChangedEvent{}, fmt.Errorf("%w: price changed: %w", ErrMalformedEvent, err)
	}
	if event.ProductID == "" {
		return PriceChangedEvent{}, fmt.Errorf("%w: price changed: product_id is empty", ErrMalformedEvent)
	}
	return event, nil
}
